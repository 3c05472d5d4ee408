package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"hiringflow/auth"
	"hiringflow/hiring"
)

func (s *Server) handleRegister(c echo.Context) error {
	var req auth.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{ErrorType: "validation_error", Message: "malformed body"})
	}
	user, err := s.users.Register(c.Request().Context(), req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, auth.ErrDuplicateEmail) {
			status = http.StatusConflict
		}
		return c.JSON(status, errorBody{ErrorType: "validation_error", Message: err.Error()})
	}
	return c.JSON(http.StatusCreated, echo.Map{"id": user.ID, "email": user.Email, "role": user.Role})
}

func (s *Server) handleLogin(c echo.Context) error {
	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{ErrorType: "validation_error", Message: "malformed body"})
	}
	result, err := s.users.Login(c.Request().Context(), req)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorBody{ErrorType: "unauthorized", Message: "invalid credentials"})
	}
	return c.JSON(http.StatusOK, echo.Map{"token": result.Token, "role": result.User.Role})
}

type createHiringRequest struct {
	ServiceID   string `json:"serviceId"`
	Description string `json:"description"`
}

func (s *Server) handleCreateHiring(c echo.Context) error {
	var req createHiringRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{ErrorType: "validation_error", Message: "malformed body"})
	}
	actor := actorFrom(c)
	view, err := s.hirings.Create(c.Request().Context(), req.ServiceID, actor.ID, req.Description)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, toHiringResponse(view))
}

func (s *Server) handleListHirings(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	views, err := s.hirings.List(c.Request().Context(), actorFrom(c), limit)
	if err != nil {
		return writeError(c, err)
	}
	items := make([]hiringResponse, 0, len(views))
	for _, v := range views {
		items = append(items, toHiringResponse(v))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items, "total": len(items)})
}

func (s *Server) handleGetHiring(c echo.Context) error {
	view, err := s.hirings.Get(c.Request().Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toHiringResponse(view))
}

// action builds a handler for the payload-free transitions.
func (s *Server) action(a hiring.Action) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		id := c.Param("id")
		actor := actorFrom(c)

		var (
			view hiring.View
			err  error
		)
		switch a {
		case hiring.ActionAccept:
			view, err = s.hirings.Accept(ctx, id, actor)
		case hiring.ActionReject:
			view, err = s.hirings.Reject(ctx, id, actor)
		case hiring.ActionCancel:
			view, err = s.hirings.Cancel(ctx, id, actor)
		case hiring.ActionRequote:
			view, err = s.hirings.Requote(ctx, id, actor)
		case hiring.ActionStart:
			view, err = s.hirings.Start(ctx, id, actor)
		case hiring.ActionDeliver:
			view, err = s.hirings.Deliver(ctx, id, actor)
		case hiring.ActionRequestRevision:
			view, err = s.hirings.RequestRevision(ctx, id, actor)
		case hiring.ActionApproveDelivery:
			view, err = s.hirings.ApproveDelivery(ctx, id, actor)
		default:
			return c.JSON(http.StatusNotFound, errorBody{ErrorType: "not_found", Message: "unknown action"})
		}
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, toHiringResponse(view))
	}
}

type negotiateRequest struct {
	NegotiationDescription *string `json:"negotiationDescription"`
}

func (s *Server) handleNegotiate(c echo.Context) error {
	var req negotiateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{ErrorType: "validation_error", Message: "malformed body"})
	}
	view, err := s.hirings.Negotiate(c.Request().Context(), c.Param("id"), actorFrom(c), req.NegotiationDescription)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toHiringResponse(view))
}

type contractRequest struct {
	PaymentMethod string `json:"paymentMethod"`
}

func (s *Server) handleContract(c echo.Context) error {
	var req contractRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{ErrorType: "validation_error", Message: "malformed body"})
	}
	result, err := s.hirings.Contract(c.Request().Context(), c.Param("id"), actorFrom(c), req.PaymentMethod)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toContractResponse(result))
}

type quoteDeliverable struct {
	Title                 string     `json:"title"`
	Description           string     `json:"description"`
	Price                 int64      `json:"price"`
	EstimatedDeliveryDate *time.Time `json:"estimatedDeliveryDate"`
}

type submitQuoteRequest struct {
	QuotedPrice           *int64             `json:"quotedPrice"`
	EstimatedHours        *int               `json:"estimatedHours"`
	EstimatedTimeUnit     *hiring.TimeUnit   `json:"estimatedTimeUnit"`
	QuotationValidityDays *int               `json:"quotationValidityDays"`
	InitialPct            int                `json:"initialPct"`
	FinalPct              int                `json:"finalPct"`
	Deliverables          []quoteDeliverable `json:"deliverables"`
}

func (s *Server) handleSubmitQuote(c echo.Context) error {
	var req submitQuoteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{ErrorType: "validation_error", Message: "malformed body"})
	}
	quote := hiring.QuoteParams{
		QuotedPrice:           req.QuotedPrice,
		EstimatedHours:        req.EstimatedHours,
		EstimatedTimeUnit:     req.EstimatedTimeUnit,
		QuotationValidityDays: req.QuotationValidityDays,
		InitialPct:            req.InitialPct,
		FinalPct:              req.FinalPct,
	}
	for _, d := range req.Deliverables {
		quote.Deliverables = append(quote.Deliverables, hiring.Deliverable{
			Title:                 d.Title,
			Description:           d.Description,
			Price:                 d.Price,
			EstimatedDeliveryDate: d.EstimatedDeliveryDate,
		})
	}
	view, err := s.hirings.SubmitQuote(c.Request().Context(), c.Param("id"), actorFrom(c), quote)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toHiringResponse(view))
}

func (s *Server) handleOpenClaim(c echo.Context) error {
	view, err := s.hirings.OpenClaim(c.Request().Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toHiringResponse(view))
}

type resolveClaimRequest struct {
	Resolution string `json:"resolution"`
}

func (s *Server) handleResolveClaim(c echo.Context) error {
	var req resolveClaimRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{ErrorType: "validation_error", Message: "malformed body"})
	}
	view, err := s.hirings.ResolveClaim(c.Request().Context(), c.Param("id"), actorFrom(c), hiring.Action(req.Resolution))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toHiringResponse(view))
}

type moveDeliverableRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleMoveDeliverable(c echo.Context) error {
	var req moveDeliverableRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{ErrorType: "validation_error", Message: "malformed body"})
	}
	view, err := s.hirings.MoveDeliverable(
		c.Request().Context(),
		c.Param("id"),
		c.Param("deliverableId"),
		actorFrom(c),
		hiring.DeliverableStatus(req.Status),
	)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toHiringResponse(view))
}

type gatewayCallbackRequest struct {
	HiringID  string `json:"hiringId"`
	EventID   string `json:"eventId"`
	Succeeded bool   `json:"succeeded"`
}

func (s *Server) handleGatewayCallback(c echo.Context) error {
	var req gatewayCallbackRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{ErrorType: "validation_error", Message: "malformed body"})
	}
	view, err := s.hirings.HandleGatewayCallback(c.Request().Context(), req.HiringID, req.EventID, req.Succeeded)
	if err != nil {
		return writeError(c, err)
	}
	s.logger.Printf("api: gateway callback for hiring %s applied (succeeded=%t)", req.HiringID, req.Succeeded)
	return c.JSON(http.StatusOK, toHiringResponse(view))
}
