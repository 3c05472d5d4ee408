package api

import (
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"hiringflow/auth"
	"hiringflow/hiring"
)

// Server wires the HTTP surface to the domain services.
type Server struct {
	hirings *hiring.Service
	users   *auth.Service
	logger  *log.Logger
}

// NewServer builds the API server.
func NewServer(hirings *hiring.Service, users *auth.Service, logger *log.Logger) *Server {
	return &Server{hirings: hirings, users: users, logger: logger}
}

// Routes assembles the echo engine with all routes registered.
func (s *Server) Routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.POST("/api/auth/register", s.handleRegister)
	e.POST("/api/auth/login", s.handleLogin)

	// Gateway callbacks authenticate via the provider's webhook contract,
	// not a user token.
	e.POST("/api/payments/callback", s.handleGatewayCallback)

	h := e.Group("/api/hirings", s.requireUser)
	h.POST("", s.handleCreateHiring)
	h.GET("", s.handleListHirings)
	h.GET("/:id", s.handleGetHiring)
	h.POST("/:id/accept", s.action(hiring.ActionAccept))
	h.POST("/:id/reject", s.action(hiring.ActionReject))
	h.POST("/:id/cancel", s.action(hiring.ActionCancel))
	h.POST("/:id/requote", s.action(hiring.ActionRequote))
	h.POST("/:id/negotiate", s.handleNegotiate)
	h.POST("/:id/contract", s.handleContract)
	h.POST("/:id/quote", s.handleSubmitQuote)
	h.POST("/:id/start", s.action(hiring.ActionStart))
	h.POST("/:id/deliver", s.action(hiring.ActionDeliver))
	h.POST("/:id/revision", s.action(hiring.ActionRequestRevision))
	h.POST("/:id/approve", s.action(hiring.ActionApproveDelivery))
	h.POST("/:id/claim", s.handleOpenClaim)
	h.POST("/:id/claim/resolve", s.handleResolveClaim)
	h.POST("/:id/deliverables/:deliverableId", s.handleMoveDeliverable)

	return e
}

// requireUser extracts the bearer token, verifies it and stashes the actor
// on the request context.
func (s *Server) requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return c.JSON(http.StatusUnauthorized, errorBody{ErrorType: "unauthorized", Message: "missing bearer token"})
		}
		userID, role, err := s.users.VerifyToken(token)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorBody{ErrorType: "unauthorized", Message: "invalid token"})
		}
		c.Set("user_id", userID)
		c.Set("role", role)
		return next(c)
	}
}

// actorFrom rebuilds the domain actor from the values the middleware set.
func actorFrom(c echo.Context) hiring.Actor {
	userID, _ := c.Get("user_id").(string)
	role, _ := c.Get("role").(auth.Role)
	return hiring.Actor{ID: userID, Role: hiring.Role(role)}
}
