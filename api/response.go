package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"hiringflow/hiring"
)

// errorBody is the wire shape for every failure: callers map errorType to
// user copy rather than parse the message.
type errorBody struct {
	ErrorType string `json:"errorType"`
	Message   string `json:"message"`
}

// writeError translates the domain error taxonomy to HTTP.
func writeError(c echo.Context, err error) error {
	kind := hiring.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case hiring.KindValidation:
		status = http.StatusBadRequest
	case hiring.KindInvalidTransition, hiring.KindConcurrentModification:
		status = http.StatusConflict
	case hiring.KindPaymentByDeliverables:
		status = http.StatusUnprocessableEntity
	case hiring.KindGatewayFailure:
		status = http.StatusBadGateway
	case hiring.KindNotFound:
		status = http.StatusNotFound
	default:
		kind = "internal_error"
	}
	return c.JSON(status, errorBody{ErrorType: string(kind), Message: err.Error()})
}

type deliverableResponse struct {
	ID                    string     `json:"id"`
	Title                 string     `json:"title"`
	Description           string     `json:"description,omitempty"`
	Price                 int64      `json:"price"`
	EstimatedDeliveryDate *time.Time `json:"estimatedDeliveryDate,omitempty"`
	Status                string     `json:"status"`
	OrderIndex            int        `json:"orderIndex"`
}

type breakdownResponse struct {
	Modality      string                `json:"modality"`
	Total         int64                 `json:"total"`
	InitialAmount int64                 `json:"initialAmount,omitempty"`
	FinalAmount   int64                 `json:"finalAmount,omitempty"`
	Deliverables  []deliverableResponse `json:"deliverables,omitempty"`
}

type hiringResponse struct {
	ID                     string                `json:"id"`
	ServiceID              string                `json:"serviceId"`
	ClientID               string                `json:"clientId"`
	ProviderID             string                `json:"providerId"`
	Status                 string                `json:"status"`
	Description            string                `json:"description"`
	NegotiationDescription *string               `json:"negotiationDescription,omitempty"`
	QuotedPrice            *int64                `json:"quotedPrice,omitempty"`
	EstimatedHours         *int                  `json:"estimatedHours,omitempty"`
	EstimatedTimeUnit      *hiring.TimeUnit      `json:"estimatedTimeUnit,omitempty"`
	QuotationValidityDays  *int                  `json:"quotationValidityDays,omitempty"`
	QuotedAt               *time.Time            `json:"quotedAt,omitempty"`
	Modality               string                `json:"paymentModality"`
	Deliverables           []deliverableResponse `json:"deliverables,omitempty"`
	AvailableActions       []hiring.Action       `json:"availableActions"`
	VigencyStatus          string                `json:"vigencyStatus"`
	Breakdown              *breakdownResponse    `json:"paymentBreakdown,omitempty"`
	CreatedAt              time.Time             `json:"createdAt"`
	UpdatedAt              time.Time             `json:"updatedAt"`
}

type contractResponse struct {
	Hiring   hiringResponse `json:"hiring"`
	IntentID string         `json:"intentId"`
	Redirect string         `json:"redirectUrl"`
}

func toHiringResponse(v hiring.View) hiringResponse {
	h := v.Hiring
	resp := hiringResponse{
		ID:                     h.ID,
		ServiceID:              h.ServiceID,
		ClientID:               h.ClientID,
		ProviderID:             h.ProviderID,
		Status:                 string(h.Status),
		Description:            h.Description,
		NegotiationDescription: h.NegotiationDescription,
		QuotedPrice:            h.QuotedPrice,
		EstimatedHours:         h.EstimatedHours,
		EstimatedTimeUnit:      h.EstimatedTimeUnit,
		QuotationValidityDays:  h.QuotationValidityDays,
		QuotedAt:               h.QuotedAt,
		Modality:               string(h.Modality),
		AvailableActions:       v.AvailableActions,
		VigencyStatus:          string(v.Vigency),
		CreatedAt:              h.CreatedAt,
		UpdatedAt:              h.UpdatedAt,
	}
	if resp.AvailableActions == nil {
		resp.AvailableActions = []hiring.Action{}
	}
	for _, d := range h.Deliverables {
		resp.Deliverables = append(resp.Deliverables, toDeliverableResponse(d))
	}
	if v.Breakdown != nil {
		b := breakdownResponse{
			Modality:      string(v.Breakdown.Modality),
			Total:         v.Breakdown.Total,
			InitialAmount: v.Breakdown.InitialAmount,
			FinalAmount:   v.Breakdown.FinalAmount,
		}
		for _, dp := range v.Breakdown.Deliverables {
			b.Deliverables = append(b.Deliverables, deliverableResponse{
				ID:         dp.DeliverableID,
				Title:      dp.Title,
				Price:      dp.Price,
				Status:     string(dp.Status),
				OrderIndex: dp.OrderIndex,
			})
		}
		resp.Breakdown = &b
	}
	return resp
}

func toDeliverableResponse(d hiring.Deliverable) deliverableResponse {
	return deliverableResponse{
		ID:                    d.ID,
		Title:                 d.Title,
		Description:           d.Description,
		Price:                 d.Price,
		EstimatedDeliveryDate: d.EstimatedDeliveryDate,
		Status:                string(d.Status),
		OrderIndex:            d.OrderIndex,
	}
}

func toContractResponse(result hiring.ContractResult) contractResponse {
	return contractResponse{
		Hiring:   toHiringResponse(result.View),
		IntentID: result.Intent.ID,
		Redirect: result.Intent.RedirectURL,
	}
}
