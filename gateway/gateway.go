// Package gateway holds the payment-gateway boundary. Only the decision to
// invoke the gateway and its synchronous outcome live in this module; the
// redirect itself is external.
package gateway

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
)

// RedirectRequest asks the gateway to prepare a checkout redirect for one
// installment of a hiring.
type RedirectRequest struct {
	HiringID      string
	PayerID       string
	Amount        int64 // cents
	PaymentMethod string
}

// RedirectIntent is the handle returned to the caller, who drives the
// redirect. The core never awaits the payment result here; it arrives later
// as a gateway callback.
type RedirectIntent struct {
	ID          string
	HiringID    string
	Amount      int64
	RedirectURL string
}

// Gateway is the external payment provider contract.
type Gateway interface {
	CreateRedirect(ctx context.Context, req RedirectRequest) (RedirectIntent, error)
}

// RedirectBuilder is a gateway client that composes checkout URLs against a
// configured base endpoint. It performs no network round trip of its own:
// the hosted checkout page does the collection.
type RedirectBuilder struct {
	baseURL string
	logger  *log.Logger
}

// NewRedirectBuilder creates a Gateway pointed at the provider's checkout
// endpoint.
func NewRedirectBuilder(baseURL string, logger *log.Logger) *RedirectBuilder {
	return &RedirectBuilder{baseURL: baseURL, logger: logger}
}

func (g *RedirectBuilder) CreateRedirect(_ context.Context, req RedirectRequest) (RedirectIntent, error) {
	if g.baseURL == "" {
		return RedirectIntent{}, fmt.Errorf("gateway: checkout base url not configured")
	}
	if req.Amount <= 0 {
		return RedirectIntent{}, fmt.Errorf("gateway: non-positive amount %d", req.Amount)
	}

	intent := RedirectIntent{
		ID:       uuid.NewString(),
		HiringID: req.HiringID,
		Amount:   req.Amount,
	}
	intent.RedirectURL = fmt.Sprintf("%s/checkout?intent=%s&hiring=%s&amount=%d&method=%s",
		g.baseURL, intent.ID, req.HiringID, req.Amount, req.PaymentMethod)

	if g.logger != nil {
		g.logger.Printf("gateway: prepared redirect %s for hiring %s (%d cents)", intent.ID, req.HiringID, req.Amount)
	}
	return intent, nil
}
