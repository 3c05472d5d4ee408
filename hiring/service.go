package hiring

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"hiringflow/gateway"
)

// Service is the transition executor: every mutation of a hiring record
// flows through it. It consults the authorizer, applies the guarded write
// through the store and hands back the authoritative view.
type Service struct {
	store       Store
	gateway     gateway.Gateway
	idGenerator func() string
	now         func() time.Time
}

// NewService builds the hiring service around a record store and a payment
// gateway client.
func NewService(store Store, gw gateway.Gateway) *Service {
	return &Service{
		store:       store,
		gateway:     gw,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

// WithIDGenerator overrides id generation, for tests.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// view recomputes every derived field for a record. Available actions and
// vigency are never persisted, so this runs on every read and after every
// write.
func (s *Service) view(rec ServiceHiring, actor Actor) View {
	return View{
		Hiring:           rec,
		AvailableActions: ActionsForActor(rec, actor, s.now()),
		Vigency:          Vigency(rec, s.now()),
		Breakdown:        ResolveBreakdown(rec),
	}
}

// Create opens a new negotiation attempt in pending status.
func (s *Service) Create(ctx context.Context, serviceID, clientID, description string) (View, error) {
	description = strings.TrimSpace(description)
	if len(description) < minDescriptionLen {
		return View{}, NewValidationError("description must be at least %d characters", minDescriptionLen)
	}
	if serviceID == "" || clientID == "" {
		return View{}, NewValidationError("service id and client id are required")
	}

	rec, err := s.store.Create(ctx, CreateParams{
		ID:          s.idGenerator(),
		ServiceID:   serviceID,
		ClientID:    clientID,
		Description: description,
	})
	if err != nil {
		return View{}, err
	}
	return s.view(rec, Actor{ID: clientID, Role: RoleClient}), nil
}

// Get returns the record with derived fields recomputed for the actor.
func (s *Service) Get(ctx context.Context, id string, actor Actor) (View, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return View{}, err
	}
	return s.view(rec, actor), nil
}

// List returns the actor's hirings with derived fields recomputed per record.
func (s *Service) List(ctx context.Context, actor Actor, limit int) ([]View, error) {
	recs, err := s.store.ListFor(ctx, actor, limit)
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(recs))
	for _, rec := range recs {
		views = append(views, s.view(rec, actor))
	}
	return views, nil
}

// apply is the single path for every transition: load, authorize against
// the freshly derived action set, write with compare-and-set on the loaded
// status, return the refreshed record.
func (s *Service) apply(ctx context.Context, id string, action Action, actor Actor, mutate func(*UpdateParams)) (View, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return View{}, err
	}

	if !s.actorBelongs(rec, actor) {
		return View{}, NewInvalidTransition(action, rec.Status)
	}
	if !Authorized(rec, action, actor.Role, s.now()) {
		return View{}, NewInvalidTransition(action, rec.Status)
	}

	next, ok := Target(action)
	if !ok {
		return View{}, NewInvalidTransition(action, rec.Status)
	}

	params := UpdateParams{
		ID:             id,
		ExpectedStatus: rec.Status,
		NextStatus:     next,
		ActorID:        actor.ID,
		EventType:      "HIRING_STATUS_CHANGED",
		EventPayload:   map[string]any{"action": action},
	}
	if mutate != nil {
		mutate(&params)
	}

	updated, err := s.store.UpdateStatus(ctx, params)
	if err != nil {
		return View{}, err
	}
	return s.view(updated, actor), nil
}

func (s *Service) actorBelongs(rec ServiceHiring, actor Actor) bool {
	switch actor.Role {
	case RoleClient:
		return rec.IsClient(actor)
	case RoleProvider:
		return rec.IsProvider(actor)
	case RoleModerator, RoleSystem:
		return true
	}
	return false
}

// Accept moves a quoted or negotiating hiring to accepted. Blocked on an
// expired quotation.
func (s *Service) Accept(ctx context.Context, id string, actor Actor) (View, error) {
	return s.apply(ctx, id, ActionAccept, actor, nil)
}

// Reject declines the quotation outright.
func (s *Service) Reject(ctx context.Context, id string, actor Actor) (View, error) {
	return s.apply(ctx, id, ActionReject, actor, nil)
}

// Cancel withdraws the hiring. Cancellation is a transition like any other,
// validated against the action set, never a cooperative token.
func (s *Service) Cancel(ctx context.Context, id string, actor Actor) (View, error) {
	return s.apply(ctx, id, ActionCancel, actor, nil)
}

// Negotiate asks the provider to revise the quotation terms without
// rejecting. The optional description is capped at 1000 characters.
func (s *Service) Negotiate(ctx context.Context, id string, actor Actor, description *string) (View, error) {
	if description != nil {
		trimmed := strings.TrimSpace(*description)
		if len(trimmed) > maxNegotiationLen {
			return View{}, NewValidationError("negotiation description exceeds %d characters", maxNegotiationLen)
		}
		description = &trimmed
	}
	return s.apply(ctx, id, ActionNegotiate, actor, func(p *UpdateParams) {
		p.NegotiationDescription = description
		p.OutboxTopic = "hiring.negotiation_requested"
	})
}

// Requote asks for a fresh quotation. Legal only while the expired view of
// a quoted hiring is active.
func (s *Service) Requote(ctx context.Context, id string, actor Actor) (View, error) {
	return s.apply(ctx, id, ActionRequote, actor, func(p *UpdateParams) {
		p.OutboxTopic = "hiring.requote_requested"
	})
}

// ContractResult is what Contract hands back: the refreshed view plus a
// redirect intent the caller drives. The intent is requested, not awaited;
// the status write commits independently of the gateway round trip.
type ContractResult struct {
	View   View
	Intent gateway.RedirectIntent
}

// Contract initiates the single-contract payment for a full-payment hiring
// and requests a payment-gateway redirect for the initial installment.
//
// By-deliverables hirings always refuse this: their payment is
// per-deliverable only.
func (s *Service) Contract(ctx context.Context, id string, actor Actor, paymentMethod string) (ContractResult, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return ContractResult{}, err
	}
	if rec.Modality == ModalityByDeliverables {
		return ContractResult{}, NewPaymentByDeliverables(id)
	}
	if paymentMethod == "" {
		return ContractResult{}, NewValidationError("payment method is required")
	}

	view, err := s.apply(ctx, id, ActionContract, actor, func(p *UpdateParams) {
		p.EventPayload["payment_method"] = paymentMethod
		p.OutboxTopic = "hiring.payment_initiated"
	})
	if err != nil {
		return ContractResult{}, err
	}

	breakdown := view.Breakdown
	if breakdown == nil {
		return ContractResult{}, NewValidationError("hiring has no payable quotation")
	}

	// The record is already committed as payment_pending; a failed redirect
	// request leaves it there, a well-defined state that can be re-entered.
	intent, err := s.gateway.CreateRedirect(ctx, gateway.RedirectRequest{
		HiringID:      id,
		PayerID:       actor.ID,
		Amount:        breakdown.InitialAmount,
		PaymentMethod: paymentMethod,
	})
	if err != nil {
		return ContractResult{View: view}, NewGatewayFailure(err)
	}
	return ContractResult{View: view, Intent: intent}, nil
}

// SubmitQuote is the provider-side input attaching a quotation to a pending
// or requoting hiring. It anchors quoted_at and freezes the payment
// modality.
func (s *Service) SubmitQuote(ctx context.Context, id string, actor Actor, quote QuoteParams) (View, error) {
	normalized, err := normalizeQuote(quote, s.idGenerator)
	if err != nil {
		return View{}, err
	}
	return s.apply(ctx, id, ActionQuote, actor, func(p *UpdateParams) {
		p.Quote = &normalized
		p.EventType = "QUOTATION_SUBMITTED"
		p.OutboxTopic = "hiring.quoted"
	})
}

// HandleGatewayCallback applies the asynchronous gateway outcome as its own
// guarded transition. No lock was held across the gateway round trip, so
// the callback races like any other writer and gets the same
// compare-and-set treatment.
//
// Deliveries carrying an event id are replay-safe: the id doubles as the
// idempotency key, so the gateway may retry without double-applying.
func (s *Service) HandleGatewayCallback(ctx context.Context, id, eventID string, succeeded bool) (View, error) {
	action := ActionPaymentFailed
	topic := "hiring.payment_rejected"
	if succeeded {
		action = ActionPaymentSucceeded
		topic = "hiring.payment_approved"
	}
	// A redelivered outcome finds the record already past payment_pending;
	// converge instead of reporting an invalid transition.
	if rec, err := s.store.Get(ctx, id); err != nil {
		return View{}, err
	} else if target, _ := Target(action); rec.Status == target {
		return s.view(rec, SystemActor), nil
	}

	return s.apply(ctx, id, action, SystemActor, func(p *UpdateParams) {
		p.EventType = "PAYMENT_GATEWAY_RESULT"
		p.OutboxTopic = topic
		if eventID != "" {
			p.IdempotencyKey = "gateway:" + eventID
		}
	})
}

// Start, Deliver, RequestRevision and ApproveDelivery are the fulfillment
// workflow inputs. The machine accepts them but does not originate them.

func (s *Service) Start(ctx context.Context, id string, actor Actor) (View, error) {
	return s.apply(ctx, id, ActionStart, actor, nil)
}

func (s *Service) Deliver(ctx context.Context, id string, actor Actor) (View, error) {
	return s.apply(ctx, id, ActionDeliver, actor, nil)
}

func (s *Service) RequestRevision(ctx context.Context, id string, actor Actor) (View, error) {
	return s.apply(ctx, id, ActionRequestRevision, actor, nil)
}

func (s *Service) ApproveDelivery(ctx context.Context, id string, actor Actor) (View, error) {
	return s.apply(ctx, id, ActionApproveDelivery, actor, nil)
}

// OpenClaim escalates the hiring to moderation.
func (s *Service) OpenClaim(ctx context.Context, id string, actor Actor) (View, error) {
	return s.apply(ctx, id, ActionOpenClaim, actor, func(p *UpdateParams) {
		p.OutboxTopic = "hiring.claim_opened"
	})
}

// ResolveClaim is the moderator resolution of an in_claim hiring.
func (s *Service) ResolveClaim(ctx context.Context, id string, actor Actor, resolution Action) (View, error) {
	switch resolution {
	case ActionResolveCancelled, ActionResolveCompleted, ActionResolveAgreement:
	default:
		return View{}, NewValidationError("unknown claim resolution %q", resolution)
	}
	return s.apply(ctx, id, resolution, actor, func(p *UpdateParams) {
		p.EventType = "CLAIM_RESOLVED"
		p.OutboxTopic = "hiring.claim_resolved"
	})
}

// MoveDeliverable advances one deliverable's fulfillment status. The hiring
// must be under the by-deliverables modality and in an active fulfillment
// status; the per-deliverable machine is linear and checked here.
func (s *Service) MoveDeliverable(ctx context.Context, id, deliverableID string, actor Actor, next DeliverableStatus) (View, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return View{}, err
	}
	if rec.Modality != ModalityByDeliverables {
		return View{}, NewValidationError("hiring %s has no deliverables", id)
	}
	if !s.actorBelongs(rec, actor) || IsTerminal(rec.Status) {
		return View{}, NewInvalidTransition(ActionDeliver, rec.Status)
	}

	var current *Deliverable
	for i := range rec.Deliverables {
		if rec.Deliverables[i].ID == deliverableID {
			current = &rec.Deliverables[i]
			break
		}
	}
	if current == nil {
		return View{}, NewNotFound(deliverableID)
	}
	if !CanDeliverableMove(current.Status, next) {
		return View{}, NewInvalidTransition(Action(next), Status(current.Status))
	}

	updated, err := s.store.UpdateDeliverable(ctx, id, deliverableID, current.Status, next)
	if err != nil {
		return View{}, err
	}
	return s.view(updated, actor), nil
}

// normalizeQuote validates the provider payload and fills defaults: exactly
// one of price and deliverables, percentage split summing to 100, ids for
// new deliverable rows.
func normalizeQuote(q QuoteParams, newID func() string) (QuoteParams, error) {
	hasPrice := q.QuotedPrice != nil
	hasDeliverables := len(q.Deliverables) > 0
	if hasPrice == hasDeliverables {
		return QuoteParams{}, NewValidationError("quotation needs exactly one of quoted price or deliverables")
	}

	if hasDeliverables {
		q.Modality = ModalityByDeliverables
		q.InitialPct, q.FinalPct = 0, 0
		for i := range q.Deliverables {
			d := &q.Deliverables[i]
			if strings.TrimSpace(d.Title) == "" {
				return QuoteParams{}, NewValidationError("deliverable %d needs a title", i)
			}
			if d.Price < 0 {
				return QuoteParams{}, NewValidationError("deliverable %d has a negative price", i)
			}
			if d.ID == "" {
				d.ID = newID()
			}
			d.Status = DeliverablePending
			d.OrderIndex = i
		}
	} else {
		q.Modality = ModalityFullPayment
		if *q.QuotedPrice <= 0 {
			return QuoteParams{}, NewValidationError("quoted price must be positive")
		}
		if q.InitialPct == 0 && q.FinalPct == 0 {
			q.InitialPct, q.FinalPct = defaultInitialPct, defaultFinalPct
		}
		if q.InitialPct < 0 || q.FinalPct < 0 || q.InitialPct+q.FinalPct != 100 {
			return QuoteParams{}, NewValidationError("payment split must be non-negative percentages summing to 100")
		}
	}

	if q.QuotationValidityDays != nil && *q.QuotationValidityDays < 1 {
		return QuoteParams{}, NewValidationError("quotation validity must be at least one day")
	}
	if q.EstimatedHours != nil && *q.EstimatedHours <= 0 {
		return QuoteParams{}, NewValidationError("estimated effort must be positive")
	}
	return q, nil
}
