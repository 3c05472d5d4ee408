package hiring

import "time"

// Status is the closed state set for a service hiring negotiation.
// Values mirror the hiring_status enum in PostgreSQL.
type Status string

const (
	StatusPending                Status = "pending"
	StatusQuoted                 Status = "quoted"
	StatusNegotiating            Status = "negotiating"
	StatusRequoting              Status = "requoting"
	StatusAccepted               Status = "accepted"
	StatusPaymentPending         Status = "payment_pending"
	StatusPaymentRejected        Status = "payment_rejected"
	StatusApproved               Status = "approved"
	StatusRejected               Status = "rejected"
	StatusCancelled              Status = "cancelled"
	StatusInProgress             Status = "in_progress"
	StatusDelivered              Status = "delivered"
	StatusRevisionRequested      Status = "revision_requested"
	StatusCompleted              Status = "completed"
	StatusExpired                Status = "expired"
	StatusInClaim                Status = "in_claim"
	StatusCancelledByClaim       Status = "cancelled_by_claim"
	StatusCompletedByClaim       Status = "completed_by_claim"
	StatusCompletedWithAgreement Status = "completed_with_agreement"
)

// StatusExpired never appears in storage. Expiry of a quotation is derived
// from quoted_at on every read; the constant exists so views and callbacks
// can speak the same vocabulary as the stored statuses.

// Role identifies which side of the negotiation an actor is on.
type Role string

const (
	RoleClient    Role = "client"
	RoleProvider  Role = "provider"
	RoleModerator Role = "moderator"
	RoleSystem    Role = "system"
)

// Actor is the authenticated identity applying an action.
type Actor struct {
	ID   string
	Role Role
}

// SystemActor is used for gateway callbacks and other machine-driven inputs.
var SystemActor = Actor{ID: "", Role: RoleSystem}

// Modality selects how a hiring is paid.
type Modality string

const (
	// ModalityFullPayment splits the quoted price into an upfront and a
	// final installment.
	ModalityFullPayment Modality = "full_payment"
	// ModalityByDeliverables prices and pays each deliverable independently.
	ModalityByDeliverables Modality = "by_deliverables"
)

// TimeUnit qualifies the provider's effort estimate.
type TimeUnit string

const (
	TimeUnitHours  TimeUnit = "hours"
	TimeUnitDays   TimeUnit = "days"
	TimeUnitWeeks  TimeUnit = "weeks"
	TimeUnitMonths TimeUnit = "months"
)

// DeliverableStatus tracks per-deliverable fulfillment. It progresses
// independently of the hiring status machine but is owned by the same record.
type DeliverableStatus string

const (
	DeliverablePending    DeliverableStatus = "pending"
	DeliverableInProgress DeliverableStatus = "in_progress"
	DeliverableDelivered  DeliverableStatus = "delivered"
	DeliverableApproved   DeliverableStatus = "approved"
	DeliverableRejected   DeliverableStatus = "rejected"
)

// Deliverable is one independently priced and fulfilled unit of work under
// the by-deliverables modality.
type Deliverable struct {
	ID                    string
	HiringID              string
	Title                 string
	Description           string
	Price                 int64 // cents
	EstimatedDeliveryDate *time.Time
	Status                DeliverableStatus
	OrderIndex            int
}

// ServiceHiring is the central record: one per (service, client) negotiation
// attempt. Monetary amounts are integer cents. Rows are never deleted;
// cancellation and rejection are terminal statuses, not row removal.
type ServiceHiring struct {
	ID         string
	ServiceID  string
	ClientID   string
	ProviderID string
	Status     Status

	Description            string
	NegotiationDescription *string

	QuotedPrice            *int64 // cents; full-payment modality only
	EstimatedHours         *int
	EstimatedTimeUnit      *TimeUnit
	QuotationValidityDays  *int
	QuotedAt               *time.Time

	Modality   Modality
	InitialPct int
	FinalPct   int

	Deliverables []Deliverable

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsClient reports whether the actor is the hiring's client.
func (h ServiceHiring) IsClient(a Actor) bool {
	return a.Role == RoleClient && a.ID == h.ClientID
}

// IsProvider reports whether the actor is the hiring's provider.
func (h ServiceHiring) IsProvider(a Actor) bool {
	return a.Role == RoleProvider && a.ID == h.ProviderID
}

// View is what callers get back from every operation: the authoritative
// record plus the derived fields recomputed on this read. Callers must not
// patch fields locally across async boundaries.
type View struct {
	Hiring           ServiceHiring
	AvailableActions []Action
	Vigency          VigencyStatus
	Breakdown        *Breakdown
}

const (
	minDescriptionLen     = 10
	maxNegotiationLen     = 1000
	defaultInitialPct     = 25
	defaultFinalPct       = 75
	expiringSoonThreshold = 24 * time.Hour
)

var terminalStatuses = map[Status]bool{
	StatusCancelled:              true,
	StatusRejected:               true,
	StatusCompleted:              true,
	StatusCancelledByClaim:       true,
	StatusCompletedByClaim:       true,
	StatusCompletedWithAgreement: true,
}

// IsTerminal reports whether the status accepts no further actions from any
// actor.
func IsTerminal(s Status) bool {
	return terminalStatuses[s]
}

// ParseStatus converts a raw string into a Status, rejecting unknown values.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	switch s {
	case StatusPending, StatusQuoted, StatusNegotiating, StatusRequoting,
		StatusAccepted, StatusPaymentPending, StatusPaymentRejected,
		StatusApproved, StatusRejected, StatusCancelled, StatusInProgress,
		StatusDelivered, StatusRevisionRequested, StatusCompleted,
		StatusExpired, StatusInClaim, StatusCancelledByClaim,
		StatusCompletedByClaim, StatusCompletedWithAgreement:
		return s, nil
	}
	return "", NewValidationError("unknown hiring status %q", raw)
}

// deliverableTransitions is the linear per-deliverable fulfillment machine.
var deliverableTransitions = map[DeliverableStatus][]DeliverableStatus{
	DeliverablePending:    {DeliverableInProgress},
	DeliverableInProgress: {DeliverableDelivered},
	DeliverableDelivered:  {DeliverableApproved, DeliverableRejected},
	DeliverableRejected:   {DeliverableInProgress},
}

// CanDeliverableMove reports whether a deliverable may move from one
// fulfillment status to another.
func CanDeliverableMove(from, to DeliverableStatus) bool {
	for _, next := range deliverableTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
