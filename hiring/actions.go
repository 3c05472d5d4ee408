package hiring

import "time"

// Action enumerates every input the status machine accepts. Client actions
// are the ones the client-facing surface triggers; provider, moderator and
// system actions are external inputs the machine must also accept.
type Action string

const (
	ActionCancel           Action = "cancel"
	ActionAccept           Action = "accept"
	ActionReject           Action = "reject"
	ActionNegotiate        Action = "negotiate"
	ActionRequote          Action = "requote"
	ActionContract         Action = "contract"
	ActionQuote            Action = "quote"
	ActionStart            Action = "start"
	ActionDeliver          Action = "deliver"
	ActionRequestRevision  Action = "request_revision"
	ActionApproveDelivery  Action = "approve_delivery"
	ActionOpenClaim        Action = "open_claim"
	ActionPaymentSucceeded Action = "payment_succeeded"
	ActionPaymentFailed    Action = "payment_failed"
	ActionResolveCancelled Action = "resolve_cancelled"
	ActionResolveCompleted Action = "resolve_completed"
	ActionResolveAgreement Action = "resolve_agreement"
)

// targets maps every action to the status it produces. Guards live in
// AvailableActions; this table only fixes the successor so no transition can
// ever land outside the closed state set.
var targets = map[Action]Status{
	ActionCancel:           StatusCancelled,
	ActionAccept:           StatusAccepted,
	ActionReject:           StatusRejected,
	ActionNegotiate:        StatusNegotiating,
	ActionRequote:          StatusRequoting,
	ActionContract:         StatusPaymentPending,
	ActionQuote:            StatusQuoted,
	ActionStart:            StatusInProgress,
	ActionDeliver:          StatusDelivered,
	ActionRequestRevision:  StatusRevisionRequested,
	ActionApproveDelivery:  StatusCompleted,
	ActionOpenClaim:        StatusInClaim,
	ActionPaymentSucceeded: StatusApproved,
	ActionPaymentFailed:    StatusPaymentRejected,
	ActionResolveCancelled: StatusCancelledByClaim,
	ActionResolveCompleted: StatusCompletedByClaim,
	ActionResolveAgreement: StatusCompletedWithAgreement,
}

// Target returns the status an action produces.
func Target(a Action) (Status, bool) {
	s, ok := targets[a]
	return s, ok
}

// AvailableActions computes the set of legal actions for one role against
// the current status and vigency. It is derived on every read and never
// persisted. The switch is exhaustive over the closed status set so adding
// a status forces this function to be revisited.
func AvailableActions(h ServiceHiring, role Role, now time.Time) []Action {
	if IsTerminal(h.Status) {
		return nil
	}

	switch h.Status {
	case StatusPending:
		switch role {
		case RoleClient:
			return []Action{ActionCancel}
		case RoleProvider:
			return []Action{ActionQuote}
		}
	case StatusQuoted:
		switch role {
		case RoleClient:
			if IsExpired(h, now) {
				// Once the window elapses only a fresh quotation or a
				// cancellation makes sense; accept, reject and negotiate
				// are suppressed from the offered set.
				return []Action{ActionRequote, ActionCancel}
			}
			return []Action{ActionAccept, ActionReject, ActionNegotiate, ActionCancel}
		}
	case StatusNegotiating:
		// Negotiation is exempt from vigency: the client may still accept
		// even past what would have been the original window.
		if role == RoleClient {
			return []Action{ActionAccept, ActionReject, ActionCancel}
		}
	case StatusRequoting:
		// The only legal client action while awaiting a re-quote is cancel,
		// whatever the generic table might otherwise suggest.
		switch role {
		case RoleClient:
			return []Action{ActionCancel}
		case RoleProvider:
			return []Action{ActionQuote}
		}
	case StatusAccepted:
		if role == RoleClient {
			return []Action{ActionContract}
		}
	case StatusPaymentPending:
		if role == RoleSystem {
			return []Action{ActionPaymentSucceeded, ActionPaymentFailed}
		}
	case StatusPaymentRejected:
		if role == RoleClient {
			return []Action{ActionContract, ActionCancel}
		}
	case StatusApproved:
		if role == RoleProvider {
			return []Action{ActionStart}
		}
	case StatusInProgress:
		switch role {
		case RoleProvider:
			return []Action{ActionDeliver}
		case RoleClient:
			return []Action{ActionOpenClaim}
		}
	case StatusDelivered:
		switch role {
		case RoleClient:
			return []Action{ActionApproveDelivery, ActionRequestRevision, ActionOpenClaim}
		case RoleProvider:
			return []Action{ActionOpenClaim}
		}
	case StatusRevisionRequested:
		if role == RoleProvider {
			return []Action{ActionDeliver}
		}
	case StatusInClaim:
		if role == RoleModerator {
			return []Action{ActionResolveCancelled, ActionResolveCompleted, ActionResolveAgreement}
		}
	case StatusExpired:
		// Derived-only label; no stored row carries it.
	case StatusCancelled, StatusRejected, StatusCompleted,
		StatusCancelledByClaim, StatusCompletedByClaim, StatusCompletedWithAgreement:
		// Terminal, handled above.
	}
	return nil
}

// Authorized reports whether the actor may apply the action right now.
//
// It follows AvailableActions with one observed asymmetry carried over from
// production behavior: a client may still reject an expired quotation even
// though reject is suppressed from the offered set, while accept stays
// blocked.
func Authorized(h ServiceHiring, action Action, role Role, now time.Time) bool {
	if action == ActionReject && role == RoleClient && h.Status == StatusQuoted {
		return true
	}
	for _, a := range AvailableActions(h, role, now) {
		if a == action {
			return true
		}
	}
	return false
}

// ActionsForActor resolves the action set for a concrete actor, checking
// that the actor actually belongs to the hiring before consulting the
// role table.
func ActionsForActor(h ServiceHiring, a Actor, now time.Time) []Action {
	switch a.Role {
	case RoleClient:
		if !h.IsClient(a) {
			return nil
		}
	case RoleProvider:
		if !h.IsProvider(a) {
			return nil
		}
	case RoleModerator, RoleSystem:
		// Marketplace-level actors are not bound to one side of the record.
	default:
		return nil
	}
	return AvailableActions(h, a.Role, now)
}
