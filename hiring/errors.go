package hiring

import (
	"errors"
	"fmt"
)

// Kind is the stable error taxonomy key callers map to user copy. The
// message is informational only and must not be parsed.
type Kind string

const (
	KindValidation             Kind = "validation_error"
	KindInvalidTransition      Kind = "invalid_transition"
	KindConcurrentModification Kind = "concurrent_modification"
	KindPaymentByDeliverables  Kind = "payment_by_deliverables"
	KindGatewayFailure         Kind = "gateway_failure"
	KindNotFound               Kind = "not_found"
)

// Error carries a taxonomy kind alongside the human-readable message.
// None of these are fatal to the process; every one is a per-request
// failure returned to the caller.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hiring: %s: %v", e.Message, e.Err)
	}
	return "hiring: " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the taxonomy kind from an error chain. Errors produced
// outside this package report an empty kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// NewValidationError reports malformed input. Nothing is mutated; the
// caller re-prompts.
func NewValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewInvalidTransition reports an action outside the authorized set for the
// current status, role, or vigency.
func NewInvalidTransition(action Action, status Status) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("action %q is not available in status %q", action, status),
	}
}

// NewConcurrentModification reports a lost compare-and-set race. The caller
// must re-fetch and re-evaluate before retrying; the core never retries.
func NewConcurrentModification(id string, expected Status) *Error {
	return &Error{
		Kind:    KindConcurrentModification,
		Message: fmt.Sprintf("hiring %s changed status while action was in flight (expected %q)", id, expected),
	}
}

// NewPaymentByDeliverables rejects a single-contract payment on a
// by-deliverables hiring; payment is per-deliverable only.
func NewPaymentByDeliverables(id string) *Error {
	return &Error{
		Kind:    KindPaymentByDeliverables,
		Message: fmt.Sprintf("hiring %s is paid per deliverable, not as a single contract", id),
	}
}

// NewGatewayFailure wraps a downstream payment provider error. The hiring
// status is unaffected; payment_pending stays until a definitive callback.
func NewGatewayFailure(err error) *Error {
	return &Error{Kind: KindGatewayFailure, Message: "payment gateway request failed", Err: err}
}

// NewNotFound reports a missing hiring record.
func NewNotFound(id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("hiring %s not found", id)}
}
