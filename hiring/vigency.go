package hiring

import "time"

// VigencyStatus labels how much of the quotation validity window remains.
type VigencyStatus string

const (
	VigencyValid        VigencyStatus = "valid"
	VigencyExpiringSoon VigencyStatus = "expiring_soon"
	VigencyExpired      VigencyStatus = "expired"
	// VigencyNotApplicable covers statuses the validity window does not
	// govern: everything except quoted.
	VigencyNotApplicable VigencyStatus = "not_applicable"
)

// IsExpired reports whether the quotation validity window has elapsed.
//
// Expiry is evaluated lazily on every read and never stored as a transition.
// Only the quoted status is subject to it: negotiating, accepted and every
// later status ignore vigency even when the same elapsed time would
// otherwise trigger it, so the exemption lives here rather than in date
// math at the call sites.
func IsExpired(h ServiceHiring, now time.Time) bool {
	if h.Status != StatusQuoted {
		return false
	}
	if h.QuotationValidityDays == nil || h.QuotedAt == nil {
		return false
	}
	deadline := h.QuotedAt.AddDate(0, 0, *h.QuotationValidityDays)
	return now.After(deadline)
}

// Vigency produces the display label for the validity window. The expired
// boolean it derives also gates requote, so the threshold logic belongs in
// the core rather than the presentation layer.
func Vigency(h ServiceHiring, now time.Time) VigencyStatus {
	if h.Status != StatusQuoted || h.QuotationValidityDays == nil || h.QuotedAt == nil {
		return VigencyNotApplicable
	}
	deadline := h.QuotedAt.AddDate(0, 0, *h.QuotationValidityDays)
	switch {
	case now.After(deadline):
		return VigencyExpired
	case deadline.Sub(now) < expiringSoonThreshold:
		return VigencyExpiringSoon
	default:
		return VigencyValid
	}
}
