package hiring

// DeliverablePayment is one independently payable line of a by-deliverables
// breakdown.
type DeliverablePayment struct {
	DeliverableID string
	Title         string
	Price         int64
	Status        DeliverableStatus
	OrderIndex    int
}

// Breakdown is the payable structure consumed by the UI and by the
// payment-initiation side effect. Exactly one of the two shapes is
// populated, matching the hiring's modality.
type Breakdown struct {
	Modality Modality
	Total    int64

	// Full-payment split. InitialAmount + FinalAmount always equals Total.
	InitialAmount int64
	FinalAmount   int64

	// By-deliverables lines, ordered by OrderIndex.
	Deliverables []DeliverablePayment
}

// ResolveBreakdown computes the payable breakdown for a hiring, or nil when
// no quotation exists yet.
//
// For full payment the initial installment rounds half-up on cents and the
// final installment is the subtraction remainder, so the two parts sum to
// the quoted price exactly for any integer percentage split.
func ResolveBreakdown(h ServiceHiring) *Breakdown {
	switch h.Modality {
	case ModalityByDeliverables:
		if len(h.Deliverables) == 0 {
			return nil
		}
		b := &Breakdown{Modality: ModalityByDeliverables}
		for _, d := range h.Deliverables {
			b.Total += d.Price
			b.Deliverables = append(b.Deliverables, DeliverablePayment{
				DeliverableID: d.ID,
				Title:         d.Title,
				Price:         d.Price,
				Status:        d.Status,
				OrderIndex:    d.OrderIndex,
			})
		}
		return b
	default:
		if h.QuotedPrice == nil {
			return nil
		}
		initial := roundedShare(*h.QuotedPrice, h.InitialPct)
		return &Breakdown{
			Modality:      ModalityFullPayment,
			Total:         *h.QuotedPrice,
			InitialAmount: initial,
			FinalAmount:   *h.QuotedPrice - initial,
		}
	}
}

// roundedShare returns pct percent of amount in cents, rounded half-up.
func roundedShare(amount int64, pct int) int64 {
	return (amount*int64(pct) + 50) / 100
}
