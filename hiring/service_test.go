package hiring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"hiringflow/gateway"
)

// fakeStore is an in-memory Store with the same compare-and-set contract as
// the PostgreSQL implementation.
type fakeStore struct {
	mu       sync.Mutex
	records  map[string]ServiceHiring
	claimed  map[string]bool
	provider string
	afterGet func() // optional synchronization hook for race tests
	updates  []UpdateParams
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:  make(map[string]ServiceHiring),
		claimed:  make(map[string]bool),
		provider: "provider-1",
	}
}

func (f *fakeStore) Create(_ context.Context, params CreateParams) (ServiceHiring, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	rec := ServiceHiring{
		ID:          params.ID,
		ServiceID:   params.ServiceID,
		ClientID:    params.ClientID,
		ProviderID:  f.provider,
		Status:      StatusPending,
		Description: params.Description,
		Modality:    ModalityFullPayment,
		InitialPct:  defaultInitialPct,
		FinalPct:    defaultFinalPct,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	f.records[rec.ID] = rec
	return rec, nil
}

func (f *fakeStore) Get(_ context.Context, id string) (ServiceHiring, error) {
	f.mu.Lock()
	rec, ok := f.records[id]
	f.mu.Unlock()
	if !ok {
		return ServiceHiring{}, NewNotFound(id)
	}
	if f.afterGet != nil {
		f.afterGet()
	}
	return rec, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, params UpdateParams) (ServiceHiring, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[params.ID]
	if !ok {
		return ServiceHiring{}, NewNotFound(params.ID)
	}
	if params.IdempotencyKey != "" {
		if f.claimed[params.IdempotencyKey] {
			return rec, nil
		}
		f.claimed[params.IdempotencyKey] = true
	}
	if rec.Status != params.ExpectedStatus {
		return ServiceHiring{}, NewConcurrentModification(params.ID, params.ExpectedStatus)
	}
	rec.Status = params.NextStatus
	rec.UpdatedAt = time.Now()
	if params.NegotiationDescription != nil {
		rec.NegotiationDescription = params.NegotiationDescription
	}
	if params.Quote != nil {
		q := params.Quote
		now := time.Now()
		rec.QuotedPrice = q.QuotedPrice
		rec.EstimatedHours = q.EstimatedHours
		rec.EstimatedTimeUnit = q.EstimatedTimeUnit
		rec.QuotationValidityDays = q.QuotationValidityDays
		rec.QuotedAt = &now
		rec.Modality = q.Modality
		rec.InitialPct = q.InitialPct
		rec.FinalPct = q.FinalPct
		rec.Deliverables = append([]Deliverable(nil), q.Deliverables...)
		for i := range rec.Deliverables {
			rec.Deliverables[i].HiringID = rec.ID
		}
	}
	f.records[params.ID] = rec
	f.updates = append(f.updates, params)
	return rec, nil
}

func (f *fakeStore) UpdateDeliverable(_ context.Context, hiringID, deliverableID string, expected, next DeliverableStatus) (ServiceHiring, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[hiringID]
	if !ok {
		return ServiceHiring{}, NewNotFound(hiringID)
	}
	for i := range rec.Deliverables {
		if rec.Deliverables[i].ID == deliverableID {
			if rec.Deliverables[i].Status != expected {
				return ServiceHiring{}, NewConcurrentModification(hiringID, Status(expected))
			}
			rec.Deliverables[i].Status = next
			f.records[hiringID] = rec
			return rec, nil
		}
	}
	return ServiceHiring{}, NewNotFound(deliverableID)
}

func (f *fakeStore) ListFor(_ context.Context, actor Actor, limit int) ([]ServiceHiring, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	var out []ServiceHiring
	for _, rec := range f.records {
		switch actor.Role {
		case RoleClient:
			if rec.ClientID != actor.ID {
				continue
			}
		case RoleProvider:
			if rec.ProviderID != actor.ID {
				continue
			}
		case RoleModerator:
			if rec.Status != StatusInClaim {
				continue
			}
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// seed installs a record directly, bypassing the executor.
func (f *fakeStore) seed(rec ServiceHiring) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec.ProviderID == "" {
		rec.ProviderID = f.provider
	}
	f.records[rec.ID] = rec
}

type fakeGateway struct {
	err      error
	requests []gateway.RedirectRequest
}

func (g *fakeGateway) CreateRedirect(_ context.Context, req gateway.RedirectRequest) (gateway.RedirectIntent, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return gateway.RedirectIntent{}, g.err
	}
	return gateway.RedirectIntent{
		ID:          "intent-1",
		HiringID:    req.HiringID,
		Amount:      req.Amount,
		RedirectURL: "https://pay.example.com/checkout?intent=intent-1",
	}, nil
}

func newTestService(store *fakeStore) (*Service, *fakeGateway) {
	gw := &fakeGateway{}
	svc := NewService(store, gw)
	n := 0
	svc.WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	})
	return svc, gw
}

func client(id string) Actor   { return Actor{ID: id, Role: RoleClient} }
func provider(id string) Actor { return Actor{ID: id, Role: RoleProvider} }

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func quotedHiring(id string, validityDays int, quotedAt time.Time) ServiceHiring {
	return ServiceHiring{
		ID:                    id,
		ServiceID:             "svc-1",
		ClientID:              "client-1",
		ProviderID:            "provider-1",
		Status:                StatusQuoted,
		Description:           "paint the whole apartment",
		QuotedPrice:           int64Ptr(100000),
		QuotationValidityDays: intPtr(validityDays),
		QuotedAt:              &quotedAt,
		Modality:              ModalityFullPayment,
		InitialPct:            defaultInitialPct,
		FinalPct:              defaultFinalPct,
	}
}

func TestCreate_ShortDescription(t *testing.T) {
	svc, _ := newTestService(newFakeStore())

	_, err := svc.Create(context.Background(), "svc-1", "client-1", "too short")
	if KindOf(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreate_StartsPending(t *testing.T) {
	svc, _ := newTestService(newFakeStore())

	view, err := svc.Create(context.Background(), "svc-1", "client-1", "paint the whole apartment")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if view.Hiring.Status != StatusPending {
		t.Fatalf("expected pending, got %s", view.Hiring.Status)
	}
	if len(view.AvailableActions) != 1 || view.AvailableActions[0] != ActionCancel {
		t.Fatalf("expected client to only be able to cancel, got %v", view.AvailableActions)
	}
}

func TestAccept_ExpiredQuotation(t *testing.T) {
	store := newFakeStore()
	store.seed(quotedHiring("h1", 5, time.Now().AddDate(0, 0, -6)))
	svc, _ := newTestService(store)

	if _, err := svc.Accept(context.Background(), "h1", client("client-1")); KindOf(err) != KindInvalidTransition {
		t.Fatalf("expected invalid transition on expired quote, got %v", err)
	}

	view, err := svc.Requote(context.Background(), "h1", client("client-1"))
	if err != nil {
		t.Fatalf("requote after expiry: %v", err)
	}
	if view.Hiring.Status != StatusRequoting {
		t.Fatalf("expected requoting, got %s", view.Hiring.Status)
	}
}

func TestRequote_BlockedWhileValid(t *testing.T) {
	store := newFakeStore()
	store.seed(quotedHiring("h1", 5, time.Now()))
	svc, _ := newTestService(store)

	if _, err := svc.Requote(context.Background(), "h1", client("client-1")); KindOf(err) != KindInvalidTransition {
		t.Fatalf("expected invalid transition while quotation is valid, got %v", err)
	}
}

func TestReject_AllowedEvenWhenExpired(t *testing.T) {
	store := newFakeStore()
	store.seed(quotedHiring("h1", 5, time.Now().AddDate(0, 0, -6)))
	svc, _ := newTestService(store)

	view, err := svc.Reject(context.Background(), "h1", client("client-1"))
	if err != nil {
		t.Fatalf("reject on expired quotation: %v", err)
	}
	if view.Hiring.Status != StatusRejected {
		t.Fatalf("expected rejected, got %s", view.Hiring.Status)
	}
}

func TestAccept_NegotiatingIgnoresVigency(t *testing.T) {
	store := newFakeStore()
	rec := quotedHiring("h1", 5, time.Now().AddDate(0, 0, -30))
	rec.Status = StatusNegotiating
	store.seed(rec)
	svc, _ := newTestService(store)

	view, err := svc.Accept(context.Background(), "h1", client("client-1"))
	if err != nil {
		t.Fatalf("accept while negotiating past window: %v", err)
	}
	if view.Hiring.Status != StatusAccepted {
		t.Fatalf("expected accepted, got %s", view.Hiring.Status)
	}
}

func TestNegotiate_DescriptionTooLong(t *testing.T) {
	store := newFakeStore()
	store.seed(quotedHiring("h1", 5, time.Now()))
	svc, _ := newTestService(store)

	long := make([]byte, maxNegotiationLen+1)
	for i := range long {
		long[i] = 'a'
	}
	text := string(long)
	if _, err := svc.Negotiate(context.Background(), "h1", client("client-1"), &text); KindOf(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNegotiate_StoresDescription(t *testing.T) {
	store := newFakeStore()
	store.seed(quotedHiring("h1", 5, time.Now()))
	svc, _ := newTestService(store)

	text := "could you include the ceilings?"
	view, err := svc.Negotiate(context.Background(), "h1", client("client-1"), &text)
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if view.Hiring.Status != StatusNegotiating {
		t.Fatalf("expected negotiating, got %s", view.Hiring.Status)
	}
	if view.Hiring.NegotiationDescription == nil || *view.Hiring.NegotiationDescription != text {
		t.Fatalf("negotiation description not stored: %+v", view.Hiring.NegotiationDescription)
	}
}

func TestCancel_SecondCallIsInvalid(t *testing.T) {
	store := newFakeStore()
	store.seed(quotedHiring("h1", 5, time.Now()))
	svc, _ := newTestService(store)

	if _, err := svc.Cancel(context.Background(), "h1", client("client-1")); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if _, err := svc.Cancel(context.Background(), "h1", client("client-1")); KindOf(err) != KindInvalidTransition {
		t.Fatalf("expected invalid transition on second cancel, got %v", err)
	}
}

func TestActorIdentity_Checked(t *testing.T) {
	store := newFakeStore()
	store.seed(quotedHiring("h1", 5, time.Now()))
	svc, _ := newTestService(store)

	if _, err := svc.Accept(context.Background(), "h1", client("intruder")); KindOf(err) != KindInvalidTransition {
		t.Fatalf("expected invalid transition for foreign client, got %v", err)
	}
}

func TestList_ScopedToActor(t *testing.T) {
	store := newFakeStore()
	store.seed(quotedHiring("h1", 5, time.Now()))
	other := quotedHiring("h2", 5, time.Now())
	other.ClientID = "client-2"
	store.seed(other)
	svc, _ := newTestService(store)

	views, err := svc.List(context.Background(), client("client-1"), 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 1 || views[0].Hiring.ID != "h1" {
		t.Fatalf("client should only see own hirings, got %+v", views)
	}

	views, err = svc.List(context.Background(), provider("provider-1"), 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("provider should see both hirings, got %d", len(views))
	}
	for _, v := range views {
		if v.Vigency == "" {
			t.Fatalf("list views must carry recomputed vigency, got %+v", v)
		}
	}
}

func TestSubmitQuote_FullPayment(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)

	view, err := svc.Create(context.Background(), "svc-1", "client-1", "paint the whole apartment")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	view, err = svc.SubmitQuote(context.Background(), view.Hiring.ID, provider("provider-1"), QuoteParams{
		QuotedPrice:           int64Ptr(100000),
		QuotationValidityDays: intPtr(7),
	})
	if err != nil {
		t.Fatalf("submit quote: %v", err)
	}
	h := view.Hiring
	if h.Status != StatusQuoted || h.QuotedAt == nil {
		t.Fatalf("quote not anchored: status=%s quotedAt=%v", h.Status, h.QuotedAt)
	}
	if h.InitialPct != defaultInitialPct || h.FinalPct != defaultFinalPct {
		t.Fatalf("expected default split, got %d/%d", h.InitialPct, h.FinalPct)
	}
	if view.Vigency != VigencyValid {
		t.Fatalf("expected valid vigency, got %s", view.Vigency)
	}
}

func TestSubmitQuote_RejectsPriceAndDeliverables(t *testing.T) {
	store := newFakeStore()
	rec := quotedHiring("h1", 5, time.Now())
	rec.Status = StatusPending
	rec.QuotedPrice = nil
	rec.QuotedAt = nil
	store.seed(rec)
	svc, _ := newTestService(store)

	_, err := svc.SubmitQuote(context.Background(), "h1", provider("provider-1"), QuoteParams{
		QuotedPrice:  int64Ptr(5000),
		Deliverables: []Deliverable{{Title: "mockups", Price: 5000}},
	})
	if KindOf(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSubmitQuote_NegativeDeliverablePrice(t *testing.T) {
	store := newFakeStore()
	rec := quotedHiring("h1", 5, time.Now())
	rec.Status = StatusPending
	rec.QuotedPrice = nil
	rec.QuotedAt = nil
	store.seed(rec)
	svc, _ := newTestService(store)

	_, err := svc.SubmitQuote(context.Background(), "h1", provider("provider-1"), QuoteParams{
		Deliverables: []Deliverable{{Title: "mockups", Price: -1}},
	})
	if KindOf(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestProviderRequote_ReanchorsQuotedAt(t *testing.T) {
	store := newFakeStore()
	old := time.Now().AddDate(0, 0, -10)
	rec := quotedHiring("h1", 5, old)
	rec.Status = StatusRequoting
	store.seed(rec)
	svc, _ := newTestService(store)

	view, err := svc.SubmitQuote(context.Background(), "h1", provider("provider-1"), QuoteParams{
		QuotedPrice:           int64Ptr(120000),
		QuotationValidityDays: intPtr(5),
	})
	if err != nil {
		t.Fatalf("re-quote: %v", err)
	}
	if view.Hiring.Status != StatusQuoted {
		t.Fatalf("expected quoted, got %s", view.Hiring.Status)
	}
	if !view.Hiring.QuotedAt.After(old) {
		t.Fatalf("quoted_at was not re-anchored: %v", view.Hiring.QuotedAt)
	}
	if view.Vigency != VigencyValid {
		t.Fatalf("expected fresh quotation to be valid, got %s", view.Vigency)
	}
}

func TestContract_FullPayment(t *testing.T) {
	store := newFakeStore()
	rec := quotedHiring("h1", 5, time.Now())
	rec.Status = StatusAccepted
	store.seed(rec)
	svc, gw := newTestService(store)

	result, err := svc.Contract(context.Background(), "h1", client("client-1"), "credit_card")
	if err != nil {
		t.Fatalf("contract: %v", err)
	}
	if result.View.Hiring.Status != StatusPaymentPending {
		t.Fatalf("expected payment_pending, got %s", result.View.Hiring.Status)
	}
	if result.Intent.RedirectURL == "" {
		t.Fatal("expected a redirect intent")
	}
	if len(gw.requests) != 1 || gw.requests[0].Amount != 25000 {
		t.Fatalf("expected initial installment of 25000 cents, got %+v", gw.requests)
	}
}

func TestContract_ByDeliverables(t *testing.T) {
	store := newFakeStore()
	rec := quotedHiring("h1", 5, time.Now())
	rec.Status = StatusAccepted
	rec.QuotedPrice = nil
	rec.Modality = ModalityByDeliverables
	rec.Deliverables = []Deliverable{
		{ID: "d1", Title: "mockups", Price: 30000, Status: DeliverablePending, OrderIndex: 0},
		{ID: "d2", Title: "build", Price: 70000, Status: DeliverablePending, OrderIndex: 1},
	}
	store.seed(rec)
	svc, gw := newTestService(store)

	_, err := svc.Contract(context.Background(), "h1", client("client-1"), "credit_card")
	if KindOf(err) != KindPaymentByDeliverables {
		t.Fatalf("expected payment_by_deliverables, got %v", err)
	}
	if len(gw.requests) != 0 {
		t.Fatal("gateway must not be invoked for by-deliverables hirings")
	}
}

func TestContract_GatewayFailureKeepsPaymentPending(t *testing.T) {
	store := newFakeStore()
	rec := quotedHiring("h1", 5, time.Now())
	rec.Status = StatusAccepted
	store.seed(rec)
	svc, gw := newTestService(store)
	gw.err = errors.New("gateway timeout")

	_, err := svc.Contract(context.Background(), "h1", client("client-1"), "credit_card")
	if KindOf(err) != KindGatewayFailure {
		t.Fatalf("expected gateway failure, got %v", err)
	}

	view, err := svc.Get(context.Background(), "h1", client("client-1"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.Hiring.Status != StatusPaymentPending {
		t.Fatalf("status must stay payment_pending after a failed redirect, got %s", view.Hiring.Status)
	}
}

func TestGatewayCallback_Outcomes(t *testing.T) {
	for _, tc := range []struct {
		succeeded bool
		want      Status
	}{
		{true, StatusApproved},
		{false, StatusPaymentRejected},
	} {
		store := newFakeStore()
		rec := quotedHiring("h1", 5, time.Now())
		rec.Status = StatusPaymentPending
		store.seed(rec)
		svc, _ := newTestService(store)

		view, err := svc.HandleGatewayCallback(context.Background(), "h1", "evt-1", tc.succeeded)
		if err != nil {
			t.Fatalf("callback(succeeded=%t): %v", tc.succeeded, err)
		}
		if view.Hiring.Status != tc.want {
			t.Fatalf("callback(succeeded=%t): expected %s, got %s", tc.succeeded, tc.want, view.Hiring.Status)
		}
	}
}

func TestGatewayCallback_ReplayIsNoOp(t *testing.T) {
	store := newFakeStore()
	rec := quotedHiring("h1", 5, time.Now())
	rec.Status = StatusPaymentPending
	store.seed(rec)
	svc, _ := newTestService(store)

	if _, err := svc.HandleGatewayCallback(context.Background(), "h1", "evt-7", true); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	view, err := svc.HandleGatewayCallback(context.Background(), "h1", "evt-7", true)
	if err != nil {
		t.Fatalf("replayed delivery must not error: %v", err)
	}
	if view.Hiring.Status != StatusApproved {
		t.Fatalf("expected approved after replay, got %s", view.Hiring.Status)
	}
}

func TestConcurrentAccept_ExactlyOneWins(t *testing.T) {
	store := newFakeStore()
	store.seed(quotedHiring("h1", 5, time.Now()))
	svc, _ := newTestService(store)

	// Hold both goroutines until each has loaded the quoted record, so both
	// attempt the compare-and-set against the same observed status.
	var loaded, release sync.WaitGroup
	loaded.Add(2)
	release.Add(1)
	store.afterGet = func() {
		loaded.Done()
		release.Wait()
	}
	go func() {
		loaded.Wait()
		release.Done()
	}()

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := svc.Accept(context.Background(), "h1", client("client-1"))
			errs <- err
		}()
	}

	var successes, conflicts int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			successes++
		case KindOf(err) == KindConcurrentModification:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || conflicts != 1 {
		t.Fatalf("expected exactly one winner, got %d successes and %d conflicts", successes, conflicts)
	}

	store.afterGet = nil
	view, err := svc.Get(context.Background(), "h1", client("client-1"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.Hiring.Status != StatusAccepted {
		t.Fatalf("expected accepted, got %s", view.Hiring.Status)
	}
}

func TestMoveDeliverable_LinearMachine(t *testing.T) {
	store := newFakeStore()
	rec := quotedHiring("h1", 5, time.Now())
	rec.Status = StatusInProgress
	rec.QuotedPrice = nil
	rec.Modality = ModalityByDeliverables
	rec.Deliverables = []Deliverable{
		{ID: "d1", Title: "mockups", Price: 30000, Status: DeliverablePending, OrderIndex: 0},
	}
	store.seed(rec)
	svc, _ := newTestService(store)

	view, err := svc.MoveDeliverable(context.Background(), "h1", "d1", provider("provider-1"), DeliverableInProgress)
	if err != nil {
		t.Fatalf("move to in_progress: %v", err)
	}
	if view.Hiring.Deliverables[0].Status != DeliverableInProgress {
		t.Fatalf("deliverable not moved: %+v", view.Hiring.Deliverables[0])
	}

	// Skipping delivered is not allowed.
	if _, err := svc.MoveDeliverable(context.Background(), "h1", "d1", provider("provider-1"), DeliverableApproved); KindOf(err) != KindInvalidTransition {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestResolveClaim_UnknownResolution(t *testing.T) {
	store := newFakeStore()
	rec := quotedHiring("h1", 5, time.Now())
	rec.Status = StatusInClaim
	store.seed(rec)
	svc, _ := newTestService(store)

	if _, err := svc.ResolveClaim(context.Background(), "h1", Actor{ID: "mod-1", Role: RoleModerator}, ActionAccept); KindOf(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	view, err := svc.ResolveClaim(context.Background(), "h1", Actor{ID: "mod-1", Role: RoleModerator}, ActionResolveAgreement)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if view.Hiring.Status != StatusCompletedWithAgreement {
		t.Fatalf("expected completed_with_agreement, got %s", view.Hiring.Status)
	}
}
