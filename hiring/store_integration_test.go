package hiring

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TestPGStore_Integration connects to a real PostgreSQL via DATABASE_URL and
// verifies the repository behavior end to end: creation with provider
// resolution, the guarded status write, quotation application and the
// timeline/outbox rows committed alongside.
func TestPGStore_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"users", "services", "hirings", "deliverables", "timeline_events", "outbox", "idempotency"} {
		if !tableExists(ctx, t, pool, table) {
			t.Skip("database schema missing; run migrations: migrate -path migrations -database \"$DATABASE_URL\" up")
		}
	}

	// Seed the rows the foreign keys require.
	var clientID, providerID, serviceID string
	nonce := time.Now().UnixNano()
	if err := pool.QueryRow(ctx, `INSERT INTO users (email, full_name, role) VALUES ($1, 'Carla Client', 'client') RETURNING id`,
		fmt.Sprintf("carla+%d@example.com", nonce)).Scan(&clientID); err != nil {
		t.Fatalf("seed client: %v", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO users (email, full_name, role) VALUES ($1, 'Pavel Painter', 'provider') RETURNING id`,
		fmt.Sprintf("pavel+%d@example.com", nonce)).Scan(&providerID); err != nil {
		t.Fatalf("seed provider: %v", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO services (provider_id, title) VALUES ($1, 'Apartment painting') RETURNING id`,
		providerID).Scan(&serviceID); err != nil {
		t.Fatalf("seed service: %v", err)
	}

	store := NewPGStore(pool)
	hiringID := uuid.NewString()

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM timeline_events WHERE hiring_id = $1`, hiringID)
		pool.Exec(ctx2, `DELETE FROM outbox WHERE payload->>'hiring_id' = $1`, hiringID)
		pool.Exec(ctx2, `DELETE FROM deliverables WHERE hiring_id = $1`, hiringID)
		pool.Exec(ctx2, `DELETE FROM hirings WHERE id = $1`, hiringID)
		pool.Exec(ctx2, `DELETE FROM services WHERE id = $1`, serviceID)
		pool.Exec(ctx2, `DELETE FROM users WHERE id IN ($1, $2)`, clientID, providerID)
		pool.Exec(ctx2, `DELETE FROM idempotency WHERE key LIKE 'itest-%'`)
	})

	rec, err := store.Create(ctx, CreateParams{
		ID:          hiringID,
		ServiceID:   serviceID,
		ClientID:    clientID,
		Description: "paint the whole apartment, two coats",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Status != StatusPending {
		t.Fatalf("expected pending, got %s", rec.Status)
	}
	if rec.ProviderID != providerID {
		t.Fatalf("provider not resolved from service: got %s want %s", rec.ProviderID, providerID)
	}

	// Attach a quotation through the guarded write.
	price := int64(250000)
	validity := 7
	rec, err = store.UpdateStatus(ctx, UpdateParams{
		ID:             hiringID,
		ExpectedStatus: StatusPending,
		NextStatus:     StatusQuoted,
		ActorID:        providerID,
		Quote: &QuoteParams{
			Modality:              ModalityFullPayment,
			QuotedPrice:           &price,
			QuotationValidityDays: &validity,
			InitialPct:            25,
			FinalPct:              75,
		},
		EventType:   "QUOTATION_SUBMITTED",
		OutboxTopic: "hiring.quoted",
	})
	if err != nil {
		t.Fatalf("quote write: %v", err)
	}
	if rec.Status != StatusQuoted || rec.QuotedAt == nil || rec.QuotedPrice == nil || *rec.QuotedPrice != price {
		t.Fatalf("quotation not applied: %+v", rec)
	}

	// A write expecting a stale status must lose, and the loss must be
	// reported as a concurrent modification, not a missing record.
	_, err = store.UpdateStatus(ctx, UpdateParams{
		ID:             hiringID,
		ExpectedStatus: StatusPending,
		NextStatus:     StatusCancelled,
		ActorID:        clientID,
		EventType:      "HIRING_STATUS_CHANGED",
	})
	if KindOf(err) != KindConcurrentModification {
		t.Fatalf("expected concurrent modification on stale status, got %v", err)
	}

	// A missing record classifies as not found.
	_, err = store.UpdateStatus(ctx, UpdateParams{
		ID:             uuid.NewString(),
		ExpectedStatus: StatusPending,
		NextStatus:     StatusCancelled,
		EventType:      "HIRING_STATUS_CHANGED",
	})
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected not found for unknown id, got %v", err)
	}

	// Timeline: creation plus the quotation, strictly sequenced.
	var evCount, maxSeq int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*), MAX(seq) FROM timeline_events WHERE hiring_id = $1`, hiringID).Scan(&evCount, &maxSeq); err != nil {
		t.Fatalf("verify events: %v", err)
	}
	if evCount != 2 || maxSeq != 2 {
		t.Fatalf("unexpected timeline state: count=%d maxSeq=%d", evCount, maxSeq)
	}

	// Outbox: one message per committed write.
	var outCount int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE payload->>'hiring_id' = $1`, hiringID).Scan(&outCount); err != nil {
		t.Fatalf("verify outbox: %v", err)
	}
	if outCount != 2 {
		t.Fatalf("expected 2 outbox messages, got %d", outCount)
	}

	// An idempotent write replays as a no-op without a second event.
	key := fmt.Sprintf("itest-%d", nonce)
	for i := 0; i < 2; i++ {
		rec, err = store.UpdateStatus(ctx, UpdateParams{
			ID:             hiringID,
			ExpectedStatus: StatusQuoted,
			NextStatus:     StatusNegotiating,
			ActorID:        clientID,
			EventType:      "HIRING_STATUS_CHANGED",
			IdempotencyKey: key,
		})
		if err != nil {
			t.Fatalf("idempotent write (attempt %d): %v", i+1, err)
		}
		if rec.Status != StatusNegotiating {
			t.Fatalf("attempt %d: expected negotiating, got %s", i+1, rec.Status)
		}
	}
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM timeline_events WHERE hiring_id = $1`, hiringID).Scan(&evCount); err != nil {
		t.Fatalf("re-verify events: %v", err)
	}
	if evCount != 3 {
		t.Fatalf("expected the replay to add no event, got %d events", evCount)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
