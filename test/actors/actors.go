// Package actors hosts the concurrent workload for the stress run. Every
// actor drives the real transition executor; lost races and refused actions
// are expected outcomes, not failures.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"hiringflow/hiring"
)

// domainOutcome swallows the errors the executor is expected to hand back
// under contention (lost compare-and-set races, refused actions, vanished
// records) and the connection terminations the chaos actor inflicts.
// Anything else aborts the run.
func domainOutcome(err error) error {
	if err == nil || hiring.KindOf(err) != "" {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "57P01" { // admin_shutdown
		return nil
	}
	if strings.Contains(err.Error(), "conn closed") || strings.Contains(err.Error(), "unexpected EOF") {
		return nil
	}
	return err
}

func pickByStatus(ctx context.Context, pool *pgxpool.Pool, statuses ...string) (string, bool, error) {
	var id string
	err := pool.QueryRow(ctx, `
        SELECT id FROM hirings WHERE status = ANY($1) ORDER BY random() LIMIT 1
    `, statuses).Scan(&id)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		if domainOutcome(err) != nil {
			return "", false, err
		}
		return "", false, nil
	}
	return id, true, nil
}

// Creator opens new hirings so the other actors always have material.
func Creator(ctx context.Context, svc *hiring.Service, serviceID, clientID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		desc := fmt.Sprintf("stress job %d needing a fair amount of work", rand.Int63())
		if _, err := svc.Create(ctx, serviceID, clientID, desc); domainOutcome(err) != nil {
			return fmt.Errorf("creator: %w", err)
		}
		time.Sleep(time.Duration(40+rand.Intn(80)) * time.Millisecond)
	}
}

// Quoter attaches quotations to pending and requoting hirings, alternating
// between the two payment modalities and occasionally quoting a one-day
// window so expiry paths get exercised.
func Quoter(ctx context.Context, pool *pgxpool.Pool, svc *hiring.Service, providerID string, stop <-chan struct{}) error {
	actor := hiring.Actor{ID: providerID, Role: hiring.RoleProvider}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id, ok, err := pickByStatus(ctx, pool, "pending", "requoting")
		if err != nil {
			return fmt.Errorf("quoter pick: %w", err)
		}
		if ok {
			validity := 1 + rand.Intn(7)
			params := hiring.QuoteParams{QuotationValidityDays: &validity}
			if rand.Intn(3) == 0 {
				params.Deliverables = []hiring.Deliverable{
					{Title: "first milestone", Price: int64(10000 + rand.Intn(90000))},
					{Title: "final milestone", Price: int64(10000 + rand.Intn(90000))},
				}
			} else {
				price := int64(50000 + rand.Intn(450000))
				params.QuotedPrice = &price
			}
			if _, err := svc.SubmitQuote(ctx, id, actor, params); domainOutcome(err) != nil {
				return fmt.Errorf("quoter submit: %w", err)
			}
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Decider plays the client against quoted and negotiating hirings, racing
// accepts, rejections, negotiations and cancellations over the same rows.
func Decider(ctx context.Context, pool *pgxpool.Pool, svc *hiring.Service, clientID string, stop <-chan struct{}) error {
	actor := hiring.Actor{ID: clientID, Role: hiring.RoleClient}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id, ok, err := pickByStatus(ctx, pool, "quoted", "negotiating")
		if err != nil {
			return fmt.Errorf("decider pick: %w", err)
		}
		if ok {
			switch rand.Intn(6) {
			case 0:
				_, err = svc.Reject(ctx, id, actor)
			case 1:
				note := "could you sharpen the estimate?"
				_, err = svc.Negotiate(ctx, id, actor, &note)
			case 2:
				_, err = svc.Cancel(ctx, id, actor)
			case 3:
				_, err = svc.Requote(ctx, id, actor)
			default:
				_, err = svc.Accept(ctx, id, actor)
			}
			if domainOutcome(err) != nil {
				return fmt.Errorf("decider act: %w", err)
			}
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Contractor initiates payment on accepted hirings and retries rejected ones.
func Contractor(ctx context.Context, pool *pgxpool.Pool, svc *hiring.Service, clientID string, stop <-chan struct{}) error {
	actor := hiring.Actor{ID: clientID, Role: hiring.RoleClient}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id, ok, err := pickByStatus(ctx, pool, "accepted", "payment_rejected")
		if err != nil {
			return fmt.Errorf("contractor pick: %w", err)
		}
		if ok {
			if _, err := svc.Contract(ctx, id, actor, "credit_card"); domainOutcome(err) != nil {
				return fmt.Errorf("contractor: %w", err)
			}
		}
		time.Sleep(time.Duration(30+rand.Intn(60)) * time.Millisecond)
	}
}

// GatewayNotifier delivers randomized payment outcomes, with a share of
// duplicated deliveries to exercise callback idempotency.
func GatewayNotifier(ctx context.Context, pool *pgxpool.Pool, svc *hiring.Service, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id, ok, err := pickByStatus(ctx, pool, "payment_pending")
		if err != nil {
			return fmt.Errorf("notifier pick: %w", err)
		}
		if ok {
			eventID := fmt.Sprintf("evt-%d", rand.Int63())
			succeeded := rand.Intn(4) != 0
			deliveries := 1 + rand.Intn(2)
			for i := 0; i < deliveries; i++ {
				if _, err := svc.HandleGatewayCallback(ctx, id, eventID, succeeded); domainOutcome(err) != nil {
					return fmt.Errorf("notifier deliver: %w", err)
				}
			}
		}
		time.Sleep(time.Duration(30+rand.Intn(60)) * time.Millisecond)
	}
}

// Fulfiller walks approved hirings through the delivery workflow from both
// sides of the record.
func Fulfiller(ctx context.Context, pool *pgxpool.Pool, svc *hiring.Service, clientID, providerID string, stop <-chan struct{}) error {
	client := hiring.Actor{ID: clientID, Role: hiring.RoleClient}
	provider := hiring.Actor{ID: providerID, Role: hiring.RoleProvider}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var id string
		var status string
		err := pool.QueryRow(ctx, `
            SELECT id, status FROM hirings
            WHERE status IN ('approved','in_progress','delivered','revision_requested')
            ORDER BY random() LIMIT 1
        `).Scan(&id, &status)
		if err != nil && err != pgx.ErrNoRows {
			if domainOutcome(err) != nil {
				return fmt.Errorf("fulfiller pick: %w", err)
			}
			err = pgx.ErrNoRows
		}
		if err == nil {
			switch status {
			case "approved":
				_, err = svc.Start(ctx, id, provider)
			case "in_progress", "revision_requested":
				_, err = svc.Deliver(ctx, id, provider)
			case "delivered":
				if rand.Intn(4) == 0 {
					_, err = svc.RequestRevision(ctx, id, client)
				} else {
					_, err = svc.ApproveDelivery(ctx, id, client)
				}
			}
			if domainOutcome(err) != nil {
				return fmt.Errorf("fulfiller act: %w", err)
			}
		}
		time.Sleep(time.Duration(30+rand.Intn(60)) * time.Millisecond)
	}
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED, simulating
// occasional delivery failures.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1, last_attempt=NOW() WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed', last_attempt=NOW() WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
