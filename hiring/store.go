package hiring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrServiceNotFound is returned when the marketplace service being
	// hired does not exist.
	ErrServiceNotFound = errors.New("hiring: service not found")
)

// CreateParams carries the write parameters for a new hiring record.
type CreateParams struct {
	ID          string
	ServiceID   string
	ClientID    string
	Description string
}

// QuoteParams is the provider's quotation payload. Exactly one of
// QuotedPrice and Deliverables is set, matching the modality.
type QuoteParams struct {
	Modality              Modality
	QuotedPrice           *int64
	EstimatedHours        *int
	EstimatedTimeUnit     *TimeUnit
	QuotationValidityDays *int
	InitialPct            int
	FinalPct              int
	Deliverables          []Deliverable
}

// UpdateParams describes one guarded transition write. The status update is
// conditional on ExpectedStatus still holding at write time; a mismatch is
// surfaced as a concurrent-modification error, never silently overwritten.
type UpdateParams struct {
	ID             string
	ExpectedStatus Status
	NextStatus     Status
	ActorID        string

	// Optional payload mutations applied together with the status write.
	NegotiationDescription *string
	Quote                  *QuoteParams

	EventType    string
	EventPayload map[string]any
	OutboxTopic  string

	// IdempotencyKey, when set, makes the write replay-safe: a second call
	// with the same key is a no-op returning the current record.
	IdempotencyKey string
}

// List page bounds. Callers asking for zero, negative, or oversized pages
// get the default.
const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// Store is the durable record store for hirings. The core only requires
// atomic compare-and-set semantics per record.
type Store interface {
	Create(ctx context.Context, params CreateParams) (ServiceHiring, error)
	Get(ctx context.Context, id string) (ServiceHiring, error)
	ListFor(ctx context.Context, actor Actor, limit int) ([]ServiceHiring, error)
	UpdateStatus(ctx context.Context, params UpdateParams) (ServiceHiring, error)
	UpdateDeliverable(ctx context.Context, hiringID, deliverableID string, expected, next DeliverableStatus) (ServiceHiring, error)
}

// PGStore implements Store backed by PostgreSQL. Every transition write
// lands in one transaction together with a timeline event and an outbox
// message.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a PostgreSQL-backed hiring store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const hiringColumns = `id, service_id, client_id, provider_id, status, description,
       negotiation_description, quoted_price, estimated_hours, estimated_time_unit,
       quotation_validity_days, quoted_at, modality, initial_pct, final_pct,
       created_at, updated_at`

func (s *PGStore) Create(ctx context.Context, params CreateParams) (ServiceHiring, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ServiceHiring{}, fmt.Errorf("hiring: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var providerID string
	if err := tx.QueryRow(ctx, `SELECT provider_id FROM services WHERE id = $1`, params.ServiceID).Scan(&providerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ServiceHiring{}, ErrServiceNotFound
		}
		return ServiceHiring{}, fmt.Errorf("hiring: resolve service provider: %w", err)
	}

	const insertSQL = `
        INSERT INTO hirings (id, service_id, client_id, provider_id, status, description, modality, initial_pct, final_pct)
        VALUES ($1, $2, $3, $4, 'pending', $5, 'full_payment', $6, $7)
        RETURNING ` + hiringColumns

	rec, err := scanHiring(tx.QueryRow(ctx, insertSQL,
		params.ID, params.ServiceID, params.ClientID, providerID,
		params.Description, defaultInitialPct, defaultFinalPct,
	))
	if err != nil {
		return ServiceHiring{}, fmt.Errorf("hiring: insert: %w", err)
	}

	if err := appendTimelineEvent(ctx, tx, rec.ID, "HIRING_CREATED", params.ClientID, map[string]any{
		"service_id":  rec.ServiceID,
		"provider_id": rec.ProviderID,
	}); err != nil {
		return ServiceHiring{}, err
	}
	if err := enqueueOutbox(ctx, tx, "hiring.created", map[string]any{
		"hiring_id":  rec.ID,
		"service_id": rec.ServiceID,
		"status":     rec.Status,
	}); err != nil {
		return ServiceHiring{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ServiceHiring{}, fmt.Errorf("hiring: commit create: %w", err)
	}
	return rec, nil
}

func (s *PGStore) Get(ctx context.Context, id string) (ServiceHiring, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+hiringColumns+` FROM hirings WHERE id = $1`, id)
	rec, err := scanHiring(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ServiceHiring{}, NewNotFound(id)
		}
		return ServiceHiring{}, fmt.Errorf("hiring: get: %w", err)
	}
	if rec.Deliverables, err = s.loadDeliverables(ctx, s.pool, id); err != nil {
		return ServiceHiring{}, err
	}
	return rec, nil
}

// ListFor returns the hirings visible to the actor, newest first. Clients
// and providers see their own side of the records; moderators see the
// records awaiting resolution.
func (s *PGStore) ListFor(ctx context.Context, actor Actor, limit int) ([]ServiceHiring, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}

	var filter string
	args := []any{limit}
	switch actor.Role {
	case RoleClient:
		filter = `client_id = $2`
		args = append(args, actor.ID)
	case RoleProvider:
		filter = `provider_id = $2`
		args = append(args, actor.ID)
	case RoleModerator:
		filter = `status = 'in_claim'`
	default:
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT `+hiringColumns+` FROM hirings WHERE `+filter+` ORDER BY created_at DESC LIMIT $1`, args...)
	if err != nil {
		return nil, fmt.Errorf("hiring: list: %w", err)
	}
	defer rows.Close()

	var list []ServiceHiring
	for rows.Next() {
		rec, err := scanHiring(rows)
		if err != nil {
			return nil, fmt.Errorf("hiring: scan list row: %w", err)
		}
		list = append(list, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("hiring: list rows: %w", err)
	}
	for i := range list {
		if list[i].Deliverables, err = s.loadDeliverables(ctx, s.pool, list[i].ID); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// UpdateStatus applies one transition with compare-and-set semantics on the
// previous status. Zero affected rows means either the record vanished or a
// competing writer got there first; the two cases map to distinct errors.
func (s *PGStore) UpdateStatus(ctx context.Context, params UpdateParams) (ServiceHiring, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ServiceHiring{}, fmt.Errorf("hiring: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if params.IdempotencyKey != "" {
		tag, err := tx.Exec(ctx, `
            INSERT INTO idempotency (key) VALUES ($1) ON CONFLICT (key) DO NOTHING
        `, params.IdempotencyKey)
		if err != nil {
			return ServiceHiring{}, fmt.Errorf("hiring: claim idempotency key: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Replay: the original delivery already applied this transition.
			return s.Get(ctx, params.ID)
		}
	}

	const casSQL = `
        UPDATE hirings
        SET status = $3, updated_at = now()
        WHERE id = $1 AND status = $2
        RETURNING ` + hiringColumns

	rec, err := scanHiring(tx.QueryRow(ctx, casSQL, params.ID, params.ExpectedStatus, params.NextStatus))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ServiceHiring{}, s.classifyMiss(ctx, params)
		}
		return ServiceHiring{}, fmt.Errorf("hiring: cas update: %w", err)
	}

	if params.NegotiationDescription != nil {
		if err := tx.QueryRow(ctx, `
            UPDATE hirings SET negotiation_description = $2 WHERE id = $1
            RETURNING negotiation_description
        `, params.ID, *params.NegotiationDescription).Scan(&rec.NegotiationDescription); err != nil {
			return ServiceHiring{}, fmt.Errorf("hiring: set negotiation description: %w", err)
		}
	}

	if params.Quote != nil {
		if rec, err = applyQuote(ctx, tx, rec, *params.Quote); err != nil {
			return ServiceHiring{}, err
		}
	} else if rec.Deliverables, err = s.loadDeliverables(ctx, tx, params.ID); err != nil {
		return ServiceHiring{}, err
	}

	payload := map[string]any{
		"previous_status": params.ExpectedStatus,
		"next_status":     params.NextStatus,
	}
	for k, v := range params.EventPayload {
		payload[k] = v
	}
	if err := appendTimelineEvent(ctx, tx, params.ID, params.EventType, params.ActorID, payload); err != nil {
		return ServiceHiring{}, err
	}

	topic := params.OutboxTopic
	if topic == "" {
		topic = "hiring.status_changed"
	}
	if err := enqueueOutbox(ctx, tx, topic, map[string]any{
		"hiring_id": params.ID,
		"previous":  params.ExpectedStatus,
		"next":      params.NextStatus,
	}); err != nil {
		return ServiceHiring{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ServiceHiring{}, fmt.Errorf("hiring: commit transition: %w", err)
	}
	return rec, nil
}

func (s *PGStore) UpdateDeliverable(ctx context.Context, hiringID, deliverableID string, expected, next DeliverableStatus) (ServiceHiring, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ServiceHiring{}, fmt.Errorf("hiring: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
        UPDATE deliverables SET status = $4
        WHERE id = $1 AND hiring_id = $2 AND status = $3
    `, deliverableID, hiringID, expected, next)
	if err != nil {
		return ServiceHiring{}, fmt.Errorf("hiring: update deliverable: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ServiceHiring{}, NewConcurrentModification(hiringID, Status(expected))
	}

	if err := appendTimelineEvent(ctx, tx, hiringID, "DELIVERABLE_STATUS_CHANGED", "", map[string]any{
		"deliverable_id": deliverableID,
		"previous":       expected,
		"next":           next,
	}); err != nil {
		return ServiceHiring{}, err
	}
	if err := enqueueOutbox(ctx, tx, "hiring.deliverable_changed", map[string]any{
		"hiring_id":      hiringID,
		"deliverable_id": deliverableID,
		"next":           next,
	}); err != nil {
		return ServiceHiring{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ServiceHiring{}, fmt.Errorf("hiring: commit deliverable update: %w", err)
	}
	return s.Get(ctx, hiringID)
}

// classifyMiss distinguishes a lost race from a missing record after a CAS
// update matched nothing.
func (s *PGStore) classifyMiss(ctx context.Context, params UpdateParams) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM hirings WHERE id = $1)`, params.ID).Scan(&exists); err != nil {
		return fmt.Errorf("hiring: classify cas miss: %w", err)
	}
	if !exists {
		return NewNotFound(params.ID)
	}
	return NewConcurrentModification(params.ID, params.ExpectedStatus)
}

// applyQuote writes the quotation fields, re-anchors quoted_at and replaces
// the deliverable rows inside the caller's transaction.
func applyQuote(ctx context.Context, tx pgx.Tx, rec ServiceHiring, q QuoteParams) (ServiceHiring, error) {
	const quoteSQL = `
        UPDATE hirings
        SET quoted_price = $2,
            estimated_hours = $3,
            estimated_time_unit = $4,
            quotation_validity_days = $5,
            quoted_at = now(),
            modality = $6,
            initial_pct = $7,
            final_pct = $8
        WHERE id = $1
        RETURNING ` + hiringColumns

	rec, err := scanHiring(tx.QueryRow(ctx, quoteSQL,
		rec.ID, q.QuotedPrice, q.EstimatedHours, q.EstimatedTimeUnit,
		q.QuotationValidityDays, q.Modality, q.InitialPct, q.FinalPct,
	))
	if err != nil {
		return ServiceHiring{}, fmt.Errorf("hiring: apply quote: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM deliverables WHERE hiring_id = $1`, rec.ID); err != nil {
		return ServiceHiring{}, fmt.Errorf("hiring: clear deliverables: %w", err)
	}
	for _, d := range q.Deliverables {
		var row Deliverable
		if err := tx.QueryRow(ctx, `
            INSERT INTO deliverables (id, hiring_id, title, description, price, estimated_delivery_date, status, order_index)
            VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7)
            RETURNING id, hiring_id, title, description, price, estimated_delivery_date, status, order_index
        `, d.ID, rec.ID, d.Title, d.Description, d.Price, d.EstimatedDeliveryDate, d.OrderIndex).Scan(
			&row.ID, &row.HiringID, &row.Title, &row.Description, &row.Price,
			&row.EstimatedDeliveryDate, &row.Status, &row.OrderIndex,
		); err != nil {
			return ServiceHiring{}, fmt.Errorf("hiring: insert deliverable %d: %w", d.OrderIndex, err)
		}
		rec.Deliverables = append(rec.Deliverables, row)
	}
	return rec, nil
}

// querier covers both pgxpool.Pool and pgx.Tx for shared read helpers.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *PGStore) loadDeliverables(ctx context.Context, q querier, hiringID string) ([]Deliverable, error) {
	rows, err := q.Query(ctx, `
        SELECT id, hiring_id, title, description, price, estimated_delivery_date, status, order_index
        FROM deliverables
        WHERE hiring_id = $1
        ORDER BY order_index
    `, hiringID)
	if err != nil {
		return nil, fmt.Errorf("hiring: load deliverables: %w", err)
	}
	defer rows.Close()

	var list []Deliverable
	for rows.Next() {
		var d Deliverable
		if err := rows.Scan(&d.ID, &d.HiringID, &d.Title, &d.Description, &d.Price,
			&d.EstimatedDeliveryDate, &d.Status, &d.OrderIndex); err != nil {
			return nil, fmt.Errorf("hiring: scan deliverable: %w", err)
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

func scanHiring(row pgx.Row) (ServiceHiring, error) {
	var rec ServiceHiring
	err := row.Scan(
		&rec.ID,
		&rec.ServiceID,
		&rec.ClientID,
		&rec.ProviderID,
		&rec.Status,
		&rec.Description,
		&rec.NegotiationDescription,
		&rec.QuotedPrice,
		&rec.EstimatedHours,
		&rec.EstimatedTimeUnit,
		&rec.QuotationValidityDays,
		&rec.QuotedAt,
		&rec.Modality,
		&rec.InitialPct,
		&rec.FinalPct,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	return rec, err
}

func appendTimelineEvent(ctx context.Context, tx pgx.Tx, hiringID, eventType, actorID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("hiring: marshal timeline payload: %w", err)
	}
	var seq int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM timeline_events WHERE hiring_id = $1`, hiringID).Scan(&seq); err != nil {
		return fmt.Errorf("hiring: next timeline seq: %w", err)
	}
	var actor any
	if actorID != "" {
		actor = actorID
	}
	if _, err := tx.Exec(ctx, `
        INSERT INTO timeline_events (hiring_id, seq, type, payload, actor_id)
        VALUES ($1, $2, $3, $4::jsonb, $5)
    `, hiringID, seq, eventType, body, actor); err != nil {
		return fmt.Errorf("hiring: insert timeline event: %w", err)
	}
	return nil
}

func enqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("hiring: marshal outbox payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, topic, body); err != nil {
		return fmt.Errorf("hiring: enqueue outbox: %w", err)
	}
	return nil
}
