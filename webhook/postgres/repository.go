package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marcelsud/webhook-relay/webhook"
)

/*
PostgreSQL repository for events and delivery attempts

Status writes never leave a final state: every UPDATE carries
WHERE status NOT IN ('delivered', 'failed'). Attempt rows are
append-only and numbered without gaps.
*/

type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a repository on top of an existing pool
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const eventColumns = `id, endpoint_id, payload_key, method, headers, status, received_at, forwarded_at, updated_at`

func scanEvent(row pgx.Row) (webhook.Event, error) {
	var (
		e      webhook.Event
		status string
	)
	err := row.Scan(
		&e.ID,
		&e.EndpointID,
		&e.PayloadKey,
		&e.Method,
		&e.Headers,
		&status,
		&e.ReceivedAt,
		&e.ForwardedAt,
		&e.UpdatedAt,
	)
	e.Status = webhook.NewStatus(status)
	return e, err
}

const attemptColumns = `id, event_id, attempt_number, status, response_code, COALESCE(blob_key, ''),
	COALESCE(error_message, ''), duration_ms, attempted_at, next_retry_at`

func scanAttempt(row pgx.Row) (webhook.Attempt, error) {
	var (
		a          webhook.Attempt
		status     string
		durationMs int64
	)
	err := row.Scan(
		&a.ID,
		&a.EventID,
		&a.Number,
		&status,
		&a.ResponseCode,
		&a.BlobKey,
		&a.ErrorMessage,
		&durationMs,
		&a.AttemptedAt,
		&a.NextRetryAt,
	)
	a.Status = webhook.NewAttemptStatus(status)
	a.Duration = time.Duration(durationMs) * time.Millisecond
	return a, err
}

func (r *Repository) Create(ctx context.Context, e webhook.Event) error {
	query := `
		INSERT INTO webhook_events (id, endpoint_id, payload_key, method, headers, status, received_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	headers := e.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	_, err := r.pool.Exec(ctx, query,
		e.ID, e.EndpointID, e.PayloadKey, e.Method, headers, e.Status.String(), e.ReceivedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM webhook_events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return webhook.ErrNotFound
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (webhook.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM webhook_events WHERE id = $1`

	e, err := scanEvent(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return webhook.Event{}, webhook.ErrNotFound
	}
	if err != nil {
		return webhook.Event{}, fmt.Errorf("selecting event: %w", err)
	}
	return e, nil
}

// ListByEndpoint returns the newest events first
func (r *Repository) ListByEndpoint(ctx context.Context, endpointID string, limit int) ([]webhook.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM webhook_events
		WHERE endpoint_id = $1 ORDER BY received_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, endpointID, limit)
	if err != nil {
		return nil, fmt.Errorf("selecting events: %w", err)
	}
	defer rows.Close()

	var events []webhook.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

func (r *Repository) ListAttempts(ctx context.Context, eventID string) ([]webhook.Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM delivery_attempts
		WHERE event_id = $1 ORDER BY attempt_number DESC`

	rows, err := r.pool.Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("selecting attempts: %w", err)
	}
	defer rows.Close()

	var attempts []webhook.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attempts: %w", err)
	}
	return attempts, nil
}

func (r *Repository) LatestAttempt(ctx context.Context, eventID string) (webhook.Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM delivery_attempts
		WHERE event_id = $1 ORDER BY attempt_number DESC LIMIT 1`

	a, err := scanAttempt(r.pool.QueryRow(ctx, query, eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return webhook.Attempt{}, webhook.ErrNotFound
	}
	if err != nil {
		return webhook.Attempt{}, fmt.Errorf("selecting latest attempt: %w", err)
	}
	return a, nil
}

func (r *Repository) MarkForwarding(ctx context.Context, id string) error {
	return r.transition(ctx, id, `
		UPDATE webhook_events SET status = 'forwarding', updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('delivered', 'failed')`, id)
}

// MarkDelivered sets forwarded_at only the first time
func (r *Repository) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	return r.transition(ctx, id, `
		UPDATE webhook_events
		SET status = 'delivered', forwarded_at = COALESCE(forwarded_at, $2), updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('delivered', 'failed')`, id, at)
}

func (r *Repository) MarkFailed(ctx context.Context, id string) error {
	return r.transition(ctx, id, `
		UPDATE webhook_events SET status = 'failed', updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('delivered', 'failed')`, id)
}

func (r *Repository) transition(ctx context.Context, id, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating event status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM webhook_events WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking event: %w", err)
	}
	if !exists {
		return webhook.ErrNotFound
	}
	return webhook.ErrTransitionDenied
}

/* InsertAttempt writes the row only when the number is free and
 * the previous number exists, in a single statement
 */
func (r *Repository) InsertAttempt(ctx context.Context, a webhook.Attempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	query := `
		INSERT INTO delivery_attempts (id, event_id, attempt_number, status, response_code, blob_key,
			error_message, duration_ms, attempted_at, next_retry_at)
		SELECT $1::uuid, $2::uuid, $3::int, $4::text, $5::int, NULLIF($6::text, ''),
			NULLIF($7::text, ''), $8::int, $9::timestamptz, $10::timestamptz
		WHERE $3::int = 1 OR EXISTS (
			SELECT 1 FROM delivery_attempts WHERE event_id = $2::uuid AND attempt_number = $3::int - 1
		)
		ON CONFLICT (event_id, attempt_number) DO NOTHING`

	tag, err := r.pool.Exec(ctx, query,
		a.ID,
		a.EventID,
		a.Number,
		a.Status.String(),
		a.ResponseCode,
		a.BlobKey,
		a.ErrorMessage,
		a.Duration.Milliseconds(),
		a.AttemptedAt,
		a.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("inserting attempt: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var taken bool
	err = r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM delivery_attempts WHERE event_id = $1 AND attempt_number = $2)`,
		a.EventID, a.Number).Scan(&taken)
	if err != nil {
		return fmt.Errorf("checking attempt: %w", err)
	}
	if taken {
		return webhook.ErrDuplicateAttempt
	}
	return webhook.ErrAttemptOutOfOrder
}

/* FindStalled returns open events untouched since olderThan whose
 * latest attempt has no retry still pending
 */
func (r *Repository) FindStalled(ctx context.Context, olderThan time.Time, limit int) ([]webhook.Stalled, error) {
	query := `
		SELECT e.id, e.endpoint_id, en.destination_url, e.payload_key, COALESCE(a.attempt_number, 0)
		FROM webhook_events e
		JOIN endpoints en ON en.id = e.endpoint_id
		LEFT JOIN LATERAL (
			SELECT attempt_number, next_retry_at
			FROM delivery_attempts
			WHERE event_id = e.id
			ORDER BY attempt_number DESC
			LIMIT 1
		) a ON TRUE
		WHERE e.status IN ('pending', 'forwarding')
			AND e.updated_at < $1
			AND (a.next_retry_at IS NULL OR a.next_retry_at < $1)
		ORDER BY e.updated_at
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("selecting stalled events: %w", err)
	}
	defer rows.Close()

	var stalled []webhook.Stalled
	for rows.Next() {
		var s webhook.Stalled
		if err := rows.Scan(&s.EventID, &s.EndpointID, &s.DestinationURL, &s.PayloadKey, &s.LastAttempt); err != nil {
			return nil, fmt.Errorf("scanning stalled event: %w", err)
		}
		stalled = append(stalled, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stalled events: %w", err)
	}
	return stalled, nil
}

// CountByStatus returns the number of events per status
func (r *Repository) CountByStatus(ctx context.Context) (map[webhook.Status]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM webhook_events GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting events: %w", err)
	}
	defer rows.Close()

	counts := make(map[webhook.Status]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		counts[webhook.NewStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating counts: %w", err)
	}
	return counts, nil
}

// CountDeliveredSince returns how many events were delivered after since
func (r *Repository) CountDeliveredSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM webhook_events WHERE status = 'delivered' AND forwarded_at >= $1`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting delivered events: %w", err)
	}
	return n, nil
}
