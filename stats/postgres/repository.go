package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marcelsud/webhook-relay/stats"
)

/*
PostgreSQL repository for daily endpoint stats

Every write is one INSERT ... ON CONFLICT DO UPDATE. The update
expressions read the conflicting row under its lock, so concurrent
workers never lose an increment or skew the running average.
*/

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) IncrementReceived(ctx context.Context, endpointID string, day time.Time) error {
	query := `
		INSERT INTO endpoint_stats (endpoint_id, date, total_received)
		VALUES ($1, $2, 1)
		ON CONFLICT (endpoint_id, date)
		DO UPDATE SET total_received = endpoint_stats.total_received + 1`

	if _, err := r.pool.Exec(ctx, query, endpointID, day); err != nil {
		return fmt.Errorf("incrementing received: %w", err)
	}
	return nil
}

func (r *Repository) DecrementReceived(ctx context.Context, endpointID string, day time.Time) error {
	query := `
		UPDATE endpoint_stats
		SET total_received = total_received - 1
		WHERE endpoint_id = $1 AND date = $2
		  AND total_received > total_delivered + total_failed`

	if _, err := r.pool.Exec(ctx, query, endpointID, day); err != nil {
		return fmt.Errorf("decrementing received: %w", err)
	}
	return nil
}

func (r *Repository) RecordOutcome(ctx context.Context, endpointID string, day time.Time, success bool, durationMs int) error {
	delivered, failed := 0, 1
	if success {
		delivered, failed = 1, 0
	}

	query := `
		INSERT INTO endpoint_stats (endpoint_id, date, total_delivered, total_failed, avg_response_time_ms)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (endpoint_id, date)
		DO UPDATE SET
			total_delivered = endpoint_stats.total_delivered + EXCLUDED.total_delivered,
			total_failed = endpoint_stats.total_failed + EXCLUDED.total_failed,
			avg_response_time_ms = ROUND(
				(endpoint_stats.avg_response_time_ms::numeric
					* (endpoint_stats.total_delivered + endpoint_stats.total_failed)
					+ EXCLUDED.avg_response_time_ms)
				/ (endpoint_stats.total_delivered + endpoint_stats.total_failed + 1)
			)`

	if _, err := r.pool.Exec(ctx, query, endpointID, day, delivered, failed, durationMs); err != nil {
		return fmt.Errorf("recording outcome: %w", err)
	}
	return nil
}

const statsColumns = `endpoint_id, date, total_received, total_delivered, total_failed, avg_response_time_ms`

func scanStats(row pgx.Row) (stats.Stats, error) {
	var s stats.Stats
	err := row.Scan(&s.EndpointID, &s.Date, &s.TotalReceived, &s.TotalDelivered, &s.TotalFailed, &s.AvgResponseTimeMs)
	return s, err
}

func (r *Repository) Get(ctx context.Context, endpointID string, day time.Time) (stats.Stats, error) {
	query := `SELECT ` + statsColumns + ` FROM endpoint_stats WHERE endpoint_id = $1 AND date = $2`

	s, err := scanStats(r.pool.QueryRow(ctx, query, endpointID, day))
	if errors.Is(err, pgx.ErrNoRows) {
		return stats.Stats{}, stats.ErrNotFound
	}
	if err != nil {
		return stats.Stats{}, fmt.Errorf("selecting stats: %w", err)
	}
	return s, nil
}

func (r *Repository) List(ctx context.Context, endpointID string, from, to time.Time) ([]stats.Stats, error) {
	query := `SELECT ` + statsColumns + ` FROM endpoint_stats
		WHERE endpoint_id = $1 AND date BETWEEN $2 AND $3 ORDER BY date`

	rows, err := r.pool.Query(ctx, query, endpointID, from, to)
	if err != nil {
		return nil, fmt.Errorf("selecting stats: %w", err)
	}
	defer rows.Close()

	var result []stats.Stats
	for rows.Next() {
		s, err := scanStats(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning stats: %w", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stats: %w", err)
	}
	return result, nil
}
