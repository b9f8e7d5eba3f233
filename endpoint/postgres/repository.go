package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marcelsud/webhook-relay/endpoint"
)

/*
PostgreSQL repository for users and endpoints

Endpoints are never deleted: Deactivate flips is_active so
events keep a valid foreign key
*/

type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a repository on top of an existing pool
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const endpointColumns = `id, user_id, name, destination_url, COALESCE(secret, ''), is_active, created_at, updated_at`

func scanEndpoint(row pgx.Row) (endpoint.Endpoint, error) {
	var ep endpoint.Endpoint
	err := row.Scan(
		&ep.ID,
		&ep.UserID,
		&ep.Name,
		&ep.DestinationURL,
		&ep.Secret,
		&ep.IsActive,
		&ep.CreatedAt,
		&ep.UpdatedAt,
	)
	return ep, err
}

// UserByAPIKey returns endpoint.ErrNotFound for an unknown key
func (r *Repository) UserByAPIKey(ctx context.Context, apiKey string) (endpoint.User, error) {
	query := `SELECT id, email, api_key, created_at FROM users WHERE api_key = $1`

	var u endpoint.User
	err := r.pool.QueryRow(ctx, query, apiKey).Scan(&u.ID, &u.Email, &u.APIKey, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return endpoint.User{}, endpoint.ErrNotFound
	}
	if err != nil {
		return endpoint.User{}, fmt.Errorf("selecting user: %w", err)
	}
	return u, nil
}

// Get returns an endpoint by id, active or not
func (r *Repository) Get(ctx context.Context, id string) (endpoint.Endpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM endpoints WHERE id = $1`

	ep, err := scanEndpoint(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return endpoint.Endpoint{}, endpoint.ErrNotFound
	}
	if err != nil {
		return endpoint.Endpoint{}, fmt.Errorf("selecting endpoint: %w", err)
	}
	return ep, nil
}

// ListByUser returns the user's endpoints, oldest first
func (r *Repository) ListByUser(ctx context.Context, userID string) ([]endpoint.Endpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM endpoints WHERE user_id = $1 ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("selecting endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []endpoint.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning endpoint: %w", err)
		}
		endpoints = append(endpoints, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating endpoints: %w", err)
	}
	return endpoints, nil
}

func (r *Repository) CreateUser(ctx context.Context, u endpoint.User) error {
	query := `INSERT INTO users (id, email, api_key, created_at) VALUES ($1, $2, $3, $4)`

	if _, err := r.pool.Exec(ctx, query, u.ID, u.Email, u.APIKey, u.CreatedAt); err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (r *Repository) Create(ctx context.Context, ep endpoint.Endpoint) error {
	query := `
		INSERT INTO endpoints (id, user_id, name, destination_url, secret, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		ep.ID, ep.UserID, ep.Name, ep.DestinationURL, ep.Secret, ep.IsActive, ep.CreatedAt, ep.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting endpoint: %w", err)
	}
	return nil
}

func (r *Repository) Update(ctx context.Context, ep endpoint.Endpoint) error {
	query := `
		UPDATE endpoints
		SET name = $1, destination_url = $2, secret = NULLIF($3, ''), is_active = $4, updated_at = $5
		WHERE id = $6`

	tag, err := r.pool.Exec(ctx, query, ep.Name, ep.DestinationURL, ep.Secret, ep.IsActive, ep.UpdatedAt, ep.ID)
	if err != nil {
		return fmt.Errorf("updating endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return endpoint.ErrNotFound
	}
	return nil
}

func (r *Repository) Deactivate(ctx context.Context, id string) error {
	query := `UPDATE endpoints SET is_active = FALSE, updated_at = NOW() WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deactivating endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return endpoint.ErrNotFound
	}
	return nil
}
