//go:build integration

// Package databasetest starts a migrated PostgreSQL container for integration tests.
package databasetest

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marcelsud/webhook-relay/internal/database"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	defaultDatabase = "webhook_relay"
	defaultUser     = "testuser"
	defaultPassword = "testpass"
)

// Setup runs postgres:16-alpine, applies the migrations and returns a pool.
// The container is terminated when the test finishes.
func Setup(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(defaultDatabase),
		postgres.WithUsername(defaultUser),
		postgres.WithPassword(defaultPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, database.RunMigrations(dsn))

	pool, err := database.NewPool(ctx, dsn, database.PoolOptions{MaxConns: 5})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

// SeedEndpoint inserts a user (if missing) and an active endpoint owned by it
func SeedEndpoint(t *testing.T, ctx context.Context, pool *pgxpool.Pool, userID, endpointID string) {
	t.Helper()

	_, err := pool.Exec(ctx,
		`INSERT INTO users (id, email, api_key) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		userID, userID+"@example.com", "key-"+userID)
	require.NoError(t, err)

	_, err = pool.Exec(ctx,
		`INSERT INTO endpoints (id, user_id, name, destination_url) VALUES ($1, $2, $3, $4)`,
		endpointID, userID, "test", "https://example.com/hook")
	require.NoError(t, err)
}
