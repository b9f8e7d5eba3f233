//go:build integration

package database_test

import (
	"context"
	"testing"

	"github.com/marcelsud/webhook-relay/internal/database/databasetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMigrations_Integration(t *testing.T) {
	ctx := context.Background()
	pool := databasetest.Setup(t, ctx)

	for _, table := range []string{"users", "endpoints", "webhook_events", "delivery_attempts", "endpoint_stats"} {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, table)
	}
}
