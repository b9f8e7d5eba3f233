//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-relay/internal/database/databasetest"
	"github.com/marcelsud/webhook-relay/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

/*
Run with: go test -tags=integration ./webhook/postgres/...
Requires a local Docker daemon
*/

func setup(t *testing.T) (context.Context, *Repository, string) {
	ctx := context.Background()
	pool := databasetest.Setup(t, ctx)
	endpointID := uuid.NewString()
	databasetest.SeedEndpoint(t, ctx, pool, uuid.NewString(), endpointID)
	return ctx, NewRepository(pool), endpointID
}

func newEvent(endpointID string, at time.Time) webhook.Event {
	id := uuid.NewString()
	return webhook.Event{
		ID:         id,
		EndpointID: endpointID,
		PayloadKey: "payloads/2024-03-09/" + id + ".json",
		Method:     "POST",
		Headers:    map[string]string{"content-type": "application/json"},
		Status:     webhook.Pending,
		ReceivedAt: at,
		UpdatedAt:  at,
	}
}

func attempt(eventID string, n int, status webhook.AttemptStatus) webhook.Attempt {
	code := 500
	if status == webhook.AttemptSuccess {
		code = 200
	}
	return webhook.Attempt{
		EventID:      eventID,
		Number:       n,
		Status:       status,
		ResponseCode: &code,
		Duration:     120 * time.Millisecond,
		AttemptedAt:  time.Now().UTC(),
	}
}

func TestRepository_Events_Integration(t *testing.T) {
	ctx, repo, endpointID := setup(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	e := newEvent(endpointID, now)
	require.NoError(t, repo.Create(ctx, e))

	t.Run("get round trips headers", func(t *testing.T) {
		got, err := repo.Get(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, webhook.Pending, got.Status)
		assert.Equal(t, "application/json", got.Headers["content-type"])
		assert.Nil(t, got.ForwardedAt)
	})

	t.Run("list by endpoint", func(t *testing.T) {
		events, err := repo.ListByEndpoint(ctx, endpointID, 10)
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("delivered is final", func(t *testing.T) {
		require.NoError(t, repo.MarkForwarding(ctx, e.ID))
		require.NoError(t, repo.MarkDelivered(ctx, e.ID, now))

		assert.ErrorIs(t, repo.MarkForwarding(ctx, e.ID), webhook.ErrTransitionDenied)
		assert.ErrorIs(t, repo.MarkFailed(ctx, e.ID), webhook.ErrTransitionDenied)
		assert.ErrorIs(t, repo.MarkDelivered(ctx, e.ID, now.Add(time.Hour)), webhook.ErrTransitionDenied)

		got, err := repo.Get(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, webhook.Delivered, got.Status)
		require.NotNil(t, got.ForwardedAt)
		assert.WithinDuration(t, now, *got.ForwardedAt, time.Millisecond)
	})

	t.Run("unknown event", func(t *testing.T) {
		_, err := repo.Get(ctx, uuid.NewString())
		assert.ErrorIs(t, err, webhook.ErrNotFound)
		assert.ErrorIs(t, repo.MarkForwarding(ctx, uuid.NewString()), webhook.ErrNotFound)
	})
}

func TestRepository_Attempts_Integration(t *testing.T) {
	ctx, repo, endpointID := setup(t)
	e := newEvent(endpointID, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, e))

	t.Run("no attempts yet", func(t *testing.T) {
		_, err := repo.LatestAttempt(ctx, e.ID)
		assert.ErrorIs(t, err, webhook.ErrNotFound)
	})

	t.Run("gap is rejected", func(t *testing.T) {
		err := repo.InsertAttempt(ctx, attempt(e.ID, 2, webhook.AttemptFailed))
		assert.ErrorIs(t, err, webhook.ErrAttemptOutOfOrder)
	})

	t.Run("contiguous numbering", func(t *testing.T) {
		retryAt := time.Now().UTC().Add(5 * time.Minute).Truncate(time.Millisecond)
		first := attempt(e.ID, 1, webhook.AttemptFailed)
		first.NextRetryAt = &retryAt
		first.BlobKey = "responses/2024-03-09/" + e.ID + "-1.json"
		require.NoError(t, repo.InsertAttempt(ctx, first))
		require.NoError(t, repo.InsertAttempt(ctx, attempt(e.ID, 2, webhook.AttemptSuccess)))

		attempts, err := repo.ListAttempts(ctx, e.ID)
		require.NoError(t, err)
		require.Len(t, attempts, 2)
		assert.Equal(t, 2, attempts[0].Number)
		assert.Equal(t, 1, attempts[1].Number)
		assert.Equal(t, first.BlobKey, attempts[1].BlobKey)
		require.NotNil(t, attempts[1].NextRetryAt)
		assert.WithinDuration(t, retryAt, *attempts[1].NextRetryAt, time.Millisecond)
		assert.Equal(t, 120*time.Millisecond, attempts[0].Duration)

		latest, err := repo.LatestAttempt(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, webhook.AttemptSuccess, latest.Status)
	})

	t.Run("duplicate is rejected", func(t *testing.T) {
		err := repo.InsertAttempt(ctx, attempt(e.ID, 2, webhook.AttemptFailed))
		assert.ErrorIs(t, err, webhook.ErrDuplicateAttempt)
	})
}

func TestRepository_FindStalled_Integration(t *testing.T) {
	ctx, repo, endpointID := setup(t)
	old := time.Now().UTC().Add(-time.Hour)

	fresh := newEvent(endpointID, time.Now().UTC())
	untouched := newEvent(endpointID, old)
	retrying := newEvent(endpointID, old)
	lostRetry := newEvent(endpointID, old)
	delivered := newEvent(endpointID, old)
	for _, e := range []webhook.Event{fresh, untouched, retrying, lostRetry, delivered} {
		require.NoError(t, repo.Create(ctx, e))
	}

	future := time.Now().UTC().Add(time.Hour)
	pending := attempt(retrying.ID, 1, webhook.AttemptFailed)
	pending.NextRetryAt = &future
	require.NoError(t, repo.InsertAttempt(ctx, pending))

	past := old.Add(time.Minute)
	lost := attempt(lostRetry.ID, 1, webhook.AttemptFailed)
	lost.NextRetryAt = &past
	require.NoError(t, repo.InsertAttempt(ctx, lost))

	_, err := repo.pool.Exec(ctx,
		`UPDATE webhook_events SET status = 'delivered', updated_at = $2 WHERE id = $1`, delivered.ID, old)
	require.NoError(t, err)

	stalled, err := repo.FindStalled(ctx, time.Now().UTC().Add(-10*time.Minute), 100)
	require.NoError(t, err)

	byID := map[string]webhook.Stalled{}
	for _, s := range stalled {
		byID[s.EventID] = s
	}
	assert.Len(t, byID, 2)
	assert.Equal(t, 0, byID[untouched.ID].LastAttempt)
	assert.Equal(t, 1, byID[lostRetry.ID].LastAttempt)
	assert.Equal(t, "https://example.com/hook", byID[untouched.ID].DestinationURL)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), counts[webhook.Pending])
	assert.Equal(t, int64(1), counts[webhook.Delivered])
}
