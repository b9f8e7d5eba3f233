package stats

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

/* Aggregator is best effort: a failed counter update is logged
 * and never fails intake or delivery
 */
type Aggregator struct {
	Repo Repository
	log  zerolog.Logger
	now  func() time.Time
}

func NewAggregator(repo Repository, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		Repo: repo,
		log:  log.With().Str("component", "stats").Logger(),
		now:  time.Now,
	}
}

// RecordReceived counts an event on the day of at
func (a *Aggregator) RecordReceived(ctx context.Context, endpointID string, at time.Time) {
	if err := a.Repo.IncrementReceived(ctx, endpointID, Day(at)); err != nil {
		a.log.Error().Err(err).Str("endpoint_id", endpointID).Msg("failed to record received event")
	}
}

// UndoReceived takes back a RecordReceived made with the same at
func (a *Aggregator) UndoReceived(ctx context.Context, endpointID string, at time.Time) {
	if err := a.Repo.DecrementReceived(ctx, endpointID, Day(at)); err != nil {
		a.log.Error().Err(err).Str("endpoint_id", endpointID).Msg("failed to undo received event")
	}
}

func (a *Aggregator) RecordOutcome(ctx context.Context, endpointID string, success bool, duration time.Duration) {
	if err := a.Repo.RecordOutcome(ctx, endpointID, Day(a.now()), success, int(duration.Milliseconds())); err != nil {
		a.log.Error().Err(err).
			Str("endpoint_id", endpointID).
			Bool("success", success).
			Msg("failed to record delivery outcome")
	}
}
