package scheduler

import (
	"context"
	"time"

	"github.com/marcelsud/webhook-relay/queue"
	"github.com/marcelsud/webhook-relay/webhook"
	"github.com/rs/zerolog"
)

// WorkQueue is what the reconciler needs from the broker
type WorkQueue interface {
	queue.Producer
	// RecoverOrphaned moves messages held by dead consumers back to the queue
	RecoverOrphaned(ctx context.Context) (int, error)
}

type ReconcilerConfig struct {
	// Interval between cycles
	Interval time.Duration
	// Threshold is how long an open event may go untouched
	Threshold time.Duration
	// BatchSize caps the stalled events handled per cycle
	BatchSize int
}

func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Interval:  5 * time.Minute,
		Threshold: 10 * time.Minute,
		BatchSize: 100,
	}
}

/* Reconciler re-enqueues work the pipeline lost: messages reserved by a
 * consumer that died, and open events with no pending message at all.
 * Re-enqueued messages may duplicate live ones; the forwarder's attempt
 * guards make that harmless.
 */
type Reconciler struct {
	cfg   ReconcilerConfig
	store webhook.Sweeper
	queue WorkQueue
	log   zerolog.Logger
	now   func() time.Time
}

func NewReconciler(cfg ReconcilerConfig, store webhook.Sweeper, q WorkQueue, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		cfg:   cfg,
		store: store,
		queue: q,
		log:   log.With().Str("component", "reconciler").Logger(),
		now:   time.Now,
	}
}

// Run blocks until ctx is cancelled
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.log.Info().
		Dur("interval", r.cfg.Interval).
		Dur("threshold", r.cfg.Threshold).
		Int("batch", r.cfg.BatchSize).
		Msg("reconciler started")

	r.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("reconciler stopped")
			return nil
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

func (r *Reconciler) runCycle(ctx context.Context) {
	recovered, err := r.queue.RecoverOrphaned(ctx)
	switch {
	case err != nil && ctx.Err() == nil:
		r.log.Error().Err(err).Msg("failed to recover orphaned messages")
	case recovered > 0:
		r.log.Warn().Int("count", recovered).Msg("recovered orphaned messages")
	}

	cutoff := r.now().Add(-r.cfg.Threshold)
	stalled, err := r.store.FindStalled(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Error().Err(err).Msg("failed to find stalled events")
		}
		return
	}
	if len(stalled) == 0 {
		return
	}

	r.log.Warn().Int("count", len(stalled)).Msg("found stalled events")

	pushed, failed := 0, 0
	for _, s := range stalled {
		if ctx.Err() != nil {
			r.log.Info().Int("done", pushed+failed).Int("total", len(stalled)).Msg("cycle interrupted")
			return
		}
		msg := messageFor(s)
		if err := r.queue.Push(ctx, msg); err != nil {
			r.log.Error().Err(err).Str("event_id", s.EventID).Msg("failed to re-enqueue stalled event")
			failed++
			continue
		}
		r.log.Info().Str("event_id", s.EventID).Int("attempt", msg.Env().AttemptNumber).Msg("re-enqueued stalled event")
		pushed++
	}

	r.log.Info().Int("pushed", pushed).Int("failed", failed).Msg("reconcile cycle complete")
}

// messageFor restarts an event with no attempt, otherwise resumes at its latest attempt
func messageFor(s webhook.Stalled) queue.Message {
	env := queue.Envelope{
		EventID:        s.EventID,
		EndpointID:     s.EndpointID,
		DestinationURL: s.DestinationURL,
		PayloadKey:     s.PayloadKey,
		AttemptNumber:  s.LastAttempt,
	}
	if s.LastAttempt == 0 {
		env.AttemptNumber = 1
		return queue.Webhook{Envelope: env}
	}
	return queue.Retry{Envelope: env}
}
