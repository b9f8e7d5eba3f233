// Package scheduler runs the periodic loops of the delivery process: moving
// due retries to the forwarder and recovering work the pipeline lost.
package scheduler

import (
	"context"
	"time"

	"github.com/marcelsud/webhook-relay/queue"
	"github.com/rs/zerolog"
)

// Forwarder delivers one message
type Forwarder interface {
	Forward(ctx context.Context, msg queue.Message) error
}

type RetryConfig struct {
	// PollInterval is how often due retries are drained
	PollInterval time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{PollInterval: 30 * time.Second}
}

// RetryScheduler drains due retries and forwards them one by one
type RetryScheduler struct {
	cfg     RetryConfig
	retries queue.RetrySet
	fwd     Forwarder
	log     zerolog.Logger
	now     func() time.Time
}

func NewRetryScheduler(cfg RetryConfig, retries queue.RetrySet, fwd Forwarder, log zerolog.Logger) *RetryScheduler {
	return &RetryScheduler{
		cfg:     cfg,
		retries: retries,
		fwd:     fwd,
		log:     log.With().Str("component", "retry_scheduler").Logger(),
		now:     time.Now,
	}
}

// Run blocks until ctx is cancelled
func (s *RetryScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.cfg.PollInterval).Msg("retry scheduler started")

	s.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("retry scheduler stopped")
			return nil
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *RetryScheduler) runCycle(ctx context.Context) {
	due, err := s.retries.DrainDue(ctx, s.now())
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error().Err(err).Msg("failed to drain due retries")
		}
		return
	}
	if len(due) == 0 {
		return
	}

	s.log.Info().Int("count", len(due)).Msg("processing due retries")

	failed := 0
	for i, msg := range due {
		if ctx.Err() != nil {
			s.putBack(ctx, due[i:])
			return
		}
		if err := s.fwd.Forward(ctx, msg); err != nil {
			env := msg.Env()
			s.log.Error().Err(err).Str("event_id", env.EventID).Int("attempt", env.AttemptNumber).Msg("retry failed")
			failed++
		}
	}

	s.log.Info().Int("processed", len(due)).Int("failed", failed).Msg("retry cycle complete")
}

// putBack returns drained but unprocessed messages to the retry set, due immediately
func (s *RetryScheduler) putBack(ctx context.Context, rest []queue.Message) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	for _, msg := range rest {
		retry := queue.Retry{Envelope: msg.Env()}
		if err := s.retries.ScheduleRetry(ctx, retry, 0); err != nil {
			s.log.Error().Err(err).Str("event_id", retry.EventID).Int("attempt", retry.AttemptNumber).Msg("failed to put back retry")
		}
	}
	s.log.Info().Int("count", len(rest)).Msg("cycle interrupted, unprocessed retries put back")
}
