package forwarder

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marcelsud/webhook-relay/queue"
	"github.com/rs/zerolog"
)

const (
	StatusIdle       = "idle"
	StatusProcessing = "processing"
)

// Handler delivers one message
type Handler interface {
	Forward(ctx context.Context, msg queue.Message) error
}

// WorkQueue is the consumer side of the immediate queue plus the worker heartbeat
type WorkQueue interface {
	queue.Consumer
	SetHeartbeat(ctx context.Context, status string) error
	ClearHeartbeat(ctx context.Context) error
}

type ConsumerConfig struct {
	DequeueTimeout    time.Duration
	HeartbeatInterval time.Duration
	ErrorPause        time.Duration
}

func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		DequeueTimeout:    5 * time.Second,
		HeartbeatInterval: 20 * time.Second,
		ErrorPause:        time.Second,
	}
}

/* Consumer takes one message at a time off the immediate queue.
 * A message is acknowledged only after Forward returned, so a crash
 * leaves it in the processing list for recovery.
 */
type Consumer struct {
	cfg     ConsumerConfig
	queue   WorkQueue
	handler Handler
	log     zerolog.Logger
	status  atomic.Value
}

func NewConsumer(cfg ConsumerConfig, q WorkQueue, handler Handler, log zerolog.Logger) *Consumer {
	c := &Consumer{
		cfg:     cfg,
		queue:   q,
		handler: handler,
		log:     log.With().Str("component", "consumer").Logger(),
	}
	c.status.Store(StatusIdle)
	return c
}

// Run blocks until ctx is cancelled. The message in hand is finished first.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info().Dur("dequeue_timeout", c.cfg.DequeueTimeout).Msg("consumer started")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.heartbeat(ctx)
	}()

	for ctx.Err() == nil {
		res, err := c.queue.Reserve(ctx, c.cfg.DequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.log.Error().Err(err).Msg("failed to reserve message")
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.ErrorPause):
			}
			continue
		}
		if res == nil {
			continue
		}
		c.handle(ctx, res)
	}

	wg.Wait()

	cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := c.queue.ClearHeartbeat(cleanup); err != nil {
		c.log.Warn().Err(err).Msg("failed to clear heartbeat")
	}
	c.log.Info().Msg("consumer stopped")
	return nil
}

func (c *Consumer) handle(ctx context.Context, res *queue.Reservation) {
	c.status.Store(StatusProcessing)
	defer c.status.Store(StatusIdle)

	env := res.Message.Env()
	if err := c.handler.Forward(ctx, res.Message); err != nil {
		c.log.Error().Err(err).Str("event_id", env.EventID).Int("attempt", env.AttemptNumber).Msg("forward failed")
	}

	if err := c.queue.Ack(context.WithoutCancel(ctx), res); err != nil {
		c.log.Error().Err(err).Str("event_id", env.EventID).Msg("failed to ack message")
	}
}

func (c *Consumer) heartbeat(ctx context.Context) {
	beat := func() {
		if err := c.queue.SetHeartbeat(ctx, c.status.Load().(string)); err != nil && ctx.Err() == nil {
			c.log.Warn().Err(err).Msg("failed to write heartbeat")
		}
	}

	beat()
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beat()
		}
	}
}
