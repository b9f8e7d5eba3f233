package metrics

import (
	"context"
	"fmt"
	"time"

	redisqueue "github.com/marcelsud/webhook-relay/queue/redis"
	"github.com/marcelsud/webhook-relay/webhook"
)

// QueueInspector reports broker state
type QueueInspector interface {
	Lengths(ctx context.Context) (map[string]int64, error)
	ActiveWorkers(ctx context.Context) ([]redisqueue.WorkerHeartbeat, error)
}

// EventCounter aggregates the event store
type EventCounter interface {
	CountByStatus(ctx context.Context) (map[webhook.Status]int64, error)
	CountDeliveredSince(ctx context.Context, since time.Time) (int64, error)
}

// StoreCollector implements the Collector interface over the broker and the event store
type StoreCollector struct {
	queue  QueueInspector
	events EventCounter
	now    func() time.Time
}

// NewCollector creates a new metrics collector
func NewCollector(q QueueInspector, events EventCounter) *StoreCollector {
	return &StoreCollector{
		queue:  q,
		events: events,
		now:    time.Now,
	}
}

// Collect gathers all metrics
func (c *StoreCollector) Collect(ctx context.Context) (Metrics, error) {
	queueLengths, err := c.GetQueueLengths(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting queue lengths: %w", err)
	}

	statusCounts, err := c.GetStatusCounts(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting status counts: %w", err)
	}

	throughput, err := c.GetThroughput(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting throughput: %w", err)
	}

	workers, err := c.GetActiveWorkers(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting active workers: %w", err)
	}

	return Metrics{
		QueueLengths: queueLengths,
		StatusCounts: statusCounts,
		Throughput:   throughput,
		Workers:      workers,
		Timestamp:    c.now(),
	}, nil
}

func (c *StoreCollector) GetQueueLengths(ctx context.Context) (map[string]int64, error) {
	return c.queue.Lengths(ctx)
}

// GetStatusCounts reports every status, zero included
func (c *StoreCollector) GetStatusCounts(ctx context.Context) (map[string]int64, error) {
	counts, err := c.events.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting events: %w", err)
	}

	out := make(map[string]int64, 4)
	for _, s := range []webhook.Status{webhook.Pending, webhook.Forwarding, webhook.Delivered, webhook.Failed} {
		out[s.String()] = counts[s]
	}
	return out, nil
}

func (c *StoreCollector) GetThroughput(ctx context.Context) (ThroughputMetrics, error) {
	now := c.now()

	var tp ThroughputMetrics
	windows := []struct {
		d   time.Duration
		dst *int64
	}{
		{time.Minute, &tp.LastMinute},
		{5 * time.Minute, &tp.LastFiveMinutes},
		{15 * time.Minute, &tp.LastFifteenMinutes},
	}
	for _, w := range windows {
		n, err := c.events.CountDeliveredSince(ctx, now.Add(-w.d))
		if err != nil {
			return ThroughputMetrics{}, fmt.Errorf("counting deliveries in %s: %w", w.d, err)
		}
		*w.dst = n
	}
	return tp, nil
}

func (c *StoreCollector) GetActiveWorkers(ctx context.Context) (map[string][]WorkerInfo, error) {
	heartbeats, err := c.queue.ActiveWorkers(ctx)
	if err != nil {
		return nil, err
	}

	workers := make(map[string][]WorkerInfo)
	for _, hb := range heartbeats {
		workers[hb.Status] = append(workers[hb.Status], WorkerInfo{
			WorkerID:      hb.WorkerID,
			Status:        hb.Status,
			LastHeartbeat: hb.LastHeartbeat,
		})
	}
	return workers, nil
}
