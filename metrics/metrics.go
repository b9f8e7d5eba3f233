package metrics

import (
	"context"
	"time"
)

// Metrics is a point-in-time view of the relay's queues and event store.
type Metrics struct {
	// QueueLengths maps queue name (immediate, retry, processing) to its size
	QueueLengths map[string]int64 `json:"queue_lengths"`

	// StatusCounts maps event status to the number of events in it
	StatusCounts map[string]int64 `json:"status_counts"`

	// Throughput is events delivered per time window
	Throughput ThroughputMetrics `json:"throughput"`

	// Workers maps worker status to the consumers reporting it
	Workers map[string][]WorkerInfo `json:"workers"`

	// Timestamp when metrics were collected
	Timestamp time.Time `json:"timestamp"`
}

// ThroughputMetrics represents events delivered over different time windows.
type ThroughputMetrics struct {
	LastMinute         int64 `json:"last_minute"`
	LastFiveMinutes    int64 `json:"last_five_minutes"`
	LastFifteenMinutes int64 `json:"last_fifteen_minutes"`
}

// WorkerInfo represents a consumer with a live heartbeat.
type WorkerInfo struct {
	WorkerID      string    `json:"worker_id"`
	Status        string    `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Collector defines the interface for collecting metrics from the relay.
type Collector interface {
	// Collect gathers current metrics from the system
	Collect(ctx context.Context) (Metrics, error)

	// GetQueueLengths returns the number of messages per queue
	GetQueueLengths(ctx context.Context) (map[string]int64, error)

	// GetStatusCounts returns the count of events by status
	GetStatusCounts(ctx context.Context) (map[string]int64, error)

	// GetThroughput returns events delivered over time windows
	GetThroughput(ctx context.Context) (ThroughputMetrics, error)

	// GetActiveWorkers returns live consumers grouped by status
	GetActiveWorkers(ctx context.Context) (map[string][]WorkerInfo, error)
}
