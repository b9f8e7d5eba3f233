package stats

import (
	"context"
	"errors"
	"math"
	"time"
)

var ErrNotFound = errors.New("stats not found")

// Stats are the daily counters of one endpoint
type Stats struct {
	EndpointID        string
	Date              time.Time
	TotalReceived     int
	TotalDelivered    int
	TotalFailed       int
	AvgResponseTimeMs int
}

// Day truncates t to local midnight
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// NextAverage folds one more duration into a running average over delivered+failed samples
func NextAverage(avg, delivered, failed, durationMs int) int {
	n := delivered + failed
	return int(math.Round(float64(avg*n+durationMs) / float64(n+1)))
}

// Repository applies each change as a single atomic write
type Repository interface {
	IncrementReceived(ctx context.Context, endpointID string, day time.Time) error
	// DecrementReceived leaves the row alone when total_received is not above delivered+failed
	DecrementReceived(ctx context.Context, endpointID string, day time.Time) error
	RecordOutcome(ctx context.Context, endpointID string, day time.Time, success bool, durationMs int) error
	Get(ctx context.Context, endpointID string, day time.Time) (Stats, error)
	// List returns rows with from <= date <= to, oldest first
	List(ctx context.Context, endpointID string, from, to time.Time) ([]Stats, error)
}
