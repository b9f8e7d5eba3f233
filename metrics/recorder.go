package metrics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder records delivery instruments; it satisfies the forwarder's metrics sink
type Recorder struct {
	attempts metric.Int64Counter
	duration metric.Float64Histogram
	outcomes metric.Int64Counter
	retries  metric.Int64Counter
	inFlight metric.Int64UpDownCounter
}

func NewRecorder(meter metric.Meter) (*Recorder, error) {
	var (
		r   Recorder
		err error
	)

	r.attempts, err = meter.Int64Counter(
		"webhook.delivery.attempts",
		metric.WithDescription("Delivery attempts by status class"),
		metric.WithUnit("{attempts}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating attempts counter: %w", err)
	}

	r.duration, err = meter.Float64Histogram(
		"webhook.delivery.duration",
		metric.WithDescription("Duration of outbound delivery requests"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	r.outcomes, err = meter.Int64Counter(
		"webhook.delivery.outcomes",
		metric.WithDescription("Events that reached a final status"),
		metric.WithUnit("{events}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating outcomes counter: %w", err)
	}

	r.retries, err = meter.Int64Counter(
		"webhook.retries.scheduled",
		metric.WithDescription("Retries placed in the retry set"),
		metric.WithUnit("{retries}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating retries counter: %w", err)
	}

	r.inFlight, err = meter.Int64UpDownCounter(
		"webhook.deliveries.in_flight",
		metric.WithDescription("Delivery attempts currently running"),
		metric.WithUnit("{attempts}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating in-flight counter: %w", err)
	}

	return &r, nil
}

func (r *Recorder) AttemptCompleted(attempt int, statusClass string, d time.Duration) {
	ctx := context.Background()
	r.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status_class", statusClass),
		attribute.String("attempt", strconv.Itoa(attempt)),
	))
	r.duration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("status_class", statusClass),
	))
}

func (r *Recorder) Outcome(outcome string) {
	r.outcomes.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (r *Recorder) RetryScheduled(attempt int) {
	r.retries.Add(context.Background(), 1, metric.WithAttributes(attribute.String("attempt", strconv.Itoa(attempt))))
}

func (r *Recorder) InFlightIncr() { r.inFlight.Add(context.Background(), 1) }
func (r *Recorder) InFlightDecr() { r.inFlight.Add(context.Background(), -1) }

// Noop discards every measurement
type Noop struct{}

func (Noop) AttemptCompleted(int, string, time.Duration) {}
func (Noop) Outcome(string)                              {}
func (Noop) RetryScheduled(int)                          {}
func (Noop) InFlightIncr()                               {}
func (Noop) InFlightDecr()                               {}
