package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "not an int64 sum: %T", data)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRecorder(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	rec, err := NewRecorder(provider.Meter("test"))
	require.NoError(t, err)

	rec.InFlightIncr()
	rec.AttemptCompleted(1, "5xx", 120*time.Millisecond)
	rec.RetryScheduled(2)
	rec.InFlightDecr()
	rec.InFlightIncr()
	rec.AttemptCompleted(2, "2xx", 80*time.Millisecond)
	rec.Outcome("delivered")

	data := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, data["webhook.delivery.attempts"]))
	assert.Equal(t, int64(1), sumOf(t, data["webhook.retries.scheduled"]))
	assert.Equal(t, int64(1), sumOf(t, data["webhook.delivery.outcomes"]))
	assert.Equal(t, int64(1), sumOf(t, data["webhook.deliveries.in_flight"]))

	hist, ok := data["webhook.delivery.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count)
}

func TestNoop(t *testing.T) {
	var n Noop
	assert.NotPanics(t, func() {
		n.InFlightIncr()
		n.AttemptCompleted(1, "2xx", time.Second)
		n.RetryScheduled(2)
		n.Outcome("failed")
		n.InFlightDecr()
	})
}
