package telemetry

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

func TestMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := NewMetrics(mp.Meter("test"))

	ctx := context.Background()
	m.RecordRun(ctx, OutcomeCompleted)
	m.RecordRun(ctx, OutcomeCanceled)
	m.RecordProcessed(ctx, 3, 5*time.Millisecond)

	data := collect(t, reader)
	runs, ok := data["lintwatch.analysis.runs"].(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, runs.DataPoints, 2)

	found, ok := data["lintwatch.issues.found"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, found.DataPoints, 1)
	assert.Equal(t, int64(3), found.DataPoints[0].Value)

	dur, ok := data["lintwatch.process.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, dur.DataPoints, 1)
	assert.Equal(t, uint64(1), dur.DataPoints[0].Count)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordRun(context.Background(), OutcomeFailed)
	m.RecordProcessed(context.Background(), 1, time.Millisecond)
}

func TestInitDisabled(t *testing.T) {
	t.Setenv("LINTWATCH_OTEL_STDOUT", "")
	require.NoError(t, Init(context.Background(), "lintwatch", "test"))
	assert.False(t, Enabled())
	Shutdown(context.Background())
}
