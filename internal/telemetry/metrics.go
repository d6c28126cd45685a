package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome labels a finished analysis run.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCanceled  Outcome = "canceled"
	OutcomeFailed    Outcome = "failed"
)

// Metrics holds the analysis instruments. The zero value is not usable; use NewMetrics.
type Metrics struct {
	runs     metric.Int64Counter
	found    metric.Int64Counter
	duration metric.Float64Histogram
}

// NewMetrics creates the instruments on m, or on the global meter when m is nil.
func NewMetrics(m metric.Meter) *Metrics {
	if m == nil {
		m = Meter("")
	}
	runs, _ := m.Int64Counter("lintwatch.analysis.runs",
		metric.WithDescription("Analysis runs by outcome"),
	)
	found, _ := m.Int64Counter("lintwatch.issues.found",
		metric.WithDescription("Issues stored after processing"),
	)
	duration, _ := m.Float64Histogram("lintwatch.process.duration",
		metric.WithDescription("Issue processing duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	return &Metrics{runs: runs, found: found, duration: duration}
}

// RecordRun counts one analysis run.
func (m *Metrics) RecordRun(ctx context.Context, outcome Outcome) {
	if m == nil {
		return
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}

// RecordProcessed records the result of one processing pass.
func (m *Metrics) RecordProcessed(ctx context.Context, issues int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.found.Add(ctx, int64(issues))
	m.duration.Record(ctx, float64(elapsed.Microseconds())/1000)
}
