package provider

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recd/internal/catalog"
)

const instrumentationName = "github.com/fyrsmithlabs/recd/internal/provider"

// Metrics records provider call outcomes.
type Metrics struct {
	calls    metric.Int64Counter
	attempts metric.Int64Counter
	duration metric.Float64Histogram
}

// NewMetrics registers the provider instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	meter := otel.Meter(instrumentationName)
	m := &Metrics{}

	var err error
	m.calls, err = meter.Int64Counter(
		"recd.provider.calls_total",
		metric.WithDescription("Completed Complete calls by provider, mode (live, demo) and outcome (success, error)."),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		logger.Warn("failed to create provider calls counter", zap.Error(err))
	}

	m.attempts, err = meter.Int64Counter(
		"recd.provider.attempts_total",
		metric.WithDescription("Individual attempts including retries, by provider and mode."),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		logger.Warn("failed to create provider attempts counter", zap.Error(err))
	}

	m.duration, err = meter.Float64Histogram(
		"recd.provider.call_duration_seconds",
		metric.WithDescription("Wall time of a Complete call including retry delays."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30, 60),
	)
	if err != nil {
		logger.Warn("failed to create provider duration histogram", zap.Error(err))
	}

	return m
}

// RecordAttempt counts one attempt.
func (m *Metrics) RecordAttempt(ctx context.Context, p catalog.Provider, mode catalog.Mode) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", string(p)),
		attribute.String("mode", string(mode)),
	))
}

// RecordCall records a finished call.
func (m *Metrics) RecordCall(ctx context.Context, p catalog.Provider, mode catalog.Mode, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", string(p)),
		attribute.String("mode", string(mode)),
		attribute.String("outcome", outcome),
	)
	if m.calls != nil {
		m.calls.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
}
