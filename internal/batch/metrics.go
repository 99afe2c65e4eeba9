package batch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

type metrics struct {
	units    metric.Int64Counter
	duration metric.Float64Histogram
	active   metric.Int64UpDownCounter
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *metrics {
	m := &metrics{}
	var err error

	m.units, err = meter.Int64Counter(
		"recd.batch.units_total",
		metric.WithDescription("Resolved work units by model and outcome."),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		logger.Warn("failed to create units counter", zap.Error(err))
	}

	m.duration, err = meter.Float64Histogram(
		"recd.batch.unit_duration_seconds",
		metric.WithDescription("Wall time of one work unit."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2, 3, 5, 10, 30, 60),
	)
	if err != nil {
		logger.Warn("failed to create unit duration histogram", zap.Error(err))
	}

	m.active, err = meter.Int64UpDownCounter(
		"recd.batch.active",
		metric.WithDescription("Batches currently running."),
		metric.WithUnit("{batch}"),
	)
	if err != nil {
		logger.Warn("failed to create active batch gauge", zap.Error(err))
	}
	return m
}

func (m *metrics) recordUnit(ctx context.Context, model, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("outcome", outcome),
	)
	if m.units != nil {
		m.units.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
}

func (m *metrics) addActive(ctx context.Context, n int64) {
	if m.active != nil {
		m.active.Add(ctx, n)
	}
}
