package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/conductor/internal/embeddings"

// Metrics records embedding latency, errors and fallbacks.
type Metrics struct {
	duration  metric.Float64Histogram
	errors    metric.Int64Counter
	fallbacks metric.Int64Counter
}

// NewMetrics creates instruments on the global meter. Instrument errors are
// logged and the instrument left nil.
func NewMetrics(logger *zap.Logger) *Metrics {
	meter := otel.Meter(instrumentationName)
	m := &Metrics{}
	var err error

	m.duration, err = meter.Float64Histogram(
		"conductor.embedding.duration_seconds",
		metric.WithDescription("Embedding generation latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}
	m.errors, err = meter.Int64Counter(
		"conductor.embedding.errors_total",
		metric.WithDescription("Embedding provider errors"),
	)
	if err != nil {
		logger.Warn("failed to create errors counter", zap.Error(err))
	}
	m.fallbacks, err = meter.Int64Counter(
		"conductor.embedding.fallbacks_total",
		metric.WithDescription("Embeddings served by the local hash provider after a primary failure"),
	)
	if err != nil {
		logger.Warn("failed to create fallback counter", zap.Error(err))
	}
	return m
}

// RecordGeneration records one provider call.
func (m *Metrics) RecordGeneration(ctx context.Context, provider string, d time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("provider", provider))
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

// RecordFallback counts one local fallback.
func (m *Metrics) RecordFallback(ctx context.Context) {
	if m.fallbacks != nil {
		m.fallbacks.Add(ctx, 1)
	}
}
