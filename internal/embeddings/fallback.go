package embeddings

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// FallbackProvider answers from primary and falls back to a local provider
// on any primary error. Embed never returns an error.
type FallbackProvider struct {
	primary Provider
	local   *HashProvider
	logger  *zap.Logger
	metrics *Metrics
}

// NewFallbackProvider wraps primary. local must have the same dimension.
func NewFallbackProvider(primary Provider, local *HashProvider, logger *zap.Logger) *FallbackProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackProvider{
		primary: primary,
		local:   local,
		logger:  logger,
		metrics: NewMetrics(logger),
	}
}

func (p *FallbackProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := p.primary.Embed(ctx, text)
	p.metrics.RecordGeneration(ctx, "primary", time.Since(start), err)
	if err == nil && len(vec) == p.local.Dimension() {
		return vec, nil
	}

	p.metrics.RecordFallback(ctx)
	p.logger.Warn("embedding provider failed, using local hash embedding", zap.Error(err))
	return p.local.embed(text), nil
}

func (p *FallbackProvider) Dimension() int { return p.local.Dimension() }

func (p *FallbackProvider) Close() error { return p.primary.Close() }
