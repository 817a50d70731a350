// Package embeddings turns text into fixed-length vectors.
//
// The default provider is a deterministic hashed bag-of-words. Remote and
// ONNX providers are always wrapped by a FallbackProvider so a failing
// dependency degrades to the hash provider instead of failing retrieval.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/conductor/internal/config"
	"go.uber.org/zap"
)

var (
	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrEmbeddingFailed indicates the provider could not produce a vector.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
	// ErrDimensionMismatch indicates a provider returned the wrong length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Embedder produces a vector of length Dimension() for any text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Provider is an Embedder that may hold resources.
type Provider interface {
	Embedder
	Close() error
}

// NewProvider builds the provider stack described by cfg. Remote and
// fastembed providers fall back to the hash provider on any error.
func NewProvider(cfg config.EmbeddingsConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be > 0", ErrInvalidConfig)
	}

	local := NewHashProvider(cfg.Dimension)

	var p Provider
	switch cfg.Provider {
	case "hash", "":
		p = local
	case "remote":
		remote, err := NewRemoteProvider(RemoteConfig{
			URL:       cfg.RemoteURL,
			Dimension: cfg.Dimension,
			Timeout:   cfg.Timeout.Duration(),
			RateLimit: cfg.RateLimit,
		})
		if err != nil {
			return nil, err
		}
		p = NewFallbackProvider(remote, local, logger)
	case "fastembed":
		fe, err := NewFastEmbedProvider(FastEmbedConfig{Model: cfg.Model, CacheDir: cfg.CacheDir})
		if err != nil {
			logger.Warn("fastembed unavailable, using hash embeddings", zap.Error(err))
			p = local
			break
		}
		if fe.Dimension() != cfg.Dimension {
			_ = fe.Close()
			return nil, fmt.Errorf("%w: model %q has dimension %d, configured %d",
				ErrInvalidConfig, cfg.Model, fe.Dimension(), cfg.Dimension)
		}
		p = NewFallbackProvider(fe, local, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}

	if cfg.CacheSize > 0 {
		return NewCachedProvider(p, cfg.CacheSize)
	}
	return p, nil
}
