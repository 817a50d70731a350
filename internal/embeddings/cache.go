package embeddings

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachedProvider memoizes vectors by exact text. Admission is probabilistic,
// so a miss only costs a recomputation.
type CachedProvider struct {
	next  Provider
	cache *ristretto.Cache
}

// NewCachedProvider caches up to maxEntries vectors in front of next.
func NewCachedProvider(next Provider, maxEntries int64) (*CachedProvider, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: embedding cache: %v", ErrInvalidConfig, err)
	}
	return &CachedProvider{next: next, cache: cache}, nil
}

func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := p.cache.Get(text); ok {
		vec := v.([]float32)
		out := make([]float32, len(vec))
		copy(out, vec)
		return out, nil
	}
	vec, err := p.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	stored := make([]float32, len(vec))
	copy(stored, vec)
	p.cache.Set(text, stored, 1)
	return vec, nil
}

func (p *CachedProvider) Dimension() int { return p.next.Dimension() }

// Wait blocks until buffered cache writes are applied.
func (p *CachedProvider) Wait() { p.cache.Wait() }

func (p *CachedProvider) Close() error {
	p.cache.Close()
	return p.next.Close()
}
