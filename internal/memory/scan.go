package memory

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/conductor/internal/embeddings"
)

// RecordLog is an append-only list of records per scope.
type RecordLog interface {
	Append(ctx context.Context, rec Record) error
	List(ctx context.Context, scopeID string) ([]Record, error)
	Close() error
}

// ScanBackend answers searches with a linear dot-product scan over a
// RecordLog. It is the secondary backend.
type ScanBackend struct {
	name string
	log  RecordLog
}

// NewScanBackend wraps log.
func NewScanBackend(name string, log RecordLog) *ScanBackend {
	return &ScanBackend{name: name, log: log}
}

func (b *ScanBackend) Name() string { return b.name }

func (b *ScanBackend) Insert(ctx context.Context, rec Record) error {
	return b.log.Append(ctx, rec)
}

func (b *ScanBackend) Search(ctx context.Context, scopeID string, vec []float32, topK int) ([]Hit, error) {
	recs, err := b.log.List(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(recs))
	for _, r := range recs {
		hits = append(hits, Hit{Score: embeddings.Dot(vec, r.Vector), Record: r})
	}
	rank(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// hashFinder is implemented by logs with an index on content hash.
type hashFinder interface {
	FindByHash(ctx context.Context, scopeID, hash string) (*Record, error)
}

func (b *ScanBackend) FindByHash(ctx context.Context, scopeID, hash string) (*Record, error) {
	if f, ok := b.log.(hashFinder); ok {
		return f.FindByHash(ctx, scopeID, hash)
	}
	recs, err := b.log.List(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		if recs[i].Metadata[MetaContentHash] == hash {
			rec := recs[i]
			return &rec, nil
		}
	}
	return nil, nil
}

func (b *ScanBackend) Close() error { return b.log.Close() }

// MemoryLog keeps records in process memory.
type MemoryLog struct {
	mu      sync.RWMutex
	byScope map[string][]Record
}

// NewMemoryLog creates an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{byScope: make(map[string][]Record)}
}

func (l *MemoryLog) Append(_ context.Context, rec Record) error {
	rec.Vector = append([]float32(nil), rec.Vector...)
	rec.Metadata = cloneMeta(rec.Metadata)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.byScope[rec.ScopeID] = append(l.byScope[rec.ScopeID], rec)
	return nil
}

func (l *MemoryLog) List(_ context.Context, scopeID string) ([]Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	src := l.byScope[scopeID]
	out := make([]Record, len(src))
	copy(out, src)
	return out, nil
}

func (l *MemoryLog) Close() error { return nil }
