package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemBackend is an embedded, file-persisted vector backend.
//
// chromem normalizes every vector it stores, which is undefined for the zero
// vector. Vectors are therefore stored with one extra trailing component: 0
// for real vectors and 1 for the zero vector. Dot products between real
// vectors are unchanged and zero vectors score 0 against any real query.
type ChromemBackend struct {
	db  *chromem.DB
	col *chromem.Collection
	dim int
}

// NewChromemBackend opens (or creates) the persistent DB at path. An empty
// path keeps everything in memory.
func NewChromemBackend(path string, compress bool, collection string, dim int) (*ChromemBackend, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("chromem: dimension must be > 0")
	}
	if collection == "" {
		collection = "conductor_memories"
	}

	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, compress)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	}

	col, err := db.GetOrCreateCollection(collection, nil, precomputedOnly)
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", collection, err)
	}
	return &ChromemBackend{db: db, col: col, dim: dim}, nil
}

func precomputedOnly(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem: embeddings must be supplied by the caller")
}

func (b *ChromemBackend) Name() string { return "chromem" }

func (b *ChromemBackend) augment(v []float32) []float32 {
	out := make([]float32, b.dim+1)
	if isZero(v) {
		out[b.dim] = 1
		return out
	}
	copy(out, v)
	return out
}

func (b *ChromemBackend) Insert(ctx context.Context, rec Record) error {
	if len(rec.Vector) != b.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(rec.Vector), b.dim)
	}
	meta := map[string]string{
		payloadScope:     rec.ScopeID,
		payloadCreatedAt: strconv.FormatInt(rec.CreatedAt.UnixNano(), 10),
	}
	for k, v := range rec.Metadata {
		meta[payloadMetaPfx+k] = v
	}
	if h, ok := rec.Metadata[MetaContentHash]; ok {
		meta[MetaContentHash] = h
	}

	err := b.col.AddDocuments(ctx, []chromem.Document{{
		ID:        rec.ID,
		Content:   rec.Text,
		Metadata:  meta,
		Embedding: b.augment(rec.Vector),
	}}, 1)
	if err != nil {
		return fmt.Errorf("chromem add: %w", err)
	}
	return nil
}

func (b *ChromemBackend) Search(ctx context.Context, scopeID string, vec []float32, topK int) ([]Hit, error) {
	// The collection only grows, so n <= Count() stays valid for the query.
	total := b.col.Count()
	if total == 0 {
		return nil, nil
	}
	where := map[string]string{payloadScope: scopeID}

	if isZero(vec) {
		results, err := b.col.QueryEmbedding(ctx, b.augment(nil), total, where, nil)
		if err != nil {
			return nil, fmt.Errorf("chromem query: %w", err)
		}
		hits := make([]Hit, 0, len(results))
		for _, r := range results {
			hits = append(hits, Hit{Record: b.toRecord(r)})
		}
		sort.SliceStable(hits, func(i, j int) bool {
			return hits[i].Record.CreatedAt.After(hits[j].Record.CreatedAt)
		})
		if len(hits) > topK {
			hits = hits[:topK]
		}
		return hits, nil
	}

	n := topK
	if n > total {
		n = total
	}
	results, err := b.col.QueryEmbedding(ctx, b.augment(vec), n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{Score: float64(r.Similarity), Record: b.toRecord(r)})
	}
	return hits, nil
}

func (b *ChromemBackend) FindByHash(ctx context.Context, scopeID, hash string) (*Record, error) {
	if b.col.Count() == 0 {
		return nil, nil
	}
	results, err := b.col.QueryEmbedding(ctx, b.augment(nil), 1,
		map[string]string{payloadScope: scopeID, MetaContentHash: hash}, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	rec := b.toRecord(results[0])
	return &rec, nil
}

func (b *ChromemBackend) toRecord(r chromem.Result) Record {
	rec := Record{ID: r.ID, Text: r.Content}
	if len(r.Embedding) > b.dim {
		rec.Vector = append([]float32(nil), r.Embedding[:b.dim]...)
	}
	for k, v := range r.Metadata {
		switch {
		case k == payloadScope:
			rec.ScopeID = v
		case k == payloadCreatedAt:
			if ns, err := strconv.ParseInt(v, 10, 64); err == nil {
				rec.CreatedAt = time.Unix(0, ns).UTC()
			}
		case strings.HasPrefix(k, payloadMetaPfx):
			if rec.Metadata == nil {
				rec.Metadata = make(map[string]string)
			}
			rec.Metadata[strings.TrimPrefix(k, payloadMetaPfx)] = v
		}
	}
	return rec
}

func (b *ChromemBackend) Close() error { return nil }
