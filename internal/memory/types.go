// Package memory stores text snippets with embeddings per scope and serves
// nearest-neighbour search over them.
//
// Records go to a primary vector backend (Qdrant or chromem) and are mirrored
// to a secondary record log (SQLite or in-process). The first primary error
// switches the store to the secondary for the rest of the process.
package memory

import (
	"context"
	"errors"
	"time"
)

// MetaContentHash is the metadata key holding the sha256 of the original
// text. AddUnique deduplicates on it.
const MetaContentHash = "content_hash"

var (
	// ErrEmptyScope is returned when no scope id is given.
	ErrEmptyScope = errors.New("scope id is required")
	// ErrDimensionMismatch is returned for vectors of the wrong length.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Record is one stored memory. Vector is unit length or all zeros.
type Record struct {
	ID        string            `json:"id"`
	ScopeID   string            `json:"scope_id"`
	Text      string            `json:"text"`
	Vector    []float32         `json:"vector,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Hit is a search result.
type Hit struct {
	Score  float64 `json:"score"`
	Record Record  `json:"record"`
}

// Backend is a vector store for records.
//
// Search with an all-zero vector returns the most recent records in the
// scope. FindByHash returns nil, nil when nothing matches.
type Backend interface {
	Name() string
	Insert(ctx context.Context, rec Record) error
	Search(ctx context.Context, scopeID string, vec []float32, topK int) ([]Hit, error)
	FindByHash(ctx context.Context, scopeID, hash string) (*Record, error)
	Close() error
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
