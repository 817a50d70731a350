package graph

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Backend persists edges.
type Backend interface {
	Insert(ctx context.Context, e Edge) error
	Neighbors(ctx context.Context, ref Ref) ([]Edge, error)
	All(ctx context.Context) ([]Edge, error)
}

// MemoryBackend keeps edges in a slice. Neighbors scans every edge.
type MemoryBackend struct {
	mu    sync.RWMutex
	edges []Edge
}

// NewMemoryBackend creates an empty edge list.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) Insert(_ context.Context, e Edge) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.edges = append(b.edges, e)
	return nil
}

func (b *MemoryBackend) Neighbors(_ context.Context, ref Ref) ([]Edge, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Edge
	for _, e := range b.edges {
		if e.Touches(ref) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (b *MemoryBackend) All(_ context.Context) ([]Edge, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Edge, len(b.edges))
	copy(out, b.edges)
	return out, nil
}

// SQLiteBackend stores edges in the graph_edges table, indexed on both
// endpoints.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend wraps a migrated database (see sqlitedb.Open).
func NewSQLiteBackend(db *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

func (b *SQLiteBackend) Insert(ctx context.Context, e Edge) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO graph_edges (id, from_type, from_id, to_type, to_id, relation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.From.Type), e.From.ID, string(e.To.Type), e.To.ID, e.Relation, e.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert edge: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Neighbors(ctx context.Context, ref Ref) ([]Edge, error) {
	return b.query(ctx, `
		SELECT id, from_type, from_id, to_type, to_id, relation, created_at FROM graph_edges
		WHERE from_type = ? AND from_id = ?
		UNION
		SELECT id, from_type, from_id, to_type, to_id, relation, created_at FROM graph_edges
		WHERE to_type = ? AND to_id = ?`,
		string(ref.Type), ref.ID, string(ref.Type), ref.ID,
	)
}

func (b *SQLiteBackend) All(ctx context.Context) ([]Edge, error) {
	return b.query(ctx, `SELECT id, from_type, from_id, to_type, to_id, relation, created_at FROM graph_edges`)
}

func (b *SQLiteBackend) query(ctx context.Context, q string, args ...any) ([]Edge, error) {
	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		var (
			e                Edge
			fromType, toType string
			createdAt        int64
		)
		if err := rows.Scan(&e.ID, &fromType, &e.From.ID, &toType, &e.To.ID, &e.Relation, &createdAt); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		e.From.Type = NodeType(fromType)
		e.To.Type = NodeType(toType)
		e.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edges: %w", err)
	}
	return out, nil
}

// sortEdges orders by creation time, then id.
func sortEdges(edges []Edge) {
	sort.SliceStable(edges, func(i, j int) bool {
		if !edges[i].CreatedAt.Equal(edges[j].CreatedAt) {
			return edges[i].CreatedAt.Before(edges[j].CreatedAt)
		}
		return edges[i].ID < edges[j].ID
	})
}
