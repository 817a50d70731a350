package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// SQLiteLog persists records in the memory_records table.
type SQLiteLog struct {
	db *sql.DB
}

// NewSQLiteLog wraps a migrated database (see sqlitedb.Open). Close does not
// close db; its owner does.
func NewSQLiteLog(db *sql.DB) *SQLiteLog {
	return &SQLiteLog{db: db}
}

func (l *SQLiteLog) Append(ctx context.Context, rec Record) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO memory_records (id, scope_id, text, vector, metadata, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ScopeID, rec.Text, encodeVector(rec.Vector), string(meta),
		rec.Metadata[MetaContentHash], rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (l *SQLiteLog) List(ctx context.Context, scopeID string) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, scope_id, text, vector, metadata, created_at
		FROM memory_records WHERE scope_id = ? ORDER BY created_at DESC`, scopeID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec       Record
			vec       []byte
			meta      string
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.ScopeID, &rec.Text, &vec, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Vector = decodeVector(vec)
		if meta != "" && meta != "null" {
			if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", rec.ID, err)
			}
		}
		rec.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// FindByHash uses the (scope_id, content_hash) index instead of a scan.
func (l *SQLiteLog) FindByHash(ctx context.Context, scopeID, hash string) (*Record, error) {
	var id string
	err := l.db.QueryRowContext(ctx,
		`SELECT id FROM memory_records WHERE scope_id = ? AND content_hash = ? LIMIT 1`,
		scopeID, hash,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by hash: %w", err)
	}
	recs, err := l.List(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		if recs[i].ID == id {
			return &recs[i], nil
		}
	}
	return nil, nil
}

func (l *SQLiteLog) Close() error { return nil }

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}
