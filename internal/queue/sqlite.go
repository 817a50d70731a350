package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteBackend stores tasks in the tasks table. Claim is a single
// UPDATE ... RETURNING statement, so it is atomic without an explicit
// transaction.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend wraps a migrated database (see sqlitedb.Open).
func NewSQLiteBackend(db *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

const taskColumns = `id, scope_id, type, payload, status, error, created_at, updated_at`

func (b *SQLiteBackend) Name() string { return "sqlite" }

func (b *SQLiteBackend) Insert(ctx context.Context, t Task) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ScopeID, t.Type, nullString(string(t.Payload)), string(t.Status), nullString(t.Error),
		t.CreatedAt.UnixNano(), t.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Claim(ctx context.Context, taskType string, now time.Time) (*Task, error) {
	row := b.db.QueryRowContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = ?
		WHERE seq = (
			SELECT seq FROM tasks WHERE type = ? AND status = ? ORDER BY seq LIMIT 1
		) AND status = ?
		RETURNING `+taskColumns,
		string(StatusInProgress), now.UnixNano(), taskType, string(StatusQueued), string(StatusQueued),
	)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (b *SQLiteBackend) Finish(ctx context.Context, id string, status Status, errMsg string, now time.Time) (Task, bool, error) {
	row := b.db.QueryRowContext(ctx, `
		UPDATE tasks SET status = ?, error = ?, updated_at = ?
		WHERE id = ? AND status = ?
		RETURNING `+taskColumns,
		string(status), nullString(errMsg), now.UnixNano(), id, string(StatusInProgress),
	)
	t, err := scanTask(row)
	if err == nil {
		return t, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Task{}, false, err
	}

	// Not in progress: either unknown or in another status.
	t, err = scanTask(b.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, false, ErrTaskNotFound
	}
	if err != nil {
		return Task{}, false, err
	}
	return t, false, nil
}

func (b *SQLiteBackend) List(ctx context.Context, scopeID string) ([]Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if scopeID != "" {
		q += ` WHERE scope_id = ?`
		args = append(args, scopeID)
	}
	q += ` ORDER BY seq`

	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return out, nil
}

func (b *SQLiteBackend) Depth(ctx context.Context) (map[string]int, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT type, COUNT(*) FROM tasks WHERE status = ? GROUP BY type`, string(StatusQueued))
	if err != nil {
		return nil, fmt.Errorf("queue depth: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			typ string
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scan depth: %w", err)
		}
		out[typ] = n
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) Close() error { return nil }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var (
		t                    Task
		payload, errMsg      sql.NullString
		status               string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&t.ID, &t.ScopeID, &t.Type, &payload, &status, &errMsg, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, err
		}
		return Task{}, fmt.Errorf("scan task: %w", err)
	}
	if payload.Valid {
		t.Payload = []byte(payload.String)
	}
	t.Status = Status(status)
	t.Error = errMsg.String
	t.CreatedAt = time.Unix(0, createdAt).UTC()
	t.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
