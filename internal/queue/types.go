// Package queue is a claim-based FIFO of tasks per task type.
//
// A task moves queued -> in_progress -> completed|failed and never goes
// back. Claim is atomic on every backend: two concurrent claims for the same
// type never return the same task.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	// ErrTaskNotFound is returned for unknown task ids.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidTask is returned when enqueueing without a type or scope.
	ErrInvalidTask = errors.New("invalid task")
)

// Task is a unit of background work.
type Task struct {
	ID        string          `json:"id"`
	ScopeID   string          `json:"scope_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Status    Status          `json:"status"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Backend stores tasks.
//
// Finish moves an in_progress task to a terminal status. When the task is in
// any other status it returns the task unchanged and changed=false.
type Backend interface {
	Name() string
	Insert(ctx context.Context, t Task) error
	Claim(ctx context.Context, taskType string, now time.Time) (*Task, error)
	Finish(ctx context.Context, id string, status Status, errMsg string, now time.Time) (t Task, changed bool, err error)
	List(ctx context.Context, scopeID string) ([]Task, error)
	Depth(ctx context.Context) (map[string]int, error)
	Close() error
}
