package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend keeps tasks in process memory.
type MemoryBackend struct {
	mu    sync.Mutex
	tasks map[string]*Task
	order []string            // insertion order, for List
	lanes map[string][]string // queued ids per type, oldest first
}

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		tasks: make(map[string]*Task),
		lanes: make(map[string][]string),
	}
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) Insert(_ context.Context, t Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks[t.ID] = &t
	b.order = append(b.order, t.ID)
	b.lanes[t.Type] = append(b.lanes[t.Type], t.ID)
	return nil
}

func (b *MemoryBackend) Claim(_ context.Context, taskType string, now time.Time) (*Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	lane := b.lanes[taskType]
	for len(lane) > 0 {
		id := lane[0]
		lane = lane[1:]
		t := b.tasks[id]
		if t == nil || t.Status != StatusQueued {
			continue
		}
		t.Status = StatusInProgress
		t.UpdatedAt = now
		b.lanes[taskType] = lane
		out := *t
		return &out, nil
	}
	b.lanes[taskType] = lane
	return nil, nil
}

func (b *MemoryBackend) Finish(_ context.Context, id string, status Status, errMsg string, now time.Time) (Task, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[id]
	if !ok {
		return Task{}, false, ErrTaskNotFound
	}
	if t.Status != StatusInProgress {
		return *t, false, nil
	}
	t.Status = status
	t.Error = errMsg
	t.UpdatedAt = now
	return *t, true, nil
}

func (b *MemoryBackend) List(_ context.Context, scopeID string) ([]Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Task, 0, len(b.order))
	for _, id := range b.order {
		t := b.tasks[id]
		if scopeID == "" || t.ScopeID == scopeID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (b *MemoryBackend) Depth(_ context.Context) (map[string]int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]int, len(b.lanes))
	for typ, lane := range b.lanes {
		out[typ] = len(lane)
	}
	return out, nil
}

func (b *MemoryBackend) Close() error { return nil }
