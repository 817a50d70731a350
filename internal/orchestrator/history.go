package orchestrator

import "sync"

// HistoryCapacity is the number of executions kept per scope and kind.
const HistoryCapacity = 10

type historyKey struct {
	scopeID string
	kind    AgentKind
}

// ring is a fixed-size buffer that overwrites its oldest entry when full.
type ring struct {
	items []Execution
	next  int
	full  bool
}

func (r *ring) push(e Execution) {
	r.items[r.next] = e
	r.next = (r.next + 1) % len(r.items)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) list() []Execution {
	if !r.full {
		return append([]Execution(nil), r.items[:r.next]...)
	}
	out := make([]Execution, 0, len(r.items))
	out = append(out, r.items[r.next:]...)
	return append(out, r.items[:r.next]...)
}

// History keeps the most recent executions per (scope, agent kind).
type History struct {
	mu       sync.Mutex
	capacity int
	rings    map[historyKey]*ring
}

// NewHistory creates a history holding capacity executions per key.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = HistoryCapacity
	}
	return &History{capacity: capacity, rings: make(map[historyKey]*ring)}
}

// Append records e, evicting the oldest entry for its key when full.
func (h *History) Append(e Execution) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := historyKey{scopeID: e.ScopeID, kind: e.Agent}
	r, ok := h.rings[key]
	if !ok {
		r = &ring{items: make([]Execution, h.capacity)}
		h.rings[key] = r
	}
	r.push(e)
}

// Get returns the executions for scope and kind, oldest first.
func (h *History) Get(scopeID string, kind AgentKind) []Execution {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rings[historyKey{scopeID: scopeID, kind: kind}]
	if !ok {
		return []Execution{}
	}
	return r.list()
}
