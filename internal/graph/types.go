// Package graph records typed, immutable edges between entity references
// (scopes, tasks, jobs, memories).
//
// Like the memory store it runs on a primary backend (SQLite, indexed) and a
// secondary one (in-process edge list) behind its own failover.Selector.
package graph

import (
	"errors"
	"time"
)

// NodeType names the kind of entity a Ref points at.
type NodeType string

const (
	NodeScope  NodeType = "scope"
	NodeTask   NodeType = "task"
	NodeJob    NodeType = "job"
	NodeMemory NodeType = "memory"
)

// Well-known relations.
const (
	RelHasMemory = "HAS_MEMORY"
	RelHasTask   = "HAS_TASK"
	RelProduced  = "PRODUCED"
)

var (
	// ErrInvalidRef is returned for refs with an empty type or id.
	ErrInvalidRef = errors.New("invalid node reference")
	// ErrInvalidRelation is returned for an empty relation.
	ErrInvalidRelation = errors.New("invalid relation")
)

// Ref identifies a node.
type Ref struct {
	Type NodeType `json:"type"`
	ID   string   `json:"id"`
}

func (r Ref) String() string {
	return string(r.Type) + ":" + r.ID
}

// Valid reports whether both parts are set.
func (r Ref) Valid() bool {
	return r.Type != "" && r.ID != ""
}

// Edge is an immutable directed link.
type Edge struct {
	ID        string    `json:"id"`
	From      Ref       `json:"from"`
	To        Ref       `json:"to"`
	Relation  string    `json:"relation"`
	CreatedAt time.Time `json:"created_at"`
}

// Touches reports whether ref is either endpoint of e.
func (e Edge) Touches(ref Ref) bool {
	return e.From == ref || e.To == ref
}

// Summary aggregates the whole graph.
type Summary struct {
	EdgeCountByRelation map[string]int   `json:"edge_count_by_relation"`
	NodeCountByType     map[NodeType]int `json:"node_count_by_type"`
}

// Summarize computes a Summary over edges. Nodes are counted once each.
func Summarize(edges []Edge) Summary {
	s := Summary{
		EdgeCountByRelation: make(map[string]int),
		NodeCountByType:     make(map[NodeType]int),
	}
	seen := make(map[Ref]struct{})
	for _, e := range edges {
		s.EdgeCountByRelation[e.Relation]++
		for _, r := range [2]Ref{e.From, e.To} {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			s.NodeCountByType[r.Type]++
		}
	}
	return s
}
