package http

import (
	"github.com/fyrsmithlabs/conductor/internal/failover"
	"github.com/fyrsmithlabs/conductor/internal/graph"
)

// Overall status values.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /status.
type StatusResponse struct {
	Status     string            `json:"status"` // ok or degraded
	Version    string            `json:"version,omitempty"`
	Components []failover.Status `json:"components"`
	Graph      *graph.Summary    `json:"graph,omitempty"`
	Queue      *QueueStatus      `json:"queue,omitempty"`
	Workers    []string          `json:"workers,omitempty"`
	Errors     map[string]string `json:"errors,omitempty"`
}

// QueueStatus holds the number of queued tasks per type.
type QueueStatus struct {
	Backend string         `json:"backend"`
	Depth   map[string]int `json:"depth"`
}

func (r *StatusResponse) addError(source string, err error) {
	if r.Errors == nil {
		r.Errors = make(map[string]string)
	}
	r.Errors[source] = err.Error()
}
