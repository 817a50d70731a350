package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes each transition as the task JSON on
//
//	tasks.{scope_id}.{task_id}.{status}
type NATSPublisher struct {
	nc *nats.Conn
}

// NewNATSPublisher publishes on nc. The caller owns nc.
func NewNATSPublisher(nc *nats.Conn) *NATSPublisher {
	return &NATSPublisher{nc: nc}
}

// Subject returns the subject a task event is published on.
func Subject(t Task) string {
	return fmt.Sprintf("tasks.%s.%s.%s", subjectToken(t.ScopeID), subjectToken(t.ID), t.Status)
}

func (p *NATSPublisher) Publish(_ context.Context, t Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := p.nc.Publish(Subject(t), data); err != nil {
		return fmt.Errorf("publish task event: %w", err)
	}
	return nil
}

// subjectToken keeps a value inside one subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
