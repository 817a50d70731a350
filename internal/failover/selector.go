// Package failover holds the backend selector shared by the memory store and
// the graph link layer.
//
// A Selector starts on the primary backend. The first primary error flips it
// to the secondary for the rest of the process lifetime; nothing probes the
// primary again. Each component owns its own Selector, so a failure in one
// never changes another's routing.
package failover

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Mode controls how a Selector routes calls.
type Mode string

const (
	// ModeAuto uses the primary until its first failure, then the secondary.
	ModeAuto Mode = "auto"
	// ModePrimary pins the primary; its errors reach the caller.
	ModePrimary Mode = "primary"
	// ModeSecondary starts degraded.
	ModeSecondary Mode = "secondary"
)

// ErrBackendUnavailable marks primary failures that triggered degradation.
var ErrBackendUnavailable = errors.New("backend unavailable")

// ParseMode converts a config string, defaulting to ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModePrimary, ModeSecondary:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown backend mode %q", s)
}

// Selector decides which backend serves a call.
type Selector struct {
	name   string
	mode   Mode
	logger *zap.Logger

	degraded  atomic.Bool
	reason    atomic.Value // string
	flippedAt atomic.Int64 // unix nanos
}

// Status is a point-in-time view of a selector.
type Status struct {
	Component string    `json:"component"`
	Mode      Mode      `json:"mode"`
	Degraded  bool      `json:"degraded"`
	Reason    string    `json:"reason,omitempty"`
	Since     time.Time `json:"since,omitempty"`
}

// NewSelector creates a selector for the named component.
func NewSelector(name string, mode Mode, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mode == "" {
		mode = ModeAuto
	}
	s := &Selector{name: name, mode: mode, logger: logger}
	if mode == ModeSecondary {
		s.degraded.Store(true)
		s.reason.Store("configured")
		s.flippedAt.Store(timeNow().UnixNano())
	}
	degradedGauge.WithLabelValues(name).Set(boolToFloat(s.degraded.Load()))
	return s
}

var timeNow = time.Now

// Name returns the component name.
func (s *Selector) Name() string { return s.name }

// UseSecondary reports whether calls should go to the secondary backend.
func (s *Selector) UseSecondary() bool {
	return s.degraded.Load()
}

// Degrade flips the selector to the secondary. It reports whether this call
// performed the flip. Pinned-primary selectors never flip.
func (s *Selector) Degrade(cause error) bool {
	if s.mode == ModePrimary {
		return false
	}
	if !s.degraded.CompareAndSwap(false, true) {
		return false
	}
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	s.reason.Store(reason)
	s.flippedAt.Store(timeNow().UnixNano())

	degradedGauge.WithLabelValues(s.name).Set(1)
	failoversTotal.WithLabelValues(s.name).Inc()
	s.logger.Warn("primary backend failed, switching to secondary for the rest of the process",
		zap.String("component", s.name),
		zap.Error(cause),
	)
	return true
}

// Status returns the current routing state.
func (s *Selector) Status() Status {
	st := Status{Component: s.name, Mode: s.mode, Degraded: s.degraded.Load()}
	if r, ok := s.reason.Load().(string); ok {
		st.Reason = r
	}
	if ns := s.flippedAt.Load(); ns != 0 {
		st.Since = time.Unix(0, ns)
	}
	return st
}

// Do runs primary unless the selector is degraded. A primary error degrades
// the selector and the call is retried on secondary. Errors caused by the
// caller's own context are returned as-is and do not degrade.
func Do[T any](ctx context.Context, s *Selector, op string, primary, secondary func(context.Context) (T, error)) (T, error) {
	if s.UseSecondary() {
		return secondary(ctx)
	}

	v, err := primary(ctx)
	if err == nil {
		return v, nil
	}
	if ctx.Err() != nil {
		return v, ctx.Err()
	}
	if s.mode == ModePrimary {
		return v, err
	}

	primaryErrors.WithLabelValues(s.name, op).Inc()
	s.Degrade(fmt.Errorf("%s: %w: %v", op, ErrBackendUnavailable, err))
	return secondary(ctx)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
