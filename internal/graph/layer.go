package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductor/internal/failover"
)

var tracer = otel.Tracer("conductor.graph")

var timeNow = time.Now

var errNoPrimary = errors.New("no primary backend configured")

// Layer routes link operations between a primary and a secondary backend.
//
// Writes that succeed on the primary are mirrored to the secondary so that a
// later degradation does not lose edges written before it. Mirror failures
// are logged, never returned.
type Layer struct {
	primary   Backend
	secondary Backend
	selector  *failover.Selector
	logger    *zap.Logger
	mirror    bool
}

// Option configures a Layer.
type Option func(*Layer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Layer) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithoutMirror disables copying primary writes to the secondary.
func WithoutMirror() Option {
	return func(g *Layer) { g.mirror = false }
}

// NewLayer creates a link layer. A nil primary means the layer runs on the
// secondary only.
func NewLayer(primary, secondary Backend, selector *failover.Selector, opts ...Option) *Layer {
	g := &Layer{
		primary:   primary,
		secondary: secondary,
		selector:  selector,
		logger:    zap.NewNop(),
		mirror:    true,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.secondary == nil {
		g.secondary = NewMemoryBackend()
	}
	if g.selector == nil {
		mode := failover.ModeAuto
		if g.primary == nil {
			mode = failover.ModeSecondary
		}
		g.selector = failover.NewSelector("graph", mode, g.logger)
	}
	if g.primary == nil && !g.selector.UseSecondary() {
		g.selector.Degrade(errNoPrimary)
	}
	return g
}

// Link records from --relation--> to and returns the stored edge.
func (g *Layer) Link(ctx context.Context, from Ref, relation string, to Ref) (Edge, error) {
	if !from.Valid() || !to.Valid() {
		return Edge{}, fmt.Errorf("link %s -> %s: %w", from, to, ErrInvalidRef)
	}
	if relation == "" {
		return Edge{}, ErrInvalidRelation
	}

	ctx, span := tracer.Start(ctx, "graph.Link")
	defer span.End()
	span.SetAttributes(
		attribute.String("graph.from", from.String()),
		attribute.String("graph.to", to.String()),
		attribute.String("graph.relation", relation),
	)

	edge := Edge{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Relation:  relation,
		CreatedAt: timeNow().UTC(),
	}

	_, err := failover.Do(ctx, g.selector, "link",
		func(ctx context.Context) (struct{}, error) {
			if g.primary == nil {
				return struct{}{}, errNoPrimary
			}
			if err := g.primary.Insert(ctx, edge); err != nil {
				return struct{}{}, err
			}
			if g.mirror {
				if err := g.secondary.Insert(ctx, edge); err != nil {
					g.logger.Warn("mirroring edge to secondary failed", zap.String("edge_id", edge.ID), zap.Error(err))
				}
			}
			return struct{}{}, nil
		},
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, g.secondary.Insert(ctx, edge)
		},
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "link failed")
		return Edge{}, fmt.Errorf("link %s -[%s]-> %s: %w", from, relation, to, err)
	}

	g.logger.Debug("edge linked",
		zap.String("from", from.String()),
		zap.String("relation", relation),
		zap.String("to", to.String()),
	)
	return edge, nil
}

// Neighbors returns edges touching ref in either direction, oldest first.
func (g *Layer) Neighbors(ctx context.Context, ref Ref) ([]Edge, error) {
	if !ref.Valid() {
		return nil, ErrInvalidRef
	}
	edges, err := g.read(ctx, "neighbors", func(b Backend) func(context.Context) ([]Edge, error) {
		return func(ctx context.Context) ([]Edge, error) { return b.Neighbors(ctx, ref) }
	})
	if err != nil {
		return nil, fmt.Errorf("neighbors of %s: %w", ref, err)
	}
	return edges, nil
}

// Edges returns every edge, oldest first.
func (g *Layer) Edges(ctx context.Context) ([]Edge, error) {
	edges, err := g.read(ctx, "all", func(b Backend) func(context.Context) ([]Edge, error) {
		return b.All
	})
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	return edges, nil
}

// Summary counts edges per relation and distinct nodes per type.
func (g *Layer) Summary(ctx context.Context) (Summary, error) {
	edges, err := g.Edges(ctx)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(edges), nil
}

// Status exposes the selector state.
func (g *Layer) Status() failover.Status {
	return g.selector.Status()
}

func (g *Layer) read(ctx context.Context, op string, call func(Backend) func(context.Context) ([]Edge, error)) ([]Edge, error) {
	primary := func(context.Context) ([]Edge, error) { return nil, errNoPrimary }
	if g.primary != nil {
		primary = call(g.primary)
	}
	edges, err := failover.Do(ctx, g.selector, op, primary, call(g.secondary))
	if err != nil {
		return nil, err
	}
	sortEdges(edges)
	return edges, nil
}
