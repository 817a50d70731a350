package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/conductor/internal/failover"
	"github.com/fyrsmithlabs/conductor/internal/sqlitedb"
)

type failingBackend struct {
	calls int
}

func (f *failingBackend) Insert(context.Context, Edge) error {
	f.calls++
	return errors.New("disk I/O error")
}

func (f *failingBackend) Neighbors(context.Context, Ref) ([]Edge, error) {
	f.calls++
	return nil, errors.New("disk I/O error")
}

func (f *failingBackend) All(context.Context) ([]Edge, error) {
	f.calls++
	return nil, errors.New("disk I/O error")
}

func newSQLiteLayer(t *testing.T) *Layer {
	t.Helper()
	db, err := sqlitedb.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewLayer(NewSQLiteBackend(db), NewMemoryBackend(), nil)
}

func TestLink_ValidatesInput(t *testing.T) {
	g := NewLayer(nil, nil, nil)
	ctx := context.Background()

	_, err := g.Link(ctx, Ref{Type: NodeScope}, RelHasTask, Ref{Type: NodeTask, ID: "t1"})
	assert.ErrorIs(t, err, ErrInvalidRef)

	_, err = g.Link(ctx, Ref{Type: NodeScope, ID: "s1"}, "", Ref{Type: NodeTask, ID: "t1"})
	assert.ErrorIs(t, err, ErrInvalidRelation)
}

func TestLink_NeighborsBothDirections(t *testing.T) {
	for name, g := range map[string]*Layer{
		"sqlite": newSQLiteLayer(t),
		"memory": NewLayer(nil, NewMemoryBackend(), nil),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			scope := Ref{Type: NodeScope, ID: "s1"}
			task := Ref{Type: NodeTask, ID: "t1"}
			mem := Ref{Type: NodeMemory, ID: "m1"}

			e1, err := g.Link(ctx, scope, RelHasTask, task)
			require.NoError(t, err)
			assert.NotEmpty(t, e1.ID)
			_, err = g.Link(ctx, scope, RelHasMemory, mem)
			require.NoError(t, err)

			edges, err := g.Neighbors(ctx, task)
			require.NoError(t, err)
			require.Len(t, edges, 1)
			assert.Equal(t, scope, edges[0].From)
			assert.Equal(t, RelHasTask, edges[0].Relation)

			edges, err = g.Neighbors(ctx, scope)
			require.NoError(t, err)
			assert.Len(t, edges, 2)

			sum, err := g.Summary(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, sum.EdgeCountByRelation[RelHasTask])
			assert.Equal(t, 1, sum.EdgeCountByRelation[RelHasMemory])
			assert.Equal(t, 1, sum.NodeCountByType[NodeScope], "scope counted once")
			assert.Equal(t, 1, sum.NodeCountByType[NodeTask])
			assert.Equal(t, 1, sum.NodeCountByType[NodeMemory])
		})
	}
}

func TestLink_DegradesOnPrimaryFailure(t *testing.T) {
	primary := &failingBackend{}
	secondary := NewMemoryBackend()
	g := NewLayer(primary, secondary, nil)
	ctx := context.Background()

	scope := Ref{Type: NodeScope, ID: "s1"}
	for i := 0; i < 3; i++ {
		_, err := g.Link(ctx, scope, RelHasTask, Ref{Type: NodeTask, ID: string(rune('a' + i))})
		require.NoError(t, err)
	}

	assert.Equal(t, 1, primary.calls, "primary is not retried once degraded")
	assert.True(t, g.Status().Degraded)

	edges, err := g.Neighbors(ctx, scope)
	require.NoError(t, err)
	assert.Len(t, edges, 3)
}

func TestLink_MirrorSurvivesDegradation(t *testing.T) {
	db, err := sqlitedb.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sel := failover.NewSelector("graph-test", failover.ModeAuto, nil)
	g := NewLayer(NewSQLiteBackend(db), NewMemoryBackend(), sel)
	ctx := context.Background()

	_, err = g.Link(ctx, Ref{Type: NodeScope, ID: "s"}, RelHasTask, Ref{Type: NodeTask, ID: "t"})
	require.NoError(t, err)

	sel.Degrade(errors.New("forced"))

	edges, err := g.Edges(ctx)
	require.NoError(t, err)
	assert.Len(t, edges, 1, "edge written before the flip is visible on the secondary")
}

func TestLayersDegradeIndependently(t *testing.T) {
	bad := NewLayer(&failingBackend{}, NewMemoryBackend(), failover.NewSelector("graph-a", failover.ModeAuto, nil))
	good := newSQLiteLayer(t)
	ctx := context.Background()

	_, err := bad.Link(ctx, Ref{Type: NodeScope, ID: "s"}, RelHasTask, Ref{Type: NodeTask, ID: "t"})
	require.NoError(t, err)

	assert.True(t, bad.Status().Degraded)
	assert.False(t, good.Status().Degraded)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.Empty(t, s.EdgeCountByRelation)
	assert.Empty(t, s.NodeCountByType)
}
