package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/conductor/internal/sqlitedb"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()

	db, err := sqlitedb.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"sqlite": NewSQLiteBackend(db),
		"redis":  NewRedisBackend(rdb, "test"),
	}
}

func TestQueue_Lifecycle(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			q := New(b)
			ctx := context.Background()

			task, err := q.Enqueue(ctx, "scope-1", "analysis", json.RawMessage(`{"goal":"x"}`))
			require.NoError(t, err)
			assert.Equal(t, StatusQueued, task.Status)

			claimed, err := q.Claim(ctx, "analysis")
			require.NoError(t, err)
			require.NotNil(t, claimed)
			assert.Equal(t, task.ID, claimed.ID)
			assert.Equal(t, StatusInProgress, claimed.Status)
			assert.JSONEq(t, `{"goal":"x"}`, string(claimed.Payload))

			again, err := q.Claim(ctx, "analysis")
			require.NoError(t, err)
			assert.Nil(t, again)

			done, err := q.Complete(ctx, task.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, done.Status)

			// Terminal: further transitions are no-ops.
			noop, err := q.Fail(ctx, task.ID, "late failure")
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, noop.Status)
			assert.Empty(t, noop.Error)

			_, err = q.Complete(ctx, "does-not-exist")
			assert.ErrorIs(t, err, ErrTaskNotFound)
		})
	}
}

func TestQueue_FIFOPerType(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			q := New(b)
			ctx := context.Background()

			first, err := q.Enqueue(ctx, "s", "coding", nil)
			require.NoError(t, err)
			_, err = q.Enqueue(ctx, "s", "review", nil)
			require.NoError(t, err)
			second, err := q.Enqueue(ctx, "s", "coding", nil)
			require.NoError(t, err)

			depth, err := q.Depth(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, depth["coding"])
			assert.Equal(t, 1, depth["review"])

			c1, err := q.Claim(ctx, "coding")
			require.NoError(t, err)
			c2, err := q.Claim(ctx, "coding")
			require.NoError(t, err)
			require.NotNil(t, c1)
			require.NotNil(t, c2)
			assert.Equal(t, first.ID, c1.ID)
			assert.Equal(t, second.ID, c2.ID)

			depth, err = q.Depth(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, depth["coding"])
		})
	}
}

func TestQueue_QueuedTaskCannotFinish(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			q := New(b)
			ctx := context.Background()

			task, err := q.Enqueue(ctx, "s", "deploy", nil)
			require.NoError(t, err)

			got, err := q.Complete(ctx, task.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusQueued, got.Status)

			claimed, err := q.Claim(ctx, "deploy")
			require.NoError(t, err)
			require.NotNil(t, claimed, "no-op completion left the task claimable")

			failed, err := q.Fail(ctx, task.ID, "boom")
			require.NoError(t, err)
			assert.Equal(t, StatusFailed, failed.Status)
			assert.Equal(t, "boom", failed.Error)
		})
	}
}

func TestQueue_ListByScope(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			q := New(b)
			ctx := context.Background()

			a, err := q.Enqueue(ctx, "a", "t", nil)
			require.NoError(t, err)
			_, err = q.Enqueue(ctx, "b", "t", nil)
			require.NoError(t, err)

			onlyA, err := q.List(ctx, "a")
			require.NoError(t, err)
			require.Len(t, onlyA, 1)
			assert.Equal(t, a.ID, onlyA[0].ID)

			all, err := q.List(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 2)
			assert.Equal(t, a.ID, all[0].ID)
		})
	}
}

func TestQueue_ConcurrentClaimsAreUnique(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			q := New(b)
			ctx := context.Background()

			const n = 20
			for i := 0; i < n; i++ {
				_, err := q.Enqueue(ctx, "s", "research", nil)
				require.NoError(t, err)
			}

			var (
				mu   sync.Mutex
				seen = make(map[string]int)
				wg   sync.WaitGroup
			)
			for w := 0; w < 4; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						task, err := q.Claim(ctx, "research")
						if err != nil || task == nil {
							return
						}
						mu.Lock()
						seen[task.ID]++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			assert.Len(t, seen, n)
			for id, count := range seen {
				assert.Equal(t, 1, count, "task %s claimed more than once", id)
			}
		})
	}
}

func TestQueue_EnqueueValidation(t *testing.T) {
	q := New(NewMemoryBackend())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "", "t", nil)
	assert.ErrorIs(t, err, ErrInvalidTask)
	_, err = q.Enqueue(ctx, "s", "", nil)
	assert.ErrorIs(t, err, ErrInvalidTask)
	_, err = q.Enqueue(ctx, "s", "t", json.RawMessage(`{not json`))
	assert.ErrorIs(t, err, ErrInvalidTask)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Status
}

func (r *recordingPublisher) Publish(_ context.Context, t Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, t.Status)
	return nil
}

func TestQueue_PublishesTransitions(t *testing.T) {
	pub := &recordingPublisher{}
	q := New(NewMemoryBackend(), WithPublisher(pub))
	ctx := context.Background()

	task, err := q.Enqueue(ctx, "s", "t", nil)
	require.NoError(t, err)
	_, err = q.Claim(ctx, "t")
	require.NoError(t, err)
	_, err = q.Complete(ctx, task.ID)
	require.NoError(t, err)
	_, err = q.Complete(ctx, task.ID)
	require.NoError(t, err)

	assert.Equal(t, []Status{StatusQueued, StatusInProgress, StatusCompleted}, pub.events,
		"ignored transitions publish nothing")
}

func TestClaimStampsUpdatedAt(t *testing.T) {
	orig := timeNow
	t.Cleanup(func() { timeNow = orig })
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	timeNow = func() time.Time { return base }

	q := New(NewMemoryBackend())
	ctx := context.Background()
	_, err := q.Enqueue(ctx, "s", "t", nil)
	require.NoError(t, err)

	timeNow = func() time.Time { return base.Add(time.Minute) }
	claimed, err := q.Claim(ctx, "t")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.True(t, claimed.UpdatedAt.Equal(base.Add(time.Minute)))
	assert.True(t, claimed.CreatedAt.Equal(base))
}
