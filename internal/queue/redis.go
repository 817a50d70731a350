package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 5

// RedisBackend keeps each task as a JSON string and one list per type as
// its FIFO lane. LPOP on the lane is the atomic claim. Status changes run in
// WATCH transactions on the task key.
//
// Keys (prefix p):
//
//	p:task:<id>      task JSON
//	p:lane:<type>    queued ids, oldest at the head
//	p:all            every id in enqueue order
//	p:scope:<scope>  ids per scope in enqueue order
//	p:types          set of known types
type RedisBackend struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisBackend creates a backend on rdb. The caller owns rdb unless Close
// is called.
func NewRedisBackend(rdb *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "conductor"
	}
	return &RedisBackend{rdb: rdb, prefix: prefix}
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) taskKey(id string) string     { return b.prefix + ":task:" + id }
func (b *RedisBackend) laneKey(typ string) string    { return b.prefix + ":lane:" + typ }
func (b *RedisBackend) scopeKey(scope string) string { return b.prefix + ":scope:" + scope }
func (b *RedisBackend) allKey() string               { return b.prefix + ":all" }
func (b *RedisBackend) typesKey() string             { return b.prefix + ":types" }

func (b *RedisBackend) Insert(ctx context.Context, t Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.taskKey(t.ID), data, 0)
		pipe.RPush(ctx, b.allKey(), t.ID)
		pipe.RPush(ctx, b.scopeKey(t.ScopeID), t.ID)
		pipe.SAdd(ctx, b.typesKey(), t.Type)
		pipe.RPush(ctx, b.laneKey(t.Type), t.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (b *RedisBackend) Claim(ctx context.Context, taskType string, now time.Time) (*Task, error) {
	for {
		id, err := b.rdb.LPop(ctx, b.laneKey(taskType)).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("pop lane: %w", err)
		}

		t, claimed, err := b.transition(ctx, id, func(t *Task) bool {
			if t.Status != StatusQueued {
				return false
			}
			t.Status = StatusInProgress
			t.UpdatedAt = now
			return true
		})
		if errors.Is(err, ErrTaskNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if claimed {
			return &t, nil
		}
	}
}

func (b *RedisBackend) Finish(ctx context.Context, id string, status Status, errMsg string, now time.Time) (Task, bool, error) {
	return b.transition(ctx, id, func(t *Task) bool {
		if t.Status != StatusInProgress {
			return false
		}
		t.Status = status
		t.Error = errMsg
		t.UpdatedAt = now
		return true
	})
}

// transition applies mutate under WATCH. mutate returns false to leave the
// task unchanged.
func (b *RedisBackend) transition(ctx context.Context, id string, mutate func(*Task) bool) (Task, bool, error) {
	key := b.taskKey(id)
	var (
		out     Task
		changed bool
	)
	txf := func(tx *redis.Tx) error {
		changed = false
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrTaskNotFound
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return fmt.Errorf("decode task %s: %w", id, err)
		}
		if !mutate(&out) {
			return nil
		}
		updated, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("encode task: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		if err == nil {
			changed = true
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := b.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Task{}, false, err
		}
		return out, changed, nil
	}
	return Task{}, false, fmt.Errorf("task %s: too much contention", id)
}

func (b *RedisBackend) List(ctx context.Context, scopeID string) ([]Task, error) {
	key := b.allKey()
	if scopeID != "" {
		key = b.scopeKey(scopeID)
	}
	ids, err := b.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = b.taskKey(id)
	}
	vals, err := b.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	out := make([]Task, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var t Task
		if err := json.Unmarshal([]byte(s), &t); err != nil {
			return nil, fmt.Errorf("decode task: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (b *RedisBackend) Depth(ctx context.Context) (map[string]int, error) {
	types, err := b.rdb.SMembers(ctx, b.typesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list types: %w", err)
	}
	out := make(map[string]int, len(types))
	for _, typ := range types {
		n, err := b.rdb.LLen(ctx, b.laneKey(typ)).Result()
		if err != nil {
			return nil, fmt.Errorf("lane length %s: %w", typ, err)
		}
		out[typ] = int(n)
	}
	return out, nil
}

func (b *RedisBackend) Close() error { return b.rdb.Close() }
