package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("conductor.queue")

var timeNow = time.Now

// Publisher receives every task transition.
type Publisher interface {
	Publish(ctx context.Context, t Task) error
}

// Queue wraps a Backend with validation, events, metrics and tracing.
type Queue struct {
	backend   Backend
	publisher Publisher
	logger    *zap.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithPublisher publishes every transition. Publish errors are logged.
func WithPublisher(p Publisher) Option {
	return func(q *Queue) { q.publisher = p }
}

// New creates a queue on backend.
func New(backend Backend, opts ...Option) *Queue {
	q := &Queue{backend: backend, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds a queued task. payload may be nil.
func (q *Queue) Enqueue(ctx context.Context, scopeID, taskType string, payload json.RawMessage) (Task, error) {
	if scopeID == "" || taskType == "" {
		return Task{}, fmt.Errorf("%w: scope and type are required", ErrInvalidTask)
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return Task{}, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidTask)
	}

	ctx, span := tracer.Start(ctx, "queue.Enqueue")
	defer span.End()
	span.SetAttributes(attribute.String("task.type", taskType), attribute.String("task.scope_id", scopeID))

	now := timeNow().UTC()
	t := Task{
		ID:        uuid.NewString(),
		ScopeID:   scopeID,
		Type:      taskType,
		Payload:   payload,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.backend.Insert(ctx, t); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return Task{}, fmt.Errorf("enqueue %s: %w", taskType, err)
	}

	transitions.WithLabelValues(taskType, string(StatusQueued)).Inc()
	q.publish(ctx, t)
	q.logger.Debug("task enqueued", zap.String("task_id", t.ID), zap.String("type", taskType), zap.String("scope_id", scopeID))
	return t, nil
}

// Claim moves the oldest queued task of taskType to in_progress. It returns
// nil, nil when the lane is empty.
func (q *Queue) Claim(ctx context.Context, taskType string) (*Task, error) {
	ctx, span := tracer.Start(ctx, "queue.Claim")
	defer span.End()
	span.SetAttributes(attribute.String("task.type", taskType))

	t, err := q.backend.Claim(ctx, taskType, timeNow().UTC())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		return nil, fmt.Errorf("claim %s: %w", taskType, err)
	}
	if t == nil {
		return nil, nil
	}

	span.SetAttributes(attribute.String("task.id", t.ID))
	transitions.WithLabelValues(taskType, string(StatusInProgress)).Inc()
	waitSeconds.WithLabelValues(taskType).Observe(t.UpdatedAt.Sub(t.CreatedAt).Seconds())
	q.publish(ctx, *t)
	return t, nil
}

// Complete marks an in_progress task completed. For a task in any other
// status it is a no-op returning the task as it is.
func (q *Queue) Complete(ctx context.Context, id string) (Task, error) {
	return q.finish(ctx, id, StatusCompleted, "")
}

// Fail marks an in_progress task failed with errMsg. Same no-op rule as
// Complete.
func (q *Queue) Fail(ctx context.Context, id, errMsg string) (Task, error) {
	return q.finish(ctx, id, StatusFailed, errMsg)
}

func (q *Queue) finish(ctx context.Context, id string, status Status, errMsg string) (Task, error) {
	ctx, span := tracer.Start(ctx, "queue.Finish")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", id), attribute.String("task.status", string(status)))

	t, changed, err := q.backend.Finish(ctx, id, status, errMsg, timeNow().UTC())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "finish failed")
		return Task{}, fmt.Errorf("%s %s: %w", status, id, err)
	}
	if !changed {
		ignoredTransitions.WithLabelValues(string(t.Status), string(status)).Inc()
		q.logger.Debug("ignoring transition",
			zap.String("task_id", id),
			zap.String("from", string(t.Status)),
			zap.String("to", string(status)),
		)
		return t, nil
	}

	transitions.WithLabelValues(t.Type, string(status)).Inc()
	q.publish(ctx, t)
	return t, nil
}

// List returns tasks in scopeID, or all tasks when scopeID is empty, oldest
// first.
func (q *Queue) List(ctx context.Context, scopeID string) ([]Task, error) {
	tasks, err := q.backend.List(ctx, scopeID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// Depth returns the number of queued tasks per type.
func (q *Queue) Depth(ctx context.Context) (map[string]int, error) {
	depth, err := q.backend.Depth(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue depth: %w", err)
	}
	return depth, nil
}

// Backend returns the storage name.
func (q *Queue) Backend() string { return q.backend.Name() }

// Close closes the backend.
func (q *Queue) Close() error { return q.backend.Close() }

func (q *Queue) publish(ctx context.Context, t Task) {
	if q.publisher == nil {
		return
	}
	if err := q.publisher.Publish(ctx, t); err != nil {
		q.logger.Warn("publishing task event failed",
			zap.String("task_id", t.ID),
			zap.String("status", string(t.Status)),
			zap.Error(err),
		)
	}
}
