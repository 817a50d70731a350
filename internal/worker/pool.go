// Package worker drains the task queue in the background.
//
// A Pool runs one polling loop per task type. Each loop claims a task,
// links it to its scope in the graph, hands it to the registered Handler
// and records the outcome with Complete or Fail.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductor/internal/graph"
	"github.com/fyrsmithlabs/conductor/internal/logging"
	"github.com/fyrsmithlabs/conductor/internal/queue"
)

var tracer = otel.Tracer("conductor.worker")

var timeNow = time.Now

// DefaultPollInterval is how long an idle loop waits before claiming again.
const DefaultPollInterval = 2 * time.Second

var (
	// ErrNoHandlers is returned by Start when no task type is registered.
	ErrNoHandlers = errors.New("no task handlers registered")
	// ErrRunning is returned by Start on a pool that is already running.
	ErrRunning = errors.New("worker pool is already running")
	// ErrNoHandler is recorded on tasks whose type has no handler.
	ErrNoHandler = errors.New("no handler for task type")
)

// Handler processes one claimed task. A nil error completes the task, any
// other error fails it with the error text.
type Handler interface {
	Handle(ctx context.Context, t queue.Task) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, t queue.Task) error

func (f HandlerFunc) Handle(ctx context.Context, t queue.Task) error { return f(ctx, t) }

// Linker records scope-to-task edges. *graph.Layer satisfies it.
type Linker interface {
	Link(ctx context.Context, from graph.Ref, relation string, to graph.Ref) (graph.Edge, error)
}

// Pool polls the queue for the task types it has handlers for.
type Pool struct {
	queue        *queue.Queue
	handlers     map[string]Handler
	linker       Linker
	logger       *logging.Logger
	pollInterval time.Duration
	taskTimeout  time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = logging.New(l)
		}
	}
}

// WithHandler registers h for taskType, replacing any earlier handler.
func WithHandler(taskType string, h Handler) Option {
	return func(p *Pool) { p.handlers[taskType] = h }
}

// WithPollInterval sets the idle wait between claims.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithTaskTimeout bounds each handler call. Zero means no bound.
func WithTaskTimeout(d time.Duration) Option {
	return func(p *Pool) { p.taskTimeout = d }
}

// WithLinker links every claimed task to its scope.
func WithLinker(l Linker) Option {
	return func(p *Pool) { p.linker = l }
}

// NewPool creates a pool over q. It does not start polling.
func NewPool(q *queue.Queue, opts ...Option) *Pool {
	p := &Pool{
		queue:        q,
		handlers:     make(map[string]Handler),
		logger:       logging.New(zap.NewNop()),
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Types returns the registered task types.
func (p *Pool) Types() []string {
	types := make([]string, 0, len(p.handlers))
	for t := range p.handlers {
		types = append(types, t)
	}
	return types
}

// Start launches one loop per registered task type. The loops stop when ctx
// is done or Stop is called.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrRunning
	}
	if len(p.handlers) == 0 {
		return ErrNoHandlers
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	for taskType := range p.handlers {
		p.wg.Add(1)
		go p.loop(ctx, taskType)
	}
	p.logger.Info(ctx, "worker pool started",
		zap.Strings("task_types", p.Types()),
		zap.Duration("poll_interval", p.pollInterval),
	)
	return nil
}

// Stop signals every loop and waits for in-flight tasks to finish. It is a
// no-op on a stopped pool.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info(context.Background(), "worker pool stopped")
}

func (p *Pool) loop(ctx context.Context, taskType string) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		p.drain(ctx, taskType)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drain processes tasks until the queue has none of taskType or ctx ends.
func (p *Pool) drain(ctx context.Context, taskType string) {
	for ctx.Err() == nil {
		ok, err := p.ProcessOne(ctx, taskType)
		if err != nil {
			p.logger.Error(ctx, "worker iteration failed", zap.String("type", taskType), zap.Error(err))
			return
		}
		if !ok {
			return
		}
	}
}

// ProcessOne claims and handles a single task of taskType. It reports
// whether a task was claimed. Handler failures are recorded on the task and
// are not returned; the error is reserved for queue failures.
func (p *Pool) ProcessOne(ctx context.Context, taskType string) (bool, error) {
	task, err := p.queue.Claim(ctx, taskType)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	ctx = logging.WithTaskID(logging.WithScope(ctx, task.ScopeID), task.ID)
	ctx, span := tracer.Start(ctx, "worker.task")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.type", task.Type),
		attribute.String("task.id", task.ID),
		attribute.String("scope_id", task.ScopeID),
	)

	p.link(ctx, *task)

	started := timeNow()
	herr := p.handle(ctx, *task)
	taskDuration.WithLabelValues(task.Type).Observe(timeNow().Sub(started).Seconds())

	// The transition is recorded even when the pool is stopping.
	finishCtx := context.WithoutCancel(ctx)
	if herr != nil {
		span.RecordError(herr)
		span.SetStatus(codes.Error, "task failed")
		tasksTotal.WithLabelValues(task.Type, "failed").Inc()
		p.logger.Warn(ctx, "task failed", zap.String("type", task.Type), zap.Error(herr))
		if _, err := p.queue.Fail(finishCtx, task.ID, herr.Error()); err != nil {
			return true, fmt.Errorf("fail task %s: %w", task.ID, err)
		}
		return true, nil
	}

	tasksTotal.WithLabelValues(task.Type, "completed").Inc()
	p.logger.Info(ctx, "task completed", zap.String("type", task.Type))
	if _, err := p.queue.Complete(finishCtx, task.ID); err != nil {
		return true, fmt.Errorf("complete task %s: %w", task.ID, err)
	}
	return true, nil
}

func (p *Pool) link(ctx context.Context, t queue.Task) {
	if p.linker == nil {
		return
	}
	_, err := p.linker.Link(ctx,
		graph.Ref{Type: graph.NodeScope, ID: t.ScopeID},
		graph.RelHasTask,
		graph.Ref{Type: graph.NodeTask, ID: t.ID},
	)
	if err != nil {
		p.logger.Warn(ctx, "linking task to scope failed", zap.Error(err))
	}
}

func (p *Pool) handle(ctx context.Context, t queue.Task) (err error) {
	h, ok := p.handlers[t.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, t.Type)
	}
	if p.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.taskTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error(ctx, "task handler panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, t)
}
