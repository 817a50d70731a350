package workflow

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

	"github.com/fyrsmithlabs/conductor/internal/logging"
)

var tracer = otel.Tracer("conductor.workflow")

var timeNow = time.Now

// Engine runs definitions in-process.
type Engine struct {
	executors   map[StepKind]Executor
	logger      *logging.Logger
	stepTimeout time.Duration
	maxSteps    int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = logging.New(l)
		}
	}
}

// WithExecutor registers or replaces the executor for kind.
func WithExecutor(kind StepKind, ex Executor) Option {
	return func(e *Engine) { e.executors[kind] = ex }
}

// WithTaskRunner enables task steps.
func WithTaskRunner(r TaskRunner) Option {
	return func(e *Engine) { e.executors[KindTask] = TaskExecutor(r) }
}

// WithAgentRunner enables agent steps.
func WithAgentRunner(r AgentRunner) Option {
	return func(e *Engine) { e.executors[KindAgent] = AgentExecutor(r) }
}

// WithIntegrations enables integration steps backed by the given registry.
func WithIntegrations(reg map[string]IntegrationFunc) Option {
	return func(e *Engine) { e.executors[KindIntegration] = IntegrationExecutor(reg) }
}

// WithStepTimeout sets the timeout for steps that do not carry their own.
// Zero means no timeout.
func WithStepTimeout(d time.Duration) Option {
	return func(e *Engine) { e.stepTimeout = d }
}

// WithMaxSteps bounds the number of steps one run may execute.
func WithMaxSteps(n int) Option {
	return func(e *Engine) { e.maxSteps = n }
}

// NewEngine creates an engine. Delay and condition steps work out of the
// box; task, agent and integration steps need their collaborators.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		executors: map[StepKind]Executor{
			KindDelay:     DelayExecutor(),
			KindCondition: ConditionExecutor(),
		},
		logger:   logging.New(zap.NewNop()),
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes def to completion. The returned error is non-nil only when
// def is invalid; step failures, timeouts and cancellation are reported in
// the Execution.
//
// Cancelling ctx does not interrupt the running step. The run stops before
// the next step with StatusCancelled.
func (e *Engine) Run(ctx context.Context, def *Definition, scopeID string) (*Execution, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: nil definition", ErrInvalidDefinition)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	exec := &Execution{
		ID:         uuid.New().String(),
		WorkflowID: def.ID,
		ScopeID:    scopeID,
		Results:    make(map[string]StepResult),
		StartedAt:  timeNow().UTC(),
	}

	ctx = logging.WithWorkflowID(logging.WithScope(ctx, scopeID), exec.ID)
	ctx, span := tracer.Start(ctx, "workflow.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("workflow.id", def.ID),
		attribute.String("workflow.execution_id", exec.ID),
		attribute.Int("workflow.steps", len(def.Steps)),
	)

	e.logger.Info(ctx, "workflow started", zap.String("workflow", def.ID))

	m := &machine{
		def:       def,
		maxSteps:  e.maxSteps,
		now:       func() time.Time { return timeNow().UTC() },
		cancelled: func() bool { return ctx.Err() != nil },
		run: func(step Step, results map[string]StepResult) StepResult {
			return e.RunStep(ctx, Request{
				Step:    step,
				ScopeID: scopeID,
				Input:   def.Input,
				Results: copyResults(results),
			})
		},
		observe: func(rec StepRecord) {
			stepsTotal.WithLabelValues(string(rec.Kind), string(rec.State)).Inc()
			stepDuration.WithLabelValues(string(rec.Kind)).Observe(rec.FinishedAt.Sub(rec.StartedAt).Seconds())
			e.logger.Debug(ctx, "workflow step finished",
				zap.String("step", rec.StepID),
				zap.String("kind", string(rec.Kind)),
				zap.String("state", string(rec.State)),
				zap.String("error", rec.Result.Error),
			)
		},
	}
	m.execute(exec)

	runsTotal.WithLabelValues(string(exec.Status)).Inc()
	span.SetAttributes(attribute.String("workflow.status", string(exec.Status)))
	switch exec.Status {
	case StatusCompleted:
		e.logger.Info(ctx, "workflow completed", zap.Int("steps", len(exec.Steps)))
	case StatusCancelled:
		e.logger.Warn(ctx, "workflow cancelled", zap.Int("steps", len(exec.Steps)))
	default:
		span.SetStatus(codes.Error, exec.Error)
		e.logger.Warn(ctx, "workflow failed", zap.String("error", exec.Error))
	}
	return exec, nil
}

// RunStep executes a single step with the registered executor, applying the
// step timeout and converting panics into failures. It is also the body of
// the Temporal step activity.
func (e *Engine) RunStep(ctx context.Context, req Request) StepResult {
	ex, ok := e.executors[req.Step.Kind]
	if !ok {
		return Failure(fmt.Errorf("%w: %s", ErrNoExecutor, req.Step.Kind))
	}

	timeout := req.Step.Timeout.Std()
	if timeout == 0 {
		timeout = e.stepTimeout
	}

	// The step outlives caller cancellation; only its own timeout stops it.
	stepCtx := context.WithoutCancel(ctx)
	if timeout <= 0 {
		return safeExecute(stepCtx, ex, req)
	}
	stepCtx, cancel := context.WithTimeout(stepCtx, timeout)
	defer cancel()

	done := make(chan StepResult, 1)
	go func() { done <- safeExecute(stepCtx, ex, req) }()

	select {
	case res := <-done:
		if !res.Success && errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
			return timedOut(timeout)
		}
		return res
	case <-stepCtx.Done():
		return timedOut(timeout)
	}
}

func timedOut(d time.Duration) StepResult {
	return Failure(fmt.Errorf("%w after %s", ErrStepTimeout, d))
}

func safeExecute(ctx context.Context, ex Executor, req Request) (res StepResult) {
	defer func() {
		if r := recover(); r != nil {
			res = Failure(fmt.Errorf("executor panic: %v", r))
		}
	}()
	return ex.Execute(ctx, req)
}

func copyResults(in map[string]StepResult) map[string]StepResult {
	out := make(map[string]StepResult, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
