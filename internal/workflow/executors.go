package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/conductor/internal/expr"
	"github.com/fyrsmithlabs/conductor/internal/queue"
)

// Request is what an executor receives for one step.
type Request struct {
	Step    Step                  `json:"step"`
	ScopeID string                `json:"scope_id,omitempty"`
	Input   map[string]any        `json:"input,omitempty"`
	Results map[string]StepResult `json:"results,omitempty"`
}

// Executor runs one kind of step. Failures are reported in the result, not
// returned.
type Executor interface {
	Execute(ctx context.Context, req Request) StepResult
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req Request) StepResult

func (f ExecutorFunc) Execute(ctx context.Context, req Request) StepResult { return f(ctx, req) }

// TaskRunner hands a unit of work to the task system.
type TaskRunner interface {
	RunTask(ctx context.Context, scopeID string, cfg map[string]any) (any, error)
}

// AgentRunner invokes an agent by kind name.
type AgentRunner interface {
	RunAgent(ctx context.Context, scopeID, agent string, input map[string]any) (any, error)
}

// IntegrationFunc is a named external call.
type IntegrationFunc func(ctx context.Context, params map[string]any) (any, error)

// DelayExecutor sleeps for config "duration" (a Go duration string, or a
// number of milliseconds). Only the calling run waits.
func DelayExecutor() Executor {
	return ExecutorFunc(func(ctx context.Context, req Request) StepResult {
		d, err := DelayDuration(req.Step.Config)
		if err != nil {
			return Failure(err)
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return StepResult{Success: true, Result: map[string]any{"slept": d.String()}}
		case <-ctx.Done():
			return Failure(ctx.Err())
		}
	})
}

// DelayDuration reads the delay from a step config.
func DelayDuration(cfg map[string]any) (time.Duration, error) {
	raw, ok := cfg["duration"]
	if !ok {
		return 0, fmt.Errorf("delay: missing duration")
	}
	var d time.Duration
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("delay: %w", err)
		}
		d = parsed
	case float64:
		d = time.Duration(v * float64(time.Millisecond))
	case int:
		d = time.Duration(v) * time.Millisecond
	case int64:
		d = time.Duration(v) * time.Millisecond
	case time.Duration:
		d = v
	default:
		return 0, fmt.Errorf("delay: unsupported duration %T", raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("delay: negative duration %s", d)
	}
	return d, nil
}

// ConditionExecutor evaluates config "expression" over Env(input, results).
// A true expression succeeds, a false one fails, so the step's edges act as
// the two branches.
func ConditionExecutor() Executor {
	return ExecutorFunc(func(_ context.Context, req Request) StepResult {
		return evalCondition(req)
	})
}

func evalCondition(req Request) StepResult {
	src, _ := req.Step.Config["expression"].(string)
	if src == "" {
		return Failure(fmt.Errorf("condition: missing expression"))
	}
	ok, err := expr.Evaluate(src, Env(req.Input, req.Results))
	if err != nil {
		return Failure(err)
	}
	return StepResult{Success: ok, Result: ok}
}

// TaskExecutor delegates to runner.
func TaskExecutor(runner TaskRunner) Executor {
	return ExecutorFunc(func(ctx context.Context, req Request) StepResult {
		return wrap(runner.RunTask(ctx, req.ScopeID, req.Step.Config))
	})
}

// AgentExecutor calls config "agent" with config "input" plus the results
// so far under "steps".
func AgentExecutor(runner AgentRunner) Executor {
	return ExecutorFunc(func(ctx context.Context, req Request) StepResult {
		agent, _ := req.Step.Config["agent"].(string)
		if agent == "" {
			return Failure(fmt.Errorf("agent: missing agent"))
		}
		input := make(map[string]any)
		if in, ok := req.Step.Config["input"].(map[string]any); ok {
			for k, v := range in {
				input[k] = v
			}
		}
		input["steps"] = Env(nil, req.Results)["steps"]
		return wrap(runner.RunAgent(ctx, req.ScopeID, agent, input))
	})
}

// IntegrationExecutor looks up config "name" in integrations and calls it
// with config "params".
func IntegrationExecutor(integrations map[string]IntegrationFunc) Executor {
	return ExecutorFunc(func(ctx context.Context, req Request) StepResult {
		name, _ := req.Step.Config["name"].(string)
		fn, ok := integrations[name]
		if !ok {
			return Failure(fmt.Errorf("integration %q is not registered", name))
		}
		params, _ := req.Step.Config["params"].(map[string]any)
		return wrap(fn(ctx, params))
	})
}

func wrap(v any, err error) StepResult {
	if err != nil {
		return Failure(err)
	}
	return StepResult{Success: true, Result: v}
}

// QueueTaskRunner enqueues config "type" with config "payload" into a task
// queue under the run's scope.
type QueueTaskRunner struct {
	q *queue.Queue
}

// NewQueueTaskRunner creates a runner on q.
func NewQueueTaskRunner(q *queue.Queue) *QueueTaskRunner {
	return &QueueTaskRunner{q: q}
}

func (r *QueueTaskRunner) RunTask(ctx context.Context, scopeID string, cfg map[string]any) (any, error) {
	taskType, _ := cfg["type"].(string)
	var payload json.RawMessage
	if p, ok := cfg["payload"]; ok && p != nil {
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("task payload: %w", err)
		}
		payload = data
	}
	t, err := r.q.Enqueue(ctx, scopeID, taskType, payload)
	if err != nil {
		return nil, err
	}
	return map[string]any{"task_id": t.ID, "type": t.Type, "status": string(t.Status)}, nil
}
