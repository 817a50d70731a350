package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// DefaultActivityTimeout bounds collaborator steps that have no timeout of
// their own when run durably.
const DefaultActivityTimeout = 5 * time.Minute

// DurableInput starts DurableWorkflow.
type DurableInput struct {
	Definition  Definition    `json:"definition"`
	ScopeID     string        `json:"scope_id,omitempty"`
	StepTimeout time.Duration `json:"step_timeout,omitempty"`
	MaxSteps    int           `json:"max_steps,omitempty"`
}

// Activities exposes Engine executors to Temporal workers.
type Activities struct {
	Engine *Engine
}

// ExecuteStep runs one task, agent or integration step.
func (a *Activities) ExecuteStep(ctx context.Context, req Request) (StepResult, error) {
	return a.Engine.RunStep(ctx, req), nil
}

// DurableWorkflow runs a definition as a Temporal workflow. Condition steps
// are evaluated inline, delays use durable timers and every other kind runs
// as an ExecuteStep activity with a single attempt.
func DurableWorkflow(ctx workflow.Context, in DurableInput) (*Execution, error) {
	logger := workflow.GetLogger(ctx)
	def := in.Definition
	if err := def.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidDefinition", err)
	}

	info := workflow.GetInfo(ctx)
	exec := &Execution{
		ID:         info.WorkflowExecution.ID,
		WorkflowID: def.ID,
		ScopeID:    in.ScopeID,
		Results:    make(map[string]StepResult),
		StartedAt:  workflow.Now(ctx).UTC(),
	}
	logger.Info("Starting workflow", "workflow", def.ID, "steps", len(def.Steps))

	m := &machine{
		def:       &def,
		maxSteps:  in.MaxSteps,
		now:       func() time.Time { return workflow.Now(ctx).UTC() },
		cancelled: func() bool { return ctx.Err() != nil },
		run: func(step Step, results map[string]StepResult) StepResult {
			timeout := step.Timeout.Std()
			if timeout == 0 {
				timeout = in.StepTimeout
			}
			req := Request{Step: step, ScopeID: in.ScopeID, Input: def.Input, Results: copyResults(results)}
			switch step.Kind {
			case KindCondition:
				return evalCondition(req)
			case KindDelay:
				return durableDelay(ctx, step, timeout)
			default:
				return durableActivity(ctx, req, timeout)
			}
		},
		observe: func(rec StepRecord) {
			logger.Info("Step finished", "step", rec.StepID, "state", string(rec.State))
		},
	}
	m.execute(exec)

	logger.Info("Workflow finished", "status", string(exec.Status))
	return exec, nil
}

func durableDelay(ctx workflow.Context, step Step, timeout time.Duration) StepResult {
	d, err := DelayDuration(step.Config)
	if err != nil {
		return Failure(err)
	}
	sctx, _ := workflow.NewDisconnectedContext(ctx)
	if timeout > 0 && d > timeout {
		if err := workflow.Sleep(sctx, timeout); err != nil {
			return Failure(err)
		}
		return timedOut(timeout)
	}
	if err := workflow.Sleep(sctx, d); err != nil {
		return Failure(err)
	}
	return StepResult{Success: true, Result: map[string]any{"slept": d.String()}}
}

func durableActivity(ctx workflow.Context, req Request, timeout time.Duration) StepResult {
	startToClose := DefaultActivityTimeout
	if timeout > 0 {
		startToClose = timeout
	}
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: startToClose,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	// Steps run to completion even when the workflow is cancelled.
	actx, _ := workflow.NewDisconnectedContext(ctx)
	actx = workflow.WithActivityOptions(actx, ao)

	var a *Activities
	var res StepResult
	if err := workflow.ExecuteActivity(actx, a.ExecuteStep, req).Get(actx, &res); err != nil {
		var timeoutErr *temporal.TimeoutError
		if errors.As(err, &timeoutErr) {
			return timedOut(startToClose)
		}
		return Failure(fmt.Errorf("step activity: %w", err))
	}
	return res
}
