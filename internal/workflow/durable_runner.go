package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// Starter starts Temporal workflows. client.Client satisfies it.
type Starter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// DurableRunner runs definitions as DurableWorkflow executions and waits for
// their result. It has the same shape as Engine.Run so callers can switch
// between local and durable execution.
type DurableRunner struct {
	starter     Starter
	taskQueue   string
	stepTimeout time.Duration
	maxSteps    int
}

// NewDurableRunner creates a runner that starts workflows on taskQueue.
func NewDurableRunner(s Starter, taskQueue string, stepTimeout time.Duration, maxSteps int) *DurableRunner {
	return &DurableRunner{starter: s, taskQueue: taskQueue, stepTimeout: stepTimeout, maxSteps: maxSteps}
}

func (r *DurableRunner) Run(ctx context.Context, def *Definition, scopeID string) (*Execution, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: nil definition", ErrInvalidDefinition)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	opts := client.StartWorkflowOptions{
		ID:        fmt.Sprintf("workflow-%s-%s", def.ID, uuid.NewString()),
		TaskQueue: r.taskQueue,
	}
	run, err := r.starter.ExecuteWorkflow(ctx, opts, DurableWorkflow, DurableInput{
		Definition:  *def,
		ScopeID:     scopeID,
		StepTimeout: r.stepTimeout,
		MaxSteps:    r.maxSteps,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start workflow: %w", err)
	}

	var exec Execution
	if err := run.Get(ctx, &exec); err != nil {
		return nil, fmt.Errorf("workflow %s: %w", run.GetID(), err)
	}
	return &exec, nil
}

// Register adds DurableWorkflow and the step activities backed by e to w.
func Register(w worker.Registry, e *Engine) {
	w.RegisterWorkflow(DurableWorkflow)
	w.RegisterActivity(&Activities{Engine: e})
}
