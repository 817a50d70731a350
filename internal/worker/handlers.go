package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/conductor/internal/orchestrator"
	"github.com/fyrsmithlabs/conductor/internal/queue"
	"github.com/fyrsmithlabs/conductor/internal/workflow"
)

// Task types served by the built-in handlers.
const (
	TypeWorkflow    = "workflow"
	TypeOrchestrate = "orchestrate"
)

// ErrBadPayload is returned for task payloads a handler cannot decode.
var ErrBadPayload = errors.New("bad task payload")

// WorkflowRunner runs workflow definitions. *workflow.Engine and
// *workflow.DurableRunner satisfy it.
type WorkflowRunner interface {
	Run(ctx context.Context, def *workflow.Definition, scopeID string) (*workflow.Execution, error)
}

// WorkflowHandler runs the task payload as a workflow definition. The task
// fails unless the execution completes.
func WorkflowHandler(r WorkflowRunner) Handler {
	return HandlerFunc(func(ctx context.Context, t queue.Task) error {
		var def workflow.Definition
		if err := json.Unmarshal(t.Payload, &def); err != nil {
			return fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		exec, err := r.Run(ctx, &def, t.ScopeID)
		if err != nil {
			return err
		}
		if exec.Status != workflow.StatusCompleted {
			if exec.Error != "" {
				return fmt.Errorf("workflow %s %s: %s", def.ID, exec.Status, exec.Error)
			}
			return fmt.Errorf("workflow %s %s", def.ID, exec.Status)
		}
		return nil
	})
}

// OrchestratePayload is the payload of an orchestrate task. Without a plan
// the goal is planned first.
type OrchestratePayload struct {
	Goal  string                  `json:"goal"`
	Plan  []orchestrator.PlanStep `json:"plan,omitempty"`
	Input map[string]any          `json:"input,omitempty"`
}

// OrchestrateHandler runs an orchestration for the task's scope. The task
// fails unless the run succeeds.
func OrchestrateHandler(o *orchestrator.Orchestrator) Handler {
	return HandlerFunc(func(ctx context.Context, t queue.Task) error {
		var p OrchestratePayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrBadPayload, err)
		}

		var res *orchestrator.Result
		if len(p.Plan) > 0 {
			input := p.Input
			if input == nil {
				input = make(map[string]any)
			}
			if _, ok := input["goal"]; !ok && p.Goal != "" {
				input["goal"] = p.Goal
			}
			res = o.Orchestrate(ctx, t.ScopeID, p.Plan, input)
		} else {
			var err error
			if res, err = o.Run(ctx, t.ScopeID, p.Goal); err != nil {
				return err
			}
		}
		return resultError(res)
	})
}

func resultError(res *orchestrator.Result) error {
	if res.Success {
		return nil
	}
	var parts []string
	for _, e := range res.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Agent, e.Error))
	}
	for _, s := range res.Skipped {
		parts = append(parts, fmt.Sprintf("%s skipped: %s", s.Agent, s.Reason))
	}
	if res.Cancelled {
		parts = append(parts, "cancelled")
	}
	return fmt.Errorf("orchestration %s failed: %s", res.RunID, strings.Join(parts, "; "))
}
