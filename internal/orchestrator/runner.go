package orchestrator

import (
	"context"
	"errors"
	"strings"
)

// StepRunner runs single agent steps for workflow agent steps.
type StepRunner struct {
	o *Orchestrator
}

// NewStepRunner wraps o.
func NewStepRunner(o *Orchestrator) *StepRunner {
	return &StepRunner{o: o}
}

// RunAgent runs a one-step plan for agent and returns its response. The
// input's "goal" key, when present, drives memory retrieval.
func (r *StepRunner) RunAgent(ctx context.Context, scopeID, agent string, input map[string]any) (any, error) {
	kind, err := ParseKind(agent)
	if err != nil {
		return nil, err
	}
	res := r.o.Orchestrate(ctx, scopeID, []PlanStep{{Agent: kind}}, input)
	if len(res.Errors) > 0 {
		msgs := make([]string, 0, len(res.Errors))
		for _, e := range res.Errors {
			msgs = append(msgs, e.Error)
		}
		return nil, errors.New(strings.Join(msgs, "; "))
	}
	if len(res.Executions) == 0 {
		if err := context.Cause(ctx); err != nil {
			return nil, err
		}
		return nil, errors.New("agent step did not run")
	}
	return res.Executions[0].Response, nil
}
