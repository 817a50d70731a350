package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/conductor/internal/orchestrator"
	"github.com/fyrsmithlabs/conductor/internal/queue"
	"github.com/fyrsmithlabs/conductor/internal/workflow"
)

func TestWorkflowHandler(t *testing.T) {
	var deployed []string
	engine := workflow.NewEngine(workflow.WithIntegrations(map[string]workflow.IntegrationFunc{
		"deploy": func(_ context.Context, params map[string]any) (any, error) {
			deployed = append(deployed, params["service"].(string))
			return "ok", nil
		},
		"broken": func(context.Context, map[string]any) (any, error) { return nil, errors.New("registry down") },
	}))

	q := newQueue(t)
	p := NewPool(q, WithHandler(TypeWorkflow, WorkflowHandler(engine)))

	good := enqueue(t, q, TypeWorkflow, workflow.Definition{ID: "release", Steps: []workflow.Step{{
		ID: "deploy", Kind: workflow.KindIntegration,
		Config: map[string]any{"name": "deploy", "params": map[string]any{"service": "billing"}},
	}}})
	bad := enqueue(t, q, TypeWorkflow, workflow.Definition{ID: "release", Steps: []workflow.Step{{
		ID: "deploy", Kind: workflow.KindIntegration, Config: map[string]any{"name": "broken"},
	}}})
	invalid := enqueue(t, q, TypeWorkflow, workflow.Definition{ID: "empty"})
	garbage, err := q.Enqueue(context.Background(), "scope-1", TypeWorkflow, []byte(`"not a definition"`))
	require.NoError(t, err)

	for range 4 {
		_, err := p.ProcessOne(context.Background(), TypeWorkflow)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"billing"}, deployed)
	assert.Equal(t, queue.StatusCompleted, taskStatus(t, q, good.ID).Status)

	failed := taskStatus(t, q, bad.ID)
	assert.Equal(t, queue.StatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "registry down")

	assert.Contains(t, taskStatus(t, q, invalid.ID).Error, workflow.ErrInvalidDefinition.Error())
	assert.Contains(t, taskStatus(t, q, garbage.ID).Error, ErrBadPayload.Error())
}

func TestWorkflowHandler_StringTimeouts(t *testing.T) {
	q := newQueue(t)
	p := NewPool(q, WithHandler(TypeWorkflow, WorkflowHandler(workflow.NewEngine())))

	ok, err := q.Enqueue(context.Background(), "scope-1", TypeWorkflow, []byte(
		`{"id":"wf","steps":[{"id":"wait","kind":"delay","config":{"duration":"10ms"},"timeout":"5s"}]}`))
	require.NoError(t, err)
	slow, err := q.Enqueue(context.Background(), "scope-1", TypeWorkflow, []byte(
		`{"id":"wf","steps":[{"id":"wait","kind":"delay","config":{"duration":"1m"},"timeout":"20ms"}]}`))
	require.NoError(t, err)

	for range 2 {
		_, err := p.ProcessOne(context.Background(), TypeWorkflow)
		require.NoError(t, err)
	}

	assert.Equal(t, queue.StatusCompleted, taskStatus(t, q, ok.ID).Status)
	timedOut := taskStatus(t, q, slow.ID)
	assert.Equal(t, queue.StatusFailed, timedOut.Status)
	assert.Contains(t, timedOut.Error, workflow.ErrStepTimeout.Error())
}

func TestOrchestrateHandler(t *testing.T) {
	o, err := orchestrator.New(orchestrator.EchoAgents())
	require.NoError(t, err)
	q := newQueue(t)
	p := NewPool(q, WithHandler(TypeOrchestrate, OrchestrateHandler(o)))

	planned := enqueue(t, q, TypeOrchestrate, OrchestratePayload{Goal: "research the incident"})
	explicit := enqueue(t, q, TypeOrchestrate, OrchestratePayload{
		Goal: "ship it",
		Plan: []orchestrator.PlanStep{{Agent: orchestrator.KindDeploy}},
	})
	empty := enqueue(t, q, TypeOrchestrate, OrchestratePayload{})

	for range 3 {
		_, err := p.ProcessOne(context.Background(), TypeOrchestrate)
		require.NoError(t, err)
	}

	assert.Equal(t, queue.StatusCompleted, taskStatus(t, q, planned.ID).Status)
	assert.NotEmpty(t, o.History("scope-1", orchestrator.KindResearch))

	assert.Equal(t, queue.StatusCompleted, taskStatus(t, q, explicit.ID).Status)
	deploys := o.History("scope-1", orchestrator.KindDeploy)
	require.Len(t, deploys, 1)
	assert.Equal(t, "ship it", deploys[0].Context.Goal)

	assert.Contains(t, taskStatus(t, q, empty.ID).Error, orchestrator.ErrEmptyGoal.Error())
}

func TestOrchestrateHandler_UnsuccessfulRunFails(t *testing.T) {
	o, err := orchestrator.New(orchestrator.Agents{
		orchestrator.KindResearch: orchestrator.AgentFunc(func(context.Context, orchestrator.AgentContext) (orchestrator.Response, error) {
			return orchestrator.Response{}, errors.New("quota exceeded")
		}),
		orchestrator.KindAnalysis: orchestrator.EchoAgent{Kind: orchestrator.KindAnalysis},
	})
	require.NoError(t, err)
	q := newQueue(t)
	task := enqueue(t, q, TypeOrchestrate, OrchestratePayload{
		Goal: "analyze",
		Plan: []orchestrator.PlanStep{
			{Agent: orchestrator.KindResearch, Priority: 2},
			{Agent: orchestrator.KindAnalysis, Priority: 1, Dependencies: []orchestrator.AgentKind{orchestrator.KindResearch}},
		},
	})
	p := NewPool(q, WithHandler(TypeOrchestrate, OrchestrateHandler(o)))

	_, err = p.ProcessOne(context.Background(), TypeOrchestrate)
	require.NoError(t, err)

	got := taskStatus(t, q, task.ID)
	assert.Equal(t, queue.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "research: quota exceeded")
	assert.Contains(t, got.Error, "analysis skipped: "+orchestrator.ReasonDependencyFailed)
}
