package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
)

type fakeStarter struct {
	run     client.WorkflowRun
	err     error
	options client.StartWorkflowOptions
	input   DurableInput
	calls   int
}

func (f *fakeStarter) ExecuteWorkflow(_ context.Context, options client.StartWorkflowOptions, _ interface{}, args ...interface{}) (client.WorkflowRun, error) {
	f.calls++
	f.options = options
	if len(args) == 1 {
		f.input, _ = args[0].(DurableInput)
	}
	return f.run, f.err
}

func TestDurableRunner_StartsAndWaits(t *testing.T) {
	run := &mocks.WorkflowRun{}
	run.On("GetID").Return("workflow-wf-1").Maybe()
	run.On("Get", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		exec := args.Get(1).(*Execution)
		exec.WorkflowID = "wf"
		exec.Status = StatusCompleted
	}).Return(nil)
	starter := &fakeStarter{run: run}

	r := NewDurableRunner(starter, "conductor-workflows", time.Minute, 50)
	def := &Definition{ID: "wf", Steps: []Step{integration("A", "deploy")}}
	exec, err := r.Run(context.Background(), def, "scope-1")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Equal(t, "conductor-workflows", starter.options.TaskQueue)
	assert.Contains(t, starter.options.ID, "workflow-wf-")
	assert.Equal(t, "scope-1", starter.input.ScopeID)
	assert.Equal(t, time.Minute, starter.input.StepTimeout)
	assert.Equal(t, 50, starter.input.MaxSteps)
	assert.Equal(t, "wf", starter.input.Definition.ID)
	run.AssertExpectations(t)
}

func TestDurableRunner_Errors(t *testing.T) {
	t.Run("invalid definition is not started", func(t *testing.T) {
		starter := &fakeStarter{}
		r := NewDurableRunner(starter, "q", 0, 0)

		_, err := r.Run(context.Background(), &Definition{ID: "wf"}, "scope-1")
		assert.ErrorIs(t, err, ErrInvalidDefinition)
		_, err = r.Run(context.Background(), nil, "scope-1")
		assert.ErrorIs(t, err, ErrInvalidDefinition)
		assert.Zero(t, starter.calls)
	})

	t.Run("start failure", func(t *testing.T) {
		r := NewDurableRunner(&fakeStarter{err: errors.New("frontend unavailable")}, "q", 0, 0)
		_, err := r.Run(context.Background(), &Definition{ID: "wf", Steps: []Step{integration("A", "x")}}, "scope-1")
		assert.ErrorContains(t, err, "frontend unavailable")
	})

	t.Run("workflow failure", func(t *testing.T) {
		run := &mocks.WorkflowRun{}
		run.On("GetID").Return("workflow-wf-2")
		run.On("Get", mock.Anything, mock.Anything).Return(errors.New("workflow terminated"))
		r := NewDurableRunner(&fakeStarter{run: run}, "q", 0, 0)

		_, err := r.Run(context.Background(), &Definition{ID: "wf", Steps: []Step{integration("A", "x")}}, "scope-1")
		assert.ErrorContains(t, err, "workflow-wf-2")
		assert.ErrorContains(t, err, "workflow terminated")
	})
}
