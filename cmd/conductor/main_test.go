package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductor/internal/config"
	"github.com/fyrsmithlabs/conductor/internal/graph"
	"github.com/fyrsmithlabs/conductor/internal/logging"
	"github.com/fyrsmithlabs/conductor/internal/orchestrator"
	"github.com/fyrsmithlabs/conductor/internal/queue"
	"github.com/fyrsmithlabs/conductor/internal/worker"
	"github.com/fyrsmithlabs/conductor/internal/workflow"
)

// writeConfig writes a local-only config into a temp dir and returns its path.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "conductor.yaml")
	content := strings.Join([]string{
		"logging:",
		"  level: error",
		"sqlite:",
		"  path: " + filepath.Join(dir, "conductor.db"),
		"chromem:",
		"  path: " + filepath.Join(dir, "chromem"),
		"queue:",
		"  backend: sqlite",
		"embeddings:",
		"  dimension: 64",
		"",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	cfg, err := config.Load(writeConfig(t))
	require.NoError(t, err)
	a, err := newApp(context.Background(), cfg, logging.New(zap.NewNop()), appOptions{})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    dev")
}

func TestPlanCommand(t *testing.T) {
	out, err := execute(t, "plan", "--json", "research", "the", "outage", "and", "review", "it")
	require.NoError(t, err)

	var plan []orchestrator.PlanStep
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	require.Len(t, plan, 2)
	assert.Equal(t, orchestrator.KindResearch, plan[0].Agent)
	assert.Equal(t, orchestrator.KindReview, plan[1].Agent)
	assert.Equal(t, []orchestrator.AgentKind{orchestrator.KindResearch}, plan[1].Dependencies)
}

func TestRunCommand(t *testing.T) {
	out, err := execute(t, "run", "--config", writeConfig(t), "--json", "--scope", "billing", "analyze the deploy")
	require.NoError(t, err)

	var res orchestrator.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "billing", res.ScopeID)
	assert.NotEmpty(t, res.Executions)
}

func TestSubmitCommand_RejectsInvalidPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := execute(t, "submit", "--config", writeConfig(t), "--type", "workflow", "--file", path)
	assert.ErrorContains(t, err, "not valid JSON")
}

func TestApp_WorkflowTaskEndToEnd(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	def := workflow.Definition{ID: "triage", Steps: []workflow.Step{
		{ID: "research", Kind: workflow.KindAgent, Config: map[string]any{
			"agent": "research",
			"input": map[string]any{"goal": "triage the billing alert"},
		}, OnSuccess: "follow-up"},
		{ID: "follow-up", Kind: workflow.KindTask, Config: map[string]any{
			"type":    "notify",
			"payload": map[string]any{"channel": "oncall"},
		}},
	}}
	payload, err := json.Marshal(def)
	require.NoError(t, err)
	task, err := a.queue.Enqueue(ctx, "billing", worker.TypeWorkflow, payload)
	require.NoError(t, err)

	a.cfg.Worker.TaskTypes = []string{worker.TypeWorkflow}
	pool := newPool(a, a.cfg)
	ok, err := pool.ProcessOne(ctx, worker.TypeWorkflow)
	require.NoError(t, err)
	require.True(t, ok)

	tasks, err := a.queue.List(ctx, "billing")
	require.NoError(t, err)
	byType := map[string]queue.Task{}
	for _, tk := range tasks {
		byType[tk.Type] = tk
	}
	assert.Equal(t, queue.StatusCompleted, byType[worker.TypeWorkflow].Status, byType[worker.TypeWorkflow].Error)
	assert.Equal(t, queue.StatusQueued, byType["notify"].Status)

	edges, err := a.graph.Neighbors(ctx, graph.Ref{Type: graph.NodeTask, ID: task.ID})
	require.NoError(t, err)
	require.NotEmpty(t, edges)
	assert.Equal(t, graph.RelHasTask, edges[0].Relation)

	hits, err := a.memory.Search(ctx, "billing", "research triage billing alert", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Contains(t, hits[0].Record.Text, "[research]")
}

func TestNewQueueBackend_Unknown(t *testing.T) {
	cfg := &config.Config{Queue: config.QueueConfig{Backend: "kafka"}}
	_, err := newQueueBackend(cfg, nil)
	assert.ErrorContains(t, err, "kafka")
}
