package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/conductor/internal/embeddings"
	"github.com/fyrsmithlabs/conductor/internal/memory"
)

// recorder collects the order agents ran in and the context each saw.
type recorder struct {
	mu    sync.Mutex
	order []AgentKind
	seen  map[AgentKind]AgentContext
}

func newRecorder() *recorder { return &recorder{seen: make(map[AgentKind]AgentContext)} }

func (r *recorder) agent(kind AgentKind, output any, err error) Agent {
	return AgentFunc(func(_ context.Context, actx AgentContext) (Response, error) {
		r.mu.Lock()
		r.order = append(r.order, kind)
		r.seen[kind] = actx
		r.mu.Unlock()
		if err != nil {
			return Response{}, err
		}
		return Response{Action: "done", Output: output}, nil
	})
}

func skippedKinds(res *Result) []AgentKind {
	out := make([]AgentKind, 0, len(res.Skipped))
	for _, s := range res.Skipped {
		out = append(out, s.Agent)
	}
	return out
}

func executedKinds(res *Result) []AgentKind {
	out := make([]AgentKind, 0, len(res.Executions))
	for _, e := range res.Executions {
		out = append(out, e.Agent)
	}
	return out
}

func twoStepPlan() []PlanStep {
	return []PlanStep{
		{Agent: KindResearch, Priority: 10},
		{Agent: KindAnalysis, Priority: 5, Dependencies: []AgentKind{KindResearch}},
	}
}

func TestOrchestrate_DependentStepsBothSucceed(t *testing.T) {
	rec := newRecorder()
	o, err := New(Agents{
		KindResearch: rec.agent(KindResearch, "three prior incidents", nil),
		KindAnalysis: rec.agent(KindAnalysis, "root cause is retries", nil),
	})
	require.NoError(t, err)

	res := o.Orchestrate(context.Background(), "scope-1", twoStepPlan(), map[string]any{"goal": "investigate outage"})

	assert.Len(t, res.Executions, 2)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Skipped)
	assert.True(t, res.Success)
	assert.Equal(t, []AgentKind{KindResearch, KindAnalysis}, rec.order)

	analysisCtx := rec.seen[KindAnalysis]
	require.NotEmpty(t, analysisCtx.Memories)
	last := analysisCtx.Memories[len(analysisCtx.Memories)-1]
	assert.Equal(t, "agent:research", last.Source)
	assert.Equal(t, "three prior incidents", last.Text)
	assert.Equal(t, "three prior incidents", analysisCtx.Outputs[KindResearch])
	assert.Equal(t, KindAnalysis, analysisCtx.Agent)
}

func TestOrchestrate_FailedDependencySkipsDependent(t *testing.T) {
	rec := newRecorder()
	o, err := New(Agents{
		KindResearch: rec.agent(KindResearch, nil, errors.New("search backend down")),
		KindAnalysis: rec.agent(KindAnalysis, "unused", nil),
	})
	require.NoError(t, err)

	res := o.Orchestrate(context.Background(), "scope-1", twoStepPlan(), nil)

	assert.Empty(t, res.Executions)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, KindResearch, res.Errors[0].Agent)
	assert.Contains(t, res.Errors[0].Error, "search backend down")

	require.Len(t, res.Skipped, 1)
	assert.Equal(t, KindAnalysis, res.Skipped[0].Agent)
	assert.Equal(t, ReasonDependencyFailed, res.Skipped[0].Reason)
	assert.Equal(t, []AgentKind{KindResearch}, res.Skipped[0].Missing)
	assert.False(t, res.Success)
	assert.Equal(t, []AgentKind{KindResearch}, rec.order)
}

func TestOrchestrate_TransitiveSkip(t *testing.T) {
	rec := newRecorder()
	o, err := New(Agents{
		KindResearch: rec.agent(KindResearch, nil, errors.New("boom")),
		KindAnalysis: rec.agent(KindAnalysis, "a", nil),
		KindPlanning: rec.agent(KindPlanning, "p", nil),
		KindReview:   rec.agent(KindReview, "r", nil),
	})
	require.NoError(t, err)

	plan := []PlanStep{
		{Agent: KindResearch, Priority: 40},
		{Agent: KindAnalysis, Priority: 30, Dependencies: []AgentKind{KindResearch}},
		{Agent: KindPlanning, Priority: 20, Dependencies: []AgentKind{KindAnalysis}},
		{Agent: KindReview, Priority: 10},
	}
	res := o.Orchestrate(context.Background(), "scope-1", plan, nil)

	assert.Equal(t, []AgentKind{KindAnalysis, KindPlanning}, skippedKinds(res))
	assert.Equal(t, ReasonDependencySkipped, res.Skipped[1].Reason)
	assert.Equal(t, []AgentKind{KindReview}, executedKinds(res))
	assert.Len(t, res.Errors, 1)
	assert.Equal(t, []AgentKind{KindResearch, KindReview}, rec.order)
}

func TestOrchestrate_PriorityOrderAndUnrunDependency(t *testing.T) {
	rec := newRecorder()
	o, err := New(Agents{
		KindResearch: rec.agent(KindResearch, "r", nil),
		KindCoding:   rec.agent(KindCoding, "c", nil),
		KindDeploy:   rec.agent(KindDeploy, "d", nil),
	})
	require.NoError(t, err)

	plan := []PlanStep{
		{Agent: KindResearch, Priority: 1},
		{Agent: KindCoding, Priority: 50},
		// Runs before its dependency because of its priority.
		{Agent: KindDeploy, Priority: 100, Dependencies: []AgentKind{KindResearch}},
	}
	res := o.Orchestrate(context.Background(), "scope-1", plan, nil)

	assert.Equal(t, []AgentKind{KindCoding, KindResearch}, rec.order)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, KindDeploy, res.Skipped[0].Agent)
	assert.Equal(t, ReasonDependencyNotRun, res.Skipped[0].Reason)
	assert.Empty(t, res.Errors)
	assert.False(t, res.Success)
}

func TestOrchestrate_AllSkippedDistinguishableFromEmptyPlan(t *testing.T) {
	o, err := New(EchoAgents())
	require.NoError(t, err)

	empty := o.Orchestrate(context.Background(), "scope-1", nil, nil)
	assert.True(t, empty.Success)
	assert.Empty(t, empty.Skipped)

	skipped := o.Orchestrate(context.Background(), "scope-1", []PlanStep{
		{Agent: KindReview, Dependencies: []AgentKind{KindCoding}},
	}, nil)
	assert.False(t, skipped.Success)
	assert.Empty(t, skipped.Executions)
	assert.Empty(t, skipped.Errors)
	assert.Len(t, skipped.Skipped, 1)
}

type countingTools struct {
	calls atomic.Int32
	delay time.Duration
	fail  map[string]bool
}

func (c *countingTools) Execute(_ context.Context, name string, params map[string]any, _ AgentContext) (any, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.fail[name] {
		return nil, fmt.Errorf("%s unavailable", name)
	}
	return map[string]any{"tool": name, "params": params}, nil
}

func TestOrchestrate_ToolCacheReusesResults(t *testing.T) {
	tools := &countingTools{}
	o, err := New(EchoAgents(), WithTools(tools))
	require.NoError(t, err)

	lookup := ToolCall{Name: "lookup", Params: map[string]any{"q": "retries", "limit": 3}}
	plan := []PlanStep{
		{Agent: KindResearch, Priority: 2, ToolCalls: []ToolCall{lookup}},
		{Agent: KindAnalysis, Priority: 1, ToolCalls: []ToolCall{
			{Name: "lookup", Params: map[string]any{"limit": 3, "q": "retries"}},
			{Name: "lookup", Params: map[string]any{"q": "timeouts", "limit": 3}},
		}},
	}
	res := o.Orchestrate(context.Background(), "scope-1", plan, nil)

	require.True(t, res.Success)
	assert.Equal(t, int32(2), tools.calls.Load())
	require.Len(t, res.ToolsUsed, 3)
	assert.False(t, res.ToolsUsed[0].Cached)
	assert.True(t, res.ToolsUsed[1].Cached)
	assert.False(t, res.ToolsUsed[2].Cached)
	assert.Equal(t, res.ToolsUsed[0].Result, res.ToolsUsed[1].Result)
}

func TestOrchestrate_CacheIsPerRun(t *testing.T) {
	tools := &countingTools{}
	o, err := New(EchoAgents(), WithTools(tools))
	require.NoError(t, err)

	plan := []PlanStep{{Agent: KindResearch, ToolCalls: []ToolCall{{Name: "lookup"}}}}
	o.Orchestrate(context.Background(), "scope-1", plan, nil)
	o.Orchestrate(context.Background(), "scope-1", plan, nil)

	assert.Equal(t, int32(2), tools.calls.Load())
}

func TestOrchestrate_ParallelToolsShareCache(t *testing.T) {
	tools := &countingTools{delay: 20 * time.Millisecond}
	o, err := New(EchoAgents(), WithTools(tools), WithParallelTools(4))
	require.NoError(t, err)

	same := ToolCall{Name: "lookup", Params: map[string]any{"q": "x"}}
	plan := []PlanStep{{Agent: KindResearch, ToolCalls: []ToolCall{
		same, same, same,
		{Name: "lookup", Params: map[string]any{"q": "y"}},
	}}}
	res := o.Orchestrate(context.Background(), "scope-1", plan, nil)

	assert.Equal(t, int32(2), tools.calls.Load())
	require.Len(t, res.ToolsUsed, 4)
	cached := 0
	for _, tr := range res.ToolsUsed {
		if tr.Cached {
			cached++
		}
	}
	assert.Equal(t, 2, cached)
	assert.Equal(t, "y", res.ToolsUsed[3].Params["q"])
}

func TestOrchestrate_ToolConditions(t *testing.T) {
	tools := &countingTools{}
	o, err := New(Agents{
		KindResearch: AgentFunc(func(context.Context, AgentContext) (Response, error) {
			return Response{Action: "found", Output: map[string]any{"count": 4}}, nil
		}),
	}, WithTools(tools))
	require.NoError(t, err)

	plan := []PlanStep{{Agent: KindResearch, ToolCalls: []ToolCall{
		{Name: "notify", Condition: "response.output.count > 3 && agent == 'research'"},
		{Name: "escalate", Condition: "response.action == 'blocked'"},
		{Name: "broken", Condition: "response.output.count > 'many'"},
	}}}
	res := o.Orchestrate(context.Background(), "scope-1", plan, map[string]any{"goal": "x"})

	assert.Equal(t, int32(1), tools.calls.Load())
	require.Len(t, res.ToolsUsed, 2)
	assert.Equal(t, "notify", res.ToolsUsed[0].Tool)
	assert.True(t, res.ToolsUsed[0].Success)
	assert.Equal(t, "broken", res.ToolsUsed[1].Tool)
	assert.False(t, res.ToolsUsed[1].Success)
	assert.Contains(t, res.ToolsUsed[1].Error, "condition")
	assert.Empty(t, res.Errors)
}

func TestOrchestrate_ToolFailureDoesNotFailStep(t *testing.T) {
	tools := &countingTools{fail: map[string]bool{"lookup": true}}
	rec := newRecorder()
	o, err := New(Agents{
		KindResearch: rec.agent(KindResearch, "r", nil),
		KindAnalysis: rec.agent(KindAnalysis, "a", nil),
	}, WithTools(tools))
	require.NoError(t, err)

	plan := twoStepPlan()
	plan[0].ToolCalls = []ToolCall{{Name: "lookup"}}
	res := o.Orchestrate(context.Background(), "scope-1", plan, nil)

	assert.Len(t, res.Executions, 2)
	assert.Empty(t, res.Errors)
	require.Len(t, res.ToolsUsed, 1)
	assert.False(t, res.ToolsUsed[0].Success)
	assert.Contains(t, res.ToolsUsed[0].Error, "lookup unavailable")

	folded := rec.seen[KindAnalysis].ToolResults["lookup"]
	assert.False(t, folded.Success)
}

func TestOrchestrate_ToolResultsFoldIntoLaterSteps(t *testing.T) {
	rec := newRecorder()
	o, err := New(Agents{
		KindResearch: rec.agent(KindResearch, "r", nil),
		KindAnalysis: rec.agent(KindAnalysis, "a", nil),
	}, WithTools(Tools{
		"lookup": func(context.Context, map[string]any, AgentContext) (any, error) { return "42 hits", nil },
	}))
	require.NoError(t, err)

	plan := twoStepPlan()
	plan[0].ToolCalls = []ToolCall{{Name: "lookup"}}
	o.Orchestrate(context.Background(), "scope-1", plan, nil)

	assert.Empty(t, rec.seen[KindResearch].ToolResults)
	assert.Equal(t, "42 hits", rec.seen[KindAnalysis].ToolResults["lookup"].Result)
}

func TestOrchestrate_AgentFailureSkipsItsTools(t *testing.T) {
	tools := &countingTools{}
	o, err := New(Agents{
		KindResearch: AgentFunc(func(context.Context, AgentContext) (Response, error) {
			return Response{}, errors.New("rate limited")
		}),
	}, WithTools(tools))
	require.NoError(t, err)

	res := o.Orchestrate(context.Background(), "scope-1", []PlanStep{
		{Agent: KindResearch, ToolCalls: []ToolCall{{Name: "lookup"}}},
	}, nil)

	assert.Len(t, res.Errors, 1)
	assert.Empty(t, res.ToolsUsed)
	assert.Zero(t, tools.calls.Load())
}

func TestOrchestrate_AgentPanicAndMissingAgent(t *testing.T) {
	o, err := New(Agents{
		KindResearch: AgentFunc(func(context.Context, AgentContext) (Response, error) { panic("nil pointer") }),
	})
	require.NoError(t, err)

	res := o.Orchestrate(context.Background(), "scope-1", []PlanStep{
		{Agent: KindResearch, Priority: 2},
		{Agent: KindDeploy, Priority: 1},
	}, nil)

	require.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[0].Error, "panic")
	assert.Contains(t, res.Errors[1].Error, ErrNoAgent.Error())
}

func TestOrchestrate_AgentAndToolTimeouts(t *testing.T) {
	blocking := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	o, err := New(Agents{
		KindResearch: AgentFunc(func(context.Context, AgentContext) (Response, error) {
			return Response{Action: "done"}, nil
		}),
		KindAnalysis: AgentFunc(func(ctx context.Context, _ AgentContext) (Response, error) {
			return Response{}, blocking(ctx)
		}),
	}, WithTools(Tools{
		"slow": func(ctx context.Context, _ map[string]any, _ AgentContext) (any, error) { return nil, blocking(ctx) },
	}), WithAgentTimeout(20*time.Millisecond), WithToolTimeout(20*time.Millisecond))
	require.NoError(t, err)

	plan := twoStepPlan()
	plan[0].ToolCalls = []ToolCall{{Name: "slow"}}
	res := o.Orchestrate(context.Background(), "scope-1", plan, nil)

	require.Len(t, res.ToolsUsed, 1)
	assert.False(t, res.ToolsUsed[0].Success)
	assert.Contains(t, res.ToolsUsed[0].Error, "deadline exceeded")

	require.Len(t, res.Errors, 1)
	assert.Equal(t, KindAnalysis, res.Errors[0].Agent)
	assert.Contains(t, res.Errors[0].Error, "deadline exceeded")
	assert.False(t, res.Success)
}

func TestOrchestrate_CancellationStopsBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := newRecorder()
	o, err := New(Agents{
		KindResearch: AgentFunc(func(context.Context, AgentContext) (Response, error) {
			cancel()
			return Response{Action: "done", Output: "r"}, nil
		}),
		KindAnalysis: rec.agent(KindAnalysis, "a", nil),
		KindReview:   rec.agent(KindReview, "v", nil),
	})
	require.NoError(t, err)

	res := o.Orchestrate(ctx, "scope-1", []PlanStep{
		{Agent: KindResearch, Priority: 3},
		{Agent: KindAnalysis, Priority: 2},
		{Agent: KindReview, Priority: 1},
	}, nil)

	assert.True(t, res.Cancelled)
	assert.False(t, res.Success)
	assert.Equal(t, []AgentKind{KindResearch}, executedKinds(res))
	assert.Equal(t, []AgentKind{KindAnalysis, KindReview}, skippedKinds(res))
	assert.Equal(t, ReasonCancelled, res.Skipped[0].Reason)
	assert.Empty(t, rec.order)
}

func newMemory(t *testing.T) *memory.Store {
	t.Helper()
	store, err := memory.NewStore(embeddings.NewHashProvider(64), nil, nil)
	require.NoError(t, err)
	return store
}

func TestOrchestrate_MemoryRetrievalAndWriteBack(t *testing.T) {
	ctx := context.Background()
	mem := newMemory(t)
	_, err := mem.Add(ctx, "scope-1", "payment service retries cause duplicate charges", nil)
	require.NoError(t, err)
	_, err = mem.Add(ctx, "scope-2", "payment service in another scope", nil)
	require.NoError(t, err)

	rec := newRecorder()
	o, err := New(Agents{KindResearch: rec.agent(KindResearch, "retry storm confirmed", nil)}, WithMemory(mem))
	require.NoError(t, err)

	o.Orchestrate(ctx, "scope-1", []PlanStep{{Agent: KindResearch}}, map[string]any{"goal": "payment service retries"})

	seen := rec.seen[KindResearch].Memories
	require.NotEmpty(t, seen)
	assert.Equal(t, "payment service retries cause duplicate charges", seen[0].Text)
	for _, m := range seen {
		assert.NotContains(t, m.Text, "another scope")
	}

	hits, err := mem.Search(ctx, "scope-1", "retry storm confirmed", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "[research] retry storm confirmed", hits[0].Record.Text)
	assert.Equal(t, "orchestrator", hits[0].Record.Metadata["source"])
}

func TestOrchestrate_WithoutWriteBack(t *testing.T) {
	ctx := context.Background()
	mem := newMemory(t)
	o, err := New(Agents{KindResearch: EchoAgent{Kind: KindResearch}}, WithMemory(mem), WithoutWriteBack())
	require.NoError(t, err)

	o.Orchestrate(ctx, "scope-1", []PlanStep{{Agent: KindResearch}}, map[string]any{"goal": "anything"})

	hits, err := mem.Search(ctx, "scope-1", "", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestOrchestrate_EnrichmentIsCapped(t *testing.T) {
	ctx := context.Background()
	mem := newMemory(t)
	for i := 0; i < 5; i++ {
		_, err := mem.Add(ctx, "scope-1", fmt.Sprintf("deploy note %d", i), nil)
		require.NoError(t, err)
	}

	rec := newRecorder()
	agents := Agents{}
	plan := make([]PlanStep, 0, len(AllKinds()))
	for i, k := range AllKinds() {
		agents[k] = rec.agent(k, fmt.Sprintf("%s output", k), nil)
		step := PlanStep{Agent: k, Priority: 100 - i}
		if i > 0 {
			step.Dependencies = []AgentKind{AllKinds()[i-1]}
		}
		plan = append(plan, step)
	}
	o, err := New(agents, WithMemory(mem), WithMaxEnrichment(3), WithoutWriteBack())
	require.NoError(t, err)

	res := o.Orchestrate(ctx, "scope-1", plan, map[string]any{"goal": "deploy note"})
	require.True(t, res.Success)

	assert.Len(t, rec.seen[KindResearch].Memories, 3)
	last := rec.seen[KindDeploy].Memories
	require.Len(t, last, 3)
	assert.Equal(t, "agent:review", last[2].Source)
	assert.Equal(t, "agent:coding", last[1].Source)
}

func TestOrchestrate_EvictedDependencyIsReenriched(t *testing.T) {
	rec := newRecorder()
	agents := Agents{}
	for _, k := range []AgentKind{KindResearch, KindAnalysis, KindPlanning, KindCoding, KindReview} {
		agents[k] = rec.agent(k, fmt.Sprintf("%s output", k), nil)
	}
	o, err := New(agents, WithMaxEnrichment(2))
	require.NoError(t, err)

	plan := []PlanStep{
		{Agent: KindResearch, Priority: 100},
		{Agent: KindAnalysis, Priority: 90, Dependencies: []AgentKind{KindResearch}},
		{Agent: KindPlanning, Priority: 80, Dependencies: []AgentKind{KindAnalysis}},
		{Agent: KindCoding, Priority: 70, Dependencies: []AgentKind{KindPlanning}},
		{Agent: KindReview, Priority: 60, Dependencies: []AgentKind{KindResearch}},
	}
	res := o.Orchestrate(context.Background(), "scope-1", plan, nil)
	require.True(t, res.Success)

	coding := rec.seen[KindCoding].Memories
	require.Len(t, coding, 2)
	assert.Equal(t, "agent:analysis", coding[0].Source)
	assert.Equal(t, "agent:planning", coding[1].Source)

	review := rec.seen[KindReview].Memories
	require.Len(t, review, 2)
	assert.Equal(t, "agent:planning", review[0].Source)
	assert.Equal(t, "agent:research", review[1].Source)
	assert.Equal(t, "research output", review[1].Text)
}

func TestOrchestrate_HistoryRingBuffer(t *testing.T) {
	o, err := New(EchoAgents())
	require.NoError(t, err)

	var runIDs []string
	for i := 0; i < HistoryCapacity+2; i++ {
		res := o.Orchestrate(context.Background(), "scope-1", []PlanStep{{Agent: KindResearch}}, nil)
		runIDs = append(runIDs, res.RunID)
	}
	o.Orchestrate(context.Background(), "scope-2", []PlanStep{{Agent: KindResearch}}, nil)

	hist := o.History("scope-1", KindResearch)
	require.Len(t, hist, HistoryCapacity)
	assert.Equal(t, runIDs[2], hist[0].RunID)
	assert.Equal(t, runIDs[len(runIDs)-1], hist[len(hist)-1].RunID)

	assert.Len(t, o.History("scope-2", KindResearch), 1)
	assert.Empty(t, o.History("scope-1", KindDeploy))
}

func TestOrchestrate_Progress(t *testing.T) {
	var events []Progress
	o, err := New(Agents{
		KindResearch: AgentFunc(func(context.Context, AgentContext) (Response, error) { return Response{}, errors.New("x") }),
		KindAnalysis: EchoAgent{Kind: KindAnalysis},
	}, WithProgress(func(p Progress) { events = append(events, p) }))
	require.NoError(t, err)

	o.Orchestrate(context.Background(), "scope-1", twoStepPlan(), nil)

	statuses := make([]StepStatus, 0, len(events))
	for _, e := range events {
		statuses = append(statuses, e.Status)
	}
	assert.Equal(t, []StepStatus{StepRunning, StepFailed, StepSkipped}, statuses)
	assert.Equal(t, 50, events[2].Percentage)
}

func TestNew_RejectsInvalidAgents(t *testing.T) {
	_, err := New(Agents{"janitor": EchoAgent{}})
	assert.ErrorIs(t, err, ErrUnknownAgent)

	_, err = New(Agents{KindResearch: nil})
	assert.Error(t, err)
}

func TestRun_PlansAndOrchestrates(t *testing.T) {
	o, err := New(EchoAgents())
	require.NoError(t, err)

	res, err := o.Run(context.Background(), "scope-1", "research the outage and review the report")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []AgentKind{KindResearch, KindReview}, executedKinds(res))

	_, err = o.Run(context.Background(), "scope-1", "   ")
	assert.ErrorIs(t, err, ErrEmptyGoal)
}

func TestStepRunner(t *testing.T) {
	o, err := New(Agents{
		KindReview: EchoAgent{Kind: KindReview},
		KindDeploy: AgentFunc(func(context.Context, AgentContext) (Response, error) {
			return Response{}, errors.New("freeze window")
		}),
	})
	require.NoError(t, err)
	r := NewStepRunner(o)

	out, err := r.RunAgent(context.Background(), "scope-1", "review", map[string]any{"goal": "check release"})
	require.NoError(t, err)
	resp, ok := out.(Response)
	require.True(t, ok)
	assert.Equal(t, "echo", resp.Action)
	assert.Len(t, o.History("scope-1", KindReview), 1)

	_, err = r.RunAgent(context.Background(), "scope-1", "deploy", nil)
	assert.ErrorContains(t, err, "freeze window")

	_, err = r.RunAgent(context.Background(), "scope-1", "janitor", nil)
	assert.ErrorIs(t, err, ErrUnknownAgent)
}
