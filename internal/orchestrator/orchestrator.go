package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/conductor/internal/expr"
	"github.com/fyrsmithlabs/conductor/internal/logging"
)

var tracer = otel.Tracer("conductor.orchestrator")

var timeNow = time.Now

const (
	// DefaultMaxEnrichment caps the memory entries carried in a run's context.
	DefaultMaxEnrichment = 20
	// DefaultMemoryTopK is how many memory hits seed a run's context.
	DefaultMemoryTopK = 5
)

// StepStatus is reported through the progress callback.
type StepStatus string

const (
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Progress reports one step transition during a run.
type Progress struct {
	RunID      string     `json:"run_id"`
	Agent      AgentKind  `json:"agent"`
	Status     StepStatus `json:"status"`
	Message    string     `json:"message,omitempty"`
	Percentage int        `json:"percentage"`
}

// ProgressCallback receives progress updates during a run.
type ProgressCallback func(Progress)

// Orchestrator plans and runs agent steps.
type Orchestrator struct {
	agents        Agents
	tools         ToolExecutor
	memory        Memory
	planner       Planner
	history       *History
	logger        *logging.Logger
	maxEnrichment int
	memoryTopK    int
	parallelTools int
	agentTimeout  time.Duration
	toolTimeout   time.Duration
	writeBack     bool
	progress      ProgressCallback
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = logging.New(l)
		}
	}
}

// WithTools sets the tool executor used for plan tool calls.
func WithTools(t ToolExecutor) Option {
	return func(o *Orchestrator) { o.tools = t }
}

// WithMemory enables memory retrieval and write-back.
func WithMemory(m Memory) Option {
	return func(o *Orchestrator) { o.memory = m }
}

// WithPlanner replaces the keyword planner.
func WithPlanner(p Planner) Option {
	return func(o *Orchestrator) { o.planner = p }
}

// WithHistory shares a history buffer between orchestrators.
func WithHistory(h *History) Option {
	return func(o *Orchestrator) { o.history = h }
}

// WithMaxEnrichment sets the enrichment cap.
func WithMaxEnrichment(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxEnrichment = n
		}
	}
}

// WithMemoryTopK sets how many memory hits seed a run. Zero disables
// retrieval.
func WithMemoryTopK(k int) Option {
	return func(o *Orchestrator) { o.memoryTopK = k }
}

// WithParallelTools runs up to n tool calls of a step concurrently. n <= 1
// keeps them sequential.
func WithParallelTools(n int) Option {
	return func(o *Orchestrator) { o.parallelTools = n }
}

// WithAgentTimeout bounds each agent call. Zero means no bound.
func WithAgentTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.agentTimeout = d }
}

// WithToolTimeout bounds each tool invocation. Zero means no bound.
func WithToolTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.toolTimeout = d }
}

// WithoutWriteBack stops agent outputs from being stored as memories.
func WithoutWriteBack() Option {
	return func(o *Orchestrator) { o.writeBack = false }
}

// WithProgress sets the progress callback.
func WithProgress(cb ProgressCallback) Option {
	return func(o *Orchestrator) { o.progress = cb }
}

// New creates an orchestrator serving agents.
func New(agents Agents, opts ...Option) (*Orchestrator, error) {
	if err := agents.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		agents:        agents,
		planner:       NewKeywordPlanner(),
		logger:        logging.New(zap.NewNop()),
		maxEnrichment: DefaultMaxEnrichment,
		memoryTopK:    DefaultMemoryTopK,
		writeBack:     true,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.history == nil {
		o.history = NewHistory(HistoryCapacity)
	}
	return o, nil
}

// CreatePlan asks the planner for the steps serving goal.
func (o *Orchestrator) CreatePlan(ctx context.Context, scopeID, goal string) ([]PlanStep, error) {
	steps, err := o.planner.Plan(ctx, scopeID, goal)
	if err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}
	for _, s := range steps {
		if !s.Agent.Valid() {
			return nil, fmt.Errorf("create plan: %w: %q", ErrUnknownAgent, s.Agent)
		}
	}
	return steps, nil
}

// Run plans goal and orchestrates the plan with {"goal": goal} as input.
func (o *Orchestrator) Run(ctx context.Context, scopeID, goal string) (*Result, error) {
	plan, err := o.CreatePlan(ctx, scopeID, goal)
	if err != nil {
		return nil, err
	}
	return o.Orchestrate(ctx, scopeID, plan, map[string]any{"goal": goal}), nil
}

// History returns the recent executions of kind in scope, oldest first.
func (o *Orchestrator) History(scopeID string, kind AgentKind) []Execution {
	return o.history.Get(scopeID, kind)
}

// runState is the mutable state of one Orchestrate call.
type runState struct {
	actx      AgentContext
	cache     *toolCache
	completed map[AgentKind]bool
	failed    map[AgentKind]bool
	skipped   map[AgentKind]bool
}

// Orchestrate runs plan for scopeID. input["goal"], when a string, is used
// for memory retrieval. Steps run sequentially by descending priority; a
// cancelled ctx stops the run before the next step and the remaining steps
// are reported as skipped.
func (o *Orchestrator) Orchestrate(ctx context.Context, scopeID string, plan []PlanStep, input map[string]any) *Result {
	start := timeNow()
	runID := uuid.NewString()
	ctx = logging.WithRunID(logging.WithScope(ctx, scopeID), runID)
	ctx, span := tracer.Start(ctx, "orchestrator.Orchestrate")
	defer span.End()
	span.SetAttributes(attribute.String("scope_id", scopeID), attribute.Int("plan.steps", len(plan)))

	res := &Result{
		RunID:      runID,
		ScopeID:    scopeID,
		Executions: []Execution{},
		ToolsUsed:  []ToolResult{},
		Errors:     []StepError{},
		Skipped:    []Skip{},
	}

	steps := append([]PlanStep(nil), plan...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Priority > steps[j].Priority })

	goal, _ := input["goal"].(string)
	st := &runState{
		actx: AgentContext{
			RunID:       runID,
			ScopeID:     scopeID,
			Goal:        goal,
			Input:       input,
			Outputs:     make(map[AgentKind]any),
			ToolResults: make(map[string]ToolResult),
		},
		cache:     newToolCache(),
		completed: make(map[AgentKind]bool),
		failed:    make(map[AgentKind]bool),
		skipped:   make(map[AgentKind]bool),
	}
	st.actx.Memories = o.retrieve(ctx, scopeID, goal)

	for i, step := range steps {
		pct := i * 100 / len(steps)
		if ctx.Err() != nil {
			res.Cancelled = true
			for _, rest := range steps[i:] {
				res.Skipped = append(res.Skipped, Skip{Agent: rest.Agent, Reason: ReasonCancelled})
				stepsTotal.WithLabelValues(string(rest.Agent), "skipped").Inc()
			}
			o.logger.Warn(ctx, "orchestration cancelled", zap.Int("remaining_steps", len(steps)-i))
			break
		}

		if skip, ok := st.unmet(step); ok {
			st.skipped[step.Agent] = true
			res.Skipped = append(res.Skipped, skip)
			stepsTotal.WithLabelValues(string(step.Agent), "skipped").Inc()
			o.report(Progress{RunID: runID, Agent: step.Agent, Status: StepSkipped, Message: skip.Reason, Percentage: pct})
			o.logger.Info(ctx, "step skipped",
				zap.String("agent", string(step.Agent)),
				zap.String("reason", skip.Reason),
			)
			continue
		}

		for _, dep := range step.Dependencies {
			source := "agent:" + string(dep)
			if hasSource(st.actx.Memories, source) {
				continue
			}
			st.actx.Memories = appendCapped(st.actx.Memories, MemoryEntry{
				Source: source,
				Text:   render(st.actx.Outputs[dep]),
			}, o.maxEnrichment)
		}

		o.report(Progress{RunID: runID, Agent: step.Agent, Status: StepRunning, Percentage: pct})
		exec, err := o.runStep(ctx, step, st)
		if err != nil {
			st.failed[step.Agent] = true
			res.Errors = append(res.Errors, StepError{Agent: step.Agent, Error: err.Error()})
			stepsTotal.WithLabelValues(string(step.Agent), "failed").Inc()
			o.report(Progress{RunID: runID, Agent: step.Agent, Status: StepFailed, Message: err.Error(), Percentage: pct})
			o.logger.Warn(ctx, "agent step failed", zap.String("agent", string(step.Agent)), zap.Error(err))
			continue
		}

		st.completed[step.Agent] = true
		st.actx.Outputs[step.Agent] = exec.Response.Output
		for _, tr := range exec.ToolsUsed {
			st.actx.ToolResults[tr.Tool] = tr
		}
		res.Executions = append(res.Executions, exec)
		res.ToolsUsed = append(res.ToolsUsed, exec.ToolsUsed...)
		o.history.Append(exec)
		o.store(ctx, exec)
		stepsTotal.WithLabelValues(string(step.Agent), "executed").Inc()
		o.report(Progress{RunID: runID, Agent: step.Agent, Status: StepCompleted, Message: exec.Response.Action, Percentage: pct})
	}

	res.Duration = timeNow().Sub(start)
	res.Success = len(res.Errors) == 0 && len(res.Skipped) == 0 && !res.Cancelled
	runDuration.Observe(res.Duration.Seconds())

	span.SetAttributes(
		attribute.Int("result.executions", len(res.Executions)),
		attribute.Int("result.errors", len(res.Errors)),
		attribute.Int("result.skipped", len(res.Skipped)),
	)
	if !res.Success {
		span.SetStatus(codes.Error, "orchestration incomplete")
	}
	o.logger.Info(ctx, "orchestration finished",
		zap.Int("executions", len(res.Executions)),
		zap.Int("errors", len(res.Errors)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Duration("duration", res.Duration),
	)
	return res
}

// unmet returns the skip record for step when a dependency has no
// execution in this run.
func (st *runState) unmet(step PlanStep) (Skip, bool) {
	var missing []AgentKind
	reason := ReasonDependencyNotRun
	for _, dep := range step.Dependencies {
		if st.completed[dep] {
			continue
		}
		missing = append(missing, dep)
		switch {
		case st.failed[dep]:
			reason = ReasonDependencyFailed
		case st.skipped[dep] && reason != ReasonDependencyFailed:
			reason = ReasonDependencySkipped
		}
	}
	if len(missing) == 0 {
		return Skip{}, false
	}
	return Skip{Agent: step.Agent, Reason: reason, Missing: missing}, true
}

func (o *Orchestrator) runStep(ctx context.Context, step PlanStep, st *runState) (Execution, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.step")
	defer span.End()
	span.SetAttributes(attribute.String("agent", string(step.Agent)))

	agent, ok := o.agents[step.Agent]
	if !ok {
		err := fmt.Errorf("%w for %s", ErrNoAgent, step.Agent)
		span.SetStatus(codes.Error, err.Error())
		return Execution{}, err
	}

	snapshot := st.actx.clone()
	snapshot.Agent = step.Agent
	started := timeNow()

	resp, err := o.callAgent(ctx, agent, snapshot)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "agent failed")
		return Execution{}, err
	}

	exec := Execution{
		Agent:     step.Agent,
		ScopeID:   snapshot.ScopeID,
		RunID:     snapshot.RunID,
		Context:   snapshot,
		Response:  resp,
		Timestamp: started.UTC(),
	}
	exec.ToolsUsed = o.runTools(ctx, step.ToolCalls, exec, st.cache)
	exec.Duration = timeNow().Sub(started)
	return exec, nil
}

func (o *Orchestrator) callAgent(ctx context.Context, agent Agent, actx AgentContext) (resp Response, err error) {
	if o.agentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.agentTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent panic: %v", r)
		}
	}()
	return agent.Process(ctx, actx)
}

// runTools makes the step's tool calls. Results keep plan order; calls
// whose condition is false are left out.
func (o *Orchestrator) runTools(ctx context.Context, calls []ToolCall, exec Execution, cache *toolCache) []ToolResult {
	if len(calls) == 0 {
		return nil
	}
	env := conditionEnv(exec)
	results := make([]*ToolResult, len(calls))

	if o.parallelTools > 1 && len(calls) > 1 {
		var g errgroup.Group
		g.SetLimit(o.parallelTools)
		for i, call := range calls {
			g.Go(func() error {
				results[i] = o.runTool(ctx, call, env, exec.Context, cache)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, call := range calls {
			results[i] = o.runTool(ctx, call, env, exec.Context, cache)
		}
	}

	out := make([]ToolResult, 0, len(calls))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func (o *Orchestrator) runTool(ctx context.Context, call ToolCall, env map[string]any, actx AgentContext, cache *toolCache) *ToolResult {
	if call.Condition != "" {
		ok, err := expr.Evaluate(call.Condition, env)
		if err != nil {
			toolCallsTotal.WithLabelValues(call.Name, "failed").Inc()
			return &ToolResult{Tool: call.Name, Params: call.Params, Error: "condition: " + err.Error()}
		}
		if !ok {
			toolCallsTotal.WithLabelValues(call.Name, "condition_false").Inc()
			return nil
		}
	}

	res, cached := cache.do(cacheKey(call.Name, call.Params), func() ToolResult {
		return o.invokeTool(ctx, call, actx)
	})
	res.Cached = cached
	switch {
	case cached:
		toolCallsTotal.WithLabelValues(call.Name, "cached").Inc()
	case res.Success:
		toolCallsTotal.WithLabelValues(call.Name, "invoked").Inc()
	default:
		toolCallsTotal.WithLabelValues(call.Name, "failed").Inc()
		o.logger.Warn(ctx, "tool call failed", zap.String("tool", call.Name), zap.String("error", res.Error))
	}
	return &res
}

func (o *Orchestrator) invokeTool(ctx context.Context, call ToolCall, actx AgentContext) (res ToolResult) {
	res = ToolResult{Tool: call.Name, Params: call.Params}
	defer func() {
		if r := recover(); r != nil {
			res.Success, res.Result, res.Error = false, nil, fmt.Sprintf("tool panic: %v", r)
		}
	}()
	if o.tools == nil {
		res.Error = fmt.Sprintf("%v: %s", ErrUnknownTool, call.Name)
		return res
	}
	if o.toolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.toolTimeout)
		defer cancel()
	}
	v, err := o.tools.Execute(ctx, call.Name, call.Params, actx)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success, res.Result = true, v
	return res
}

// conditionEnv is the variable environment for tool call conditions:
//
//	agent, goal, scope_id
//	response.action|reasoning|output|suggestions
//	input.<key>, outputs.<agent>, tools.<name>.success|result|error
func conditionEnv(exec Execution) map[string]any {
	tools := make(map[string]any, len(exec.Context.ToolResults))
	for name, tr := range exec.Context.ToolResults {
		tools[name] = map[string]any{"success": tr.Success, "result": tr.Result, "error": tr.Error}
	}
	outputs := make(map[string]any, len(exec.Context.Outputs))
	for k, v := range exec.Context.Outputs {
		outputs[string(k)] = v
	}
	env := map[string]any{
		"agent":    string(exec.Agent),
		"goal":     exec.Context.Goal,
		"scope_id": exec.ScopeID,
		"response": exec.Response,
		"input":    exec.Context.Input,
		"outputs":  outputs,
		"tools":    tools,
	}
	return normalize(env)
}

// normalize round-trips v through JSON so struct fields are addressable by
// their JSON names and numbers are float64.
func normalize(v map[string]any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func (o *Orchestrator) retrieve(ctx context.Context, scopeID, goal string) []MemoryEntry {
	if o.memory == nil || goal == "" || o.memoryTopK <= 0 {
		return nil
	}
	hits, err := o.memory.Search(ctx, scopeID, goal, o.memoryTopK)
	if err != nil {
		o.logger.Warn(ctx, "memory retrieval failed", zap.Error(err))
		return nil
	}
	var entries []MemoryEntry
	for _, h := range hits {
		entries = appendCapped(entries, MemoryEntry{Source: "memory:" + h.Record.ID, Text: h.Record.Text, Score: h.Score}, o.maxEnrichment)
	}
	return entries
}

// store writes the agent output back to memory so later runs can find it.
func (o *Orchestrator) store(ctx context.Context, exec Execution) {
	if o.memory == nil || !o.writeBack || exec.Response.Output == nil {
		return
	}
	text := fmt.Sprintf("[%s] %s", exec.Agent, render(exec.Response.Output))
	_, err := o.memory.AddUnique(ctx, exec.ScopeID, text, map[string]string{
		"source": "orchestrator",
		"agent":  string(exec.Agent),
		"run_id": exec.RunID,
	})
	if err != nil {
		o.logger.Warn(ctx, "storing agent output failed", zap.String("agent", string(exec.Agent)), zap.Error(err))
	}
}

func (o *Orchestrator) report(p Progress) {
	if o.progress != nil {
		o.progress(p)
	}
}

// appendCapped appends e and drops the oldest entries beyond limit.
// hasSource reports whether list still holds an entry from source. An entry
// evicted by the cap is gone, so a later dependent re-adds it.
func hasSource(list []MemoryEntry, source string) bool {
	for _, e := range list {
		if e.Source == source {
			return true
		}
	}
	return false
}

func appendCapped(list []MemoryEntry, e MemoryEntry, limit int) []MemoryEntry {
	list = append(list, e)
	if limit > 0 && len(list) > limit {
		list = append([]MemoryEntry(nil), list[len(list)-limit:]...)
	}
	return list
}

func render(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
