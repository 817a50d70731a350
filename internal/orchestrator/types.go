package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// AgentKind is the closed set of agents a plan can name.
type AgentKind string

const (
	KindResearch AgentKind = "research"
	KindAnalysis AgentKind = "analysis"
	KindPlanning AgentKind = "planning"
	KindCoding   AgentKind = "coding"
	KindReview   AgentKind = "review"
	KindDeploy   AgentKind = "deploy"
)

// AllKinds returns every agent kind in pipeline order.
func AllKinds() []AgentKind {
	return []AgentKind{KindResearch, KindAnalysis, KindPlanning, KindCoding, KindReview, KindDeploy}
}

// Valid reports whether k is one of the known kinds.
func (k AgentKind) Valid() bool {
	switch k {
	case KindResearch, KindAnalysis, KindPlanning, KindCoding, KindReview, KindDeploy:
		return true
	}
	return false
}

// Role describes what an agent of kind k is expected to do.
func (k AgentKind) Role() string {
	switch k {
	case KindResearch:
		return "gather facts, prior work and constraints relevant to the goal"
	case KindAnalysis:
		return "analyze the gathered material and identify options and risks"
	case KindPlanning:
		return "turn the analysis into an ordered plan of concrete work"
	case KindCoding:
		return "produce the implementation described by the plan"
	case KindReview:
		return "review the produced work for defects and gaps"
	case KindDeploy:
		return "prepare the reviewed work for release"
	}
	return "unknown"
}

// ParseKind converts s to an AgentKind.
func ParseKind(s string) (AgentKind, error) {
	k := AgentKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAgent, s)
	}
	return k, nil
}

var (
	// ErrUnknownAgent is returned for names outside the AgentKind set.
	ErrUnknownAgent = errors.New("unknown agent kind")
	// ErrNoAgent is recorded when a plan names a kind with no registered agent.
	ErrNoAgent = errors.New("no agent registered")
	// ErrEmptyGoal is returned by planners for blank goals.
	ErrEmptyGoal = errors.New("goal is empty")
	// ErrUnknownTool is returned by Tools for unregistered names.
	ErrUnknownTool = errors.New("unknown tool")
)

// ToolCall is a tool invocation attached to a plan step. Condition, when
// set, is evaluated after the agent responds and the call is skipped if it
// is false.
type ToolCall struct {
	Name      string         `json:"name" yaml:"name"`
	Params    map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Condition string         `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// PlanStep is one agent invocation in a plan.
type PlanStep struct {
	Agent        AgentKind   `json:"agent" yaml:"agent"`
	Dependencies []AgentKind `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	ToolCalls    []ToolCall  `json:"tool_calls,omitempty" yaml:"tool_calls,omitempty"`
	Priority     int         `json:"priority" yaml:"priority"`
}

// MemoryEntry is one item of enrichment context.
type MemoryEntry struct {
	Source string  `json:"source"`
	Text   string  `json:"text"`
	Score  float64 `json:"score,omitempty"`
}

// AgentContext is what an agent sees when it is invoked.
type AgentContext struct {
	RunID       string                `json:"run_id"`
	ScopeID     string                `json:"scope_id"`
	Goal        string                `json:"goal,omitempty"`
	Agent       AgentKind             `json:"agent"`
	Input       map[string]any        `json:"input,omitempty"`
	Memories    []MemoryEntry         `json:"memories,omitempty"`
	Outputs     map[AgentKind]any     `json:"outputs,omitempty"`
	ToolResults map[string]ToolResult `json:"tool_results,omitempty"`
}

func (c AgentContext) clone() AgentContext {
	out := c
	out.Input = make(map[string]any, len(c.Input))
	for k, v := range c.Input {
		out.Input[k] = v
	}
	out.Memories = append([]MemoryEntry(nil), c.Memories...)
	out.Outputs = make(map[AgentKind]any, len(c.Outputs))
	for k, v := range c.Outputs {
		out.Outputs[k] = v
	}
	out.ToolResults = make(map[string]ToolResult, len(c.ToolResults))
	for k, v := range c.ToolResults {
		out.ToolResults[k] = v
	}
	return out
}

// Response is an agent's answer.
type Response struct {
	Action      string   `json:"action"`
	Reasoning   string   `json:"reasoning,omitempty"`
	Output      any      `json:"output,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Agent serves one AgentKind.
type Agent interface {
	Process(ctx context.Context, actx AgentContext) (Response, error)
}

// AgentFunc adapts a function to Agent.
type AgentFunc func(ctx context.Context, actx AgentContext) (Response, error)

func (f AgentFunc) Process(ctx context.Context, actx AgentContext) (Response, error) {
	return f(ctx, actx)
}

// ToolExecutor runs named tools.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, params map[string]any, actx AgentContext) (any, error)
}

// ToolResult records one tool call made (or reused) by a step.
type ToolResult struct {
	Tool    string         `json:"tool"`
	Params  map[string]any `json:"params,omitempty"`
	Success bool           `json:"success"`
	Result  any            `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
	Cached  bool           `json:"cached,omitempty"`
}

// Execution is the record of one agent step that ran.
type Execution struct {
	Agent     AgentKind     `json:"agent"`
	ScopeID   string        `json:"scope_id"`
	RunID     string        `json:"run_id"`
	Context   AgentContext  `json:"context"`
	Response  Response      `json:"response"`
	ToolsUsed []ToolResult  `json:"tools_used,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// StepError is an agent failure.
type StepError struct {
	Agent AgentKind `json:"agent"`
	Error string    `json:"error"`
}

// Skip explains why a step did not run.
type Skip struct {
	Agent   AgentKind   `json:"agent"`
	Reason  string      `json:"reason"`
	Missing []AgentKind `json:"missing,omitempty"`
}

// Skip reasons.
const (
	ReasonDependencyFailed  = "dependency failed"
	ReasonDependencySkipped = "dependency skipped"
	ReasonDependencyNotRun  = "dependency has not run"
	ReasonCancelled         = "cancelled"
)

// Result is the outcome of one Orchestrate call.
type Result struct {
	RunID      string        `json:"run_id"`
	ScopeID    string        `json:"scope_id"`
	Executions []Execution   `json:"executions"`
	ToolsUsed  []ToolResult  `json:"tools_used"`
	Errors     []StepError   `json:"errors"`
	Skipped    []Skip        `json:"skipped"`
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
	Cancelled  bool          `json:"cancelled,omitempty"`
}

// Agents maps each kind to the agent that serves it.
type Agents map[AgentKind]Agent

// Validate rejects unknown kinds and nil agents.
func (a Agents) Validate() error {
	for k, agent := range a {
		if !k.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownAgent, k)
		}
		if agent == nil {
			return fmt.Errorf("agent for %s is nil", k)
		}
	}
	return nil
}
