package orchestrator

import (
	"context"
	"strings"
)

// Planner turns a goal into plan steps.
type Planner interface {
	Plan(ctx context.Context, scopeID, goal string) ([]PlanStep, error)
}

// PlannerFunc adapts a function to Planner.
type PlannerFunc func(ctx context.Context, scopeID, goal string) ([]PlanStep, error)

func (f PlannerFunc) Plan(ctx context.Context, scopeID, goal string) ([]PlanStep, error) {
	return f(ctx, scopeID, goal)
}

// DefaultKeywords maps each kind to the goal words that select it.
var DefaultKeywords = map[AgentKind][]string{
	KindResearch: {"research", "investigate", "explore", "find", "discover", "learn"},
	KindAnalysis: {"analyze", "analyse", "analysis", "assess", "evaluate", "audit", "compare"},
	KindPlanning: {"plan", "design", "architect", "roadmap", "outline"},
	KindCoding:   {"implement", "build", "code", "write", "fix", "refactor", "develop"},
	KindReview:   {"review", "test", "verify", "check", "validate"},
	KindDeploy:   {"deploy", "release", "ship", "launch", "publish"},
}

// KeywordPlanner picks agent kinds by matching goal words against
// Keywords. Selected kinds are chained in pipeline order: each depends on
// the previous selected kind and gets a lower priority. A goal that
// matches nothing gets research followed by analysis.
type KeywordPlanner struct {
	Keywords map[AgentKind][]string
	// Tools are attached to the step of the matching kind.
	Tools map[AgentKind][]ToolCall
}

// NewKeywordPlanner creates a planner using DefaultKeywords.
func NewKeywordPlanner() *KeywordPlanner {
	return &KeywordPlanner{Keywords: DefaultKeywords}
}

func (p *KeywordPlanner) Plan(_ context.Context, _ string, goal string) ([]PlanStep, error) {
	words := tokenize(goal)
	if len(words) == 0 {
		return nil, ErrEmptyGoal
	}

	keywords := p.Keywords
	if keywords == nil {
		keywords = DefaultKeywords
	}

	var selected []AgentKind
	for _, kind := range AllKinds() {
		if matches(words, keywords[kind]) {
			selected = append(selected, kind)
		}
	}
	if len(selected) == 0 {
		selected = []AgentKind{KindResearch, KindAnalysis}
	}

	steps := make([]PlanStep, 0, len(selected))
	for i, kind := range selected {
		step := PlanStep{
			Agent:    kind,
			Priority: (len(AllKinds()) - kindIndex(kind)) * 10,
		}
		if i > 0 {
			step.Dependencies = []AgentKind{selected[i-1]}
		}
		if calls := p.Tools[kind]; len(calls) > 0 {
			step.ToolCalls = append([]ToolCall(nil), calls...)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func kindIndex(k AgentKind) int {
	for i, kind := range AllKinds() {
		if kind == k {
			return i
		}
	}
	return len(AllKinds())
}

// matches reports whether any word starts with one of the keywords, so
// "reviewing" selects review.
func matches(words []string, keywords []string) bool {
	for _, w := range words {
		for _, kw := range keywords {
			if strings.HasPrefix(w, kw) {
				return true
			}
		}
	}
	return false
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}
