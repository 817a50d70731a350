package orchestrator

import (
	"context"
	"fmt"
	"strings"
)

// EchoAgent answers without calling out, summarizing what it was given.
// It is used by the CLI when no model is configured.
type EchoAgent struct {
	Kind AgentKind
}

func (a EchoAgent) Process(_ context.Context, actx AgentContext) (Response, error) {
	var deps []string
	for _, m := range actx.Memories {
		if strings.HasPrefix(m.Source, "agent:") {
			deps = append(deps, strings.TrimPrefix(m.Source, "agent:"))
		}
	}
	output := fmt.Sprintf("%s for %q", a.Kind, actx.Goal)
	if len(deps) > 0 {
		output += " using " + strings.Join(deps, ", ")
	}
	return Response{
		Action:    "echo",
		Reasoning: fmt.Sprintf("%d context entries, %d tool results", len(actx.Memories), len(actx.ToolResults)),
		Output:    output,
	}, nil
}

// EchoAgents returns an EchoAgent for every kind.
func EchoAgents() Agents {
	agents := make(Agents, len(AllKinds()))
	for _, k := range AllKinds() {
		agents[k] = EchoAgent{Kind: k}
	}
	return agents
}
