package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ClaudeConfig configures ClaudeAgent.
type ClaudeConfig struct {
	APIKey     string
	Model      string
	MaxTokens  int64
	BaseURL    string // overrides the API endpoint
	MaxRetries int
}

// ClaudeAgent serves an agent kind with the Anthropic Messages API. The
// model is asked for a JSON object with action, reasoning, output and
// suggestions; a plain-text reply becomes the output.
type ClaudeAgent struct {
	kind      AgentKind
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewClaudeAgent creates an agent for kind.
func NewClaudeAgent(kind AgentKind, cfg ClaudeConfig) (*ClaudeAgent, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, kind)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("claude agent: api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(cfg.MaxRetries)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_5_20250929
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &ClaudeAgent{
		kind:      kind,
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// ClaudeAgents returns a ClaudeAgent for every kind.
func ClaudeAgents(cfg ClaudeConfig) (Agents, error) {
	agents := make(Agents, len(AllKinds()))
	for _, k := range AllKinds() {
		a, err := NewClaudeAgent(k, cfg)
		if err != nil {
			return nil, err
		}
		agents[k] = a
	}
	return agents, nil
}

func (a *ClaudeAgent) Process(ctx context.Context, actx AgentContext) (Response, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt(a.kind)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(actx))),
		},
	})
	if err != nil {
		return Response{}, fmt.Errorf("%s agent: %w", a.kind, err)
	}
	agentTokens.WithLabelValues(string(a.kind), "input").Add(float64(resp.Usage.InputTokens))
	agentTokens.WithLabelValues(string(a.kind), "output").Add(float64(resp.Usage.OutputTokens))

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return parseResponse(text.String()), nil
}

func systemPrompt(kind AgentKind) string {
	return fmt.Sprintf(`You are the %s agent in a multi-agent pipeline. Your role: %s.
Reply with a single JSON object: {"action": string, "reasoning": string, "output": any, "suggestions": [string]}.`, kind, kind.Role())
}

func buildPrompt(actx AgentContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n\n", actx.Goal)

	if len(actx.Input) > 0 {
		b.WriteString("Input:\n")
		for _, k := range slices.Sorted(maps.Keys(actx.Input)) {
			fmt.Fprintf(&b, "- %s: %s\n", k, render(actx.Input[k]))
		}
		b.WriteString("\n")
	}
	if len(actx.Memories) > 0 {
		b.WriteString("Context:\n")
		for i, m := range actx.Memories {
			fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, m.Source, m.Text)
		}
		b.WriteString("\n")
	}
	if len(actx.ToolResults) > 0 {
		b.WriteString("Tool results:\n")
		for _, name := range slices.Sorted(maps.Keys(actx.ToolResults)) {
			tr := actx.ToolResults[name]
			if tr.Success {
				fmt.Fprintf(&b, "- %s: %s\n", name, render(tr.Result))
			} else {
				fmt.Fprintf(&b, "- %s failed: %s\n", name, tr.Error)
			}
		}
	}
	return b.String()
}

// parseResponse reads the JSON reply, tolerating surrounding prose or a
// fenced code block.
func parseResponse(text string) Response {
	trimmed := strings.TrimSpace(text)
	if start, end := strings.Index(trimmed, "{"), strings.LastIndex(trimmed, "}"); start >= 0 && end > start {
		var r Response
		if err := json.Unmarshal([]byte(trimmed[start:end+1]), &r); err == nil && r.Action != "" {
			return r
		}
	}
	return Response{Action: "respond", Output: trimmed}
}
