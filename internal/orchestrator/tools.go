package orchestrator

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/conductor/internal/memory"
)

// ToolFunc implements one tool.
type ToolFunc func(ctx context.Context, params map[string]any, actx AgentContext) (any, error)

// Tools is a ToolExecutor backed by a name → function table.
type Tools map[string]ToolFunc

func (t Tools) Execute(ctx context.Context, name string, params map[string]any, actx AgentContext) (any, error) {
	fn, ok := t[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return fn(ctx, params, actx)
}

// MemoryTools exposes the memory store to plans:
//
//	memory_search  params: query (string), top_k (number, default 5)
//	memory_record  params: text (string)
//
// Both act on the run's scope.
func MemoryTools(mem Memory) Tools {
	return Tools{
		"memory_search": func(ctx context.Context, params map[string]any, actx AgentContext) (any, error) {
			query, _ := params["query"].(string)
			if query == "" {
				query = actx.Goal
			}
			topK := 5
			if v, ok := params["top_k"].(float64); ok && v > 0 {
				topK = int(v)
			} else if v, ok := params["top_k"].(int); ok && v > 0 {
				topK = v
			}
			hits, err := mem.Search(ctx, actx.ScopeID, query, topK)
			if err != nil {
				return nil, err
			}
			out := make([]map[string]any, 0, len(hits))
			for _, h := range hits {
				out = append(out, map[string]any{"id": h.Record.ID, "text": h.Record.Text, "score": h.Score})
			}
			return out, nil
		},
		"memory_record": func(ctx context.Context, params map[string]any, actx AgentContext) (any, error) {
			text, _ := params["text"].(string)
			if text == "" {
				return nil, fmt.Errorf("memory_record: text is required")
			}
			rec, err := mem.AddUnique(ctx, actx.ScopeID, text, map[string]string{
				"source": "tool",
				"agent":  string(actx.Agent),
				"run_id": actx.RunID,
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{"id": rec.ID}, nil
		},
	}
}

// Merge returns a table with the tools of every argument; later tables win
// on name clashes.
func Merge(tables ...Tools) Tools {
	out := make(Tools)
	for _, t := range tables {
		for name, fn := range t {
			out[name] = fn
		}
	}
	return out
}

// Memory is the part of the memory store the orchestrator uses.
type Memory interface {
	Search(ctx context.Context, scopeID, query string, topK int) ([]memory.Hit, error)
	AddUnique(ctx context.Context, scopeID, text string, metadata map[string]string) (memory.Record, error)
}
