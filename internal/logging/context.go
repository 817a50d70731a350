package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	scopeCtxKey    struct{}
	runCtxKey      struct{}
	workflowCtxKey struct{}
	taskCtxKey     struct{}
)

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if v := ScopeFromContext(ctx); v != "" {
		fields = append(fields, zap.String("scope_id", v))
	}
	if v, ok := ctx.Value(runCtxKey{}).(string); ok {
		fields = append(fields, zap.String("run_id", v))
	}
	if v, ok := ctx.Value(workflowCtxKey{}).(string); ok {
		fields = append(fields, zap.String("workflow_id", v))
	}
	if v, ok := ctx.Value(taskCtxKey{}).(string); ok {
		fields = append(fields, zap.String("task_id", v))
	}
	return fields
}

// WithScope tags ctx with the scope (project or organization) id.
func WithScope(ctx context.Context, scopeID string) context.Context {
	if scopeID == "" {
		return ctx
	}
	return context.WithValue(ctx, scopeCtxKey{}, scopeID)
}

// ScopeFromContext returns the scope id or "".
func ScopeFromContext(ctx context.Context) string {
	v, _ := ctx.Value(scopeCtxKey{}).(string)
	return v
}

// WithRunID tags ctx with an orchestration run id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, runID)
}

// WithWorkflowID tags ctx with a workflow execution id.
func WithWorkflowID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workflowCtxKey{}, id)
}

// WithTaskID tags ctx with a queue task id.
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskCtxKey{}, id)
}
