// internal/logging/context.go
package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if run, ok := RunFromContext(ctx); ok {
		fields = append(fields,
			zap.String("run.id", run.ID),
			zap.Int("issue.number", run.Issue),
		)
	}

	if agentID := AgentFromContext(ctx); agentID != "" {
		fields = append(fields, zap.String("agent.id", agentID))
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}

type runCtxKey struct{}
type agentCtxKey struct{}
type requestCtxKey struct{}
type loggerCtxKey struct{}

// Run identifies the orchestration run a log line belongs to.
type Run struct {
	ID    string
	Issue int
}

// WithRun tags ctx with the run id and issue number.
func WithRun(ctx context.Context, runID string, issue int) context.Context {
	return context.WithValue(ctx, runCtxKey{}, Run{ID: runID, Issue: issue})
}

// RunFromContext returns the run set by WithRun.
func RunFromContext(ctx context.Context) (Run, bool) {
	r, ok := ctx.Value(runCtxKey{}).(Run)
	return r, ok
}

// WithAgent tags ctx with the agent currently acting.
func WithAgent(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentCtxKey{}, agentID)
}

// AgentFromContext returns the agent id set by WithAgent.
func AgentFromContext(ctx context.Context) string {
	s, _ := ctx.Value(agentCtxKey{}).(string)
	return s
}

// WithRequestID tags ctx with an HTTP request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext returns the id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(requestCtxKey{}).(string)
	return s
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}
