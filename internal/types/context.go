package types

import "context"

type contextKey string

const traceIDKey contextKey = "trace_id"

// WithTraceID stores the trace ID in the context. The scheduler seeds it per
// sweep; workers restore it from the job message so one refresh cycle is
// correlatable across Lambdas and outbound API calls.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// GetTraceID retrieves the trace ID from the context, or "" if unset.
func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}
