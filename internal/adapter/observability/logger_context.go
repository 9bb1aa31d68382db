package observability

import (
	"context"
	"log/slog"
)

type loggerCtxKey struct{}
type requestIDCtxKey struct{}
type taskIDCtxKey struct{}

// ContextWithLogger returns a context carrying the given logger for
// downstream handlers to pick up with LoggerFromContext.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// LoggerFromContext extracts the request/task-scoped logger, or the default
// logger if none was attached.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if v, ok := ctx.Value(loggerCtxKey{}).(*slog.Logger); ok {
		return v
	}
	return slog.Default()
}

// ContextWithRequestID attaches the admin-surface request id to ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDCtxKey{}, id)
}

// RequestIDFromContext returns the request id attached to ctx, if any.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDCtxKey{}).(string)
	return id
}

// ContextWithTaskID attaches the task id currently being processed to ctx so
// every log line and span emitted while handling it carries it.
func ContextWithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDCtxKey{}, taskID)
}

// TaskIDFromContext returns the task id attached to ctx, if any.
func TaskIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(taskIDCtxKey{}).(string)
	return id
}
