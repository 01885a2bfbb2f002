package logger

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// With returns a context carrying fields for every logger derived from it.
// Fields accumulate across calls.
func With(ctx context.Context, fields ...any) context.Context {
	prev, _ := ctx.Value(ctxKey{}).([]any)
	merged := make([]any, 0, len(prev)+len(fields))
	merged = append(merged, prev...)
	merged = append(merged, fields...)
	return context.WithValue(ctx, ctxKey{}, merged)
}

// From returns the process logger with the context's fields.
func From(ctx context.Context) *slog.Logger {
	return Scoped(ctx, LoggerWrapper())
}

// Scoped applies the context's fields to an injected logger, so request
// fields such as the trace id reach components built with their own logger.
func Scoped(ctx context.Context, base *slog.Logger) *slog.Logger {
	fields, _ := ctx.Value(ctxKey{}).([]any)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}
