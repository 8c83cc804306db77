// Package cplog provides request-scoped structured logging built on log/slog.
package cplog

import (
	"context"
	"log/slog"
	"os"
)

type ctxKey struct{}

// New builds the process-wide base logger. JSON output is the default so that
// log aggregators (and the agent audit trail) get structured records; set
// text=true for local development.
func New(text bool, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if text {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// WithContext attaches a logger to ctx, to be retrieved later with FromContext.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger attached to ctx, or slog.Default() if none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}

// WithFields returns a child context carrying a logger annotated with the given
// key/value pairs, layered on top of whatever logger ctx already carries.
func WithFields(ctx context.Context, args ...any) context.Context {
	logger := FromContext(ctx).With(args...)
	return WithContext(ctx, logger)
}
