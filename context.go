package docflow

import (
	"context"
	"log/slog"
)

type contextKey string

const loggerContextKey contextKey = "logger"

// WithLogger stores a logger in the context for agents to use.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}

// LoggerFromContext returns the logger stored in the context, or a discard
// logger so agents never need a nil check.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerContextKey).(*slog.Logger); ok {
		return logger
	}
	return slog.New(slog.DiscardHandler)
}
