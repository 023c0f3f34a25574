// Package observability wires logging, metrics and tracing for sidekick.
package observability

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// InitLogging configures the process-wide slog default handler.
func InitLogging(level, format string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

type contextKey string

const (
	runIDKey      contextKey = "run_id"
	sessionKeyKey contextKey = "session_key"
)

// WithRunID tags the context with a task run ID.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID returns the task run ID on the context, if any.
func RunID(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey).(string); ok {
		return v
	}
	return ""
}

// WithSessionKey tags the context with the owning session key.
func WithSessionKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, sessionKeyKey, key)
}

// SessionKey returns the session key on the context, if any.
func SessionKey(ctx context.Context) string {
	if v, ok := ctx.Value(sessionKeyKey).(string); ok {
		return v
	}
	return ""
}

// Logger returns the default logger annotated with the context's run and
// session identifiers.
func Logger(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if id := RunID(ctx); id != "" {
		logger = logger.With("run_id", id)
	}
	if key := SessionKey(ctx); key != "" {
		logger = logger.With("session", key)
	}
	return logger
}
