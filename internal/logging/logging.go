// Package logging builds the structured logger used across beamforged: a
// slog.Logger configured from config.LoggingConfig, plus context helpers
// that thread a job id and iteration number through to every log line a
// request path emits.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/beamforge/beamforge/internal/config"
)

// New builds a slog.Logger per cfg: JSON handler for production, text for
// local development, at the configured level. Unknown levels fall back to
// info.
func New(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type contextKey string

const (
	jobIDKey     contextKey = "job_id"
	iterationKey contextKey = "iteration"
)

// WithJob attaches jobID to ctx for later retrieval by FromContext.
func WithJob(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithIteration attaches the current iteration number to ctx.
func WithIteration(ctx context.Context, iteration int) context.Context {
	return context.WithValue(ctx, iterationKey, iteration)
}

// FromContext returns a logger derived from base with jobId/iteration
// attributes drawn from ctx, if present. Safe to call on every log site;
// attributes not present in ctx are simply omitted.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	l := base
	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		l = l.With(slog.String("job_id", jobID))
	}
	if iteration, ok := ctx.Value(iterationKey).(int); ok {
		l = l.With(slog.Int("iteration", iteration))
	}
	return l
}
