package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"chaosmonkey/internal/config"
)

type Logger struct {
	*slog.Logger
	config *config.LoggingConfig
}

type ContextKey string

const (
	CorrelationIDKey ContextKey = "correlation_id"
	RequestIDKey     ContextKey = "request_id"
	RunIDKey         ContextKey = "run_id"
	ServiceKey       ContextKey = "service"
)

// NewLogger creates a structured logger and installs it as the slog default.
func NewLogger(cfg *config.LoggingConfig) *Logger {
	logger := slog.New(newHandler(cfg, resolveWriter(cfg.Output)))
	slog.SetDefault(logger)

	return &Logger{
		Logger: logger,
		config: cfg,
	}
}

// NewWithWriter builds a logger on an explicit writer without touching the slog default.
func NewWithWriter(cfg *config.LoggingConfig, w io.Writer) *Logger {
	return &Logger{
		Logger: slog.New(newHandler(cfg, w)),
		config: cfg,
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	cfg := TestLoggingConfig()
	return NewWithWriter(&cfg, io.Discard)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func resolveWriter(output string) io.Writer {
	switch output {
	case "stdout", "":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}

	file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		slog.Warn("Failed to open log file, using stdout", "error", err, "file", output)
		return os.Stdout
	}
	return file
}

func newHandler(cfg *config.LoggingConfig, w io.Writer) slog.Handler {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	}

	switch cfg.Format {
	case "text", "console":
		return slog.NewTextHandler(w, opts)
	default:
		return slog.NewJSONHandler(w, opts)
	}
}

// WithContext creates a new logger with context values
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger

	if correlationID := ctx.Value(CorrelationIDKey); correlationID != nil {
		logger = logger.With("correlation_id", correlationID)
	}
	if requestID := ctx.Value(RequestIDKey); requestID != nil {
		logger = logger.With("request_id", requestID)
	}
	if runID := ctx.Value(RunIDKey); runID != nil {
		logger = logger.With("run_id", runID)
	}
	if service := ctx.Value(ServiceKey); service != nil {
		logger = logger.With("service", service)
	}

	return &Logger{
		Logger: logger,
		config: l.config,
	}
}

// WithFields creates a new logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	var args []interface{}
	for key, value := range fields {
		args = append(args, key, value)
	}

	return &Logger{
		Logger: l.Logger.With(args...),
		config: l.config,
	}
}

// WithField creates a new logger with a single additional field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		Logger: l.Logger.With(key, value),
		config: l.config,
	}
}

// WithError creates a new logger with an error field
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		Logger: l.Logger.With("error", err.Error()),
		config: l.config,
	}
}

// WithRunID tags a context so that every context-aware log line carries the run.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// RequestStart logs the start of a request
func (l *Logger) RequestStart(ctx context.Context, method, path, userAgent string) {
	if l.config != nil && !l.config.EnableRequestTracing {
		return
	}
	l.WithContext(ctx).Debug("Request started",
		"method", method,
		"path", path,
		"user_agent", userAgent,
	)
}

// RequestEnd logs the end of a request
func (l *Logger) RequestEnd(ctx context.Context, method, path string, statusCode int, duration time.Duration, size int64) {
	level := slog.LevelInfo
	if statusCode >= 400 && statusCode < 500 {
		level = slog.LevelWarn
	} else if statusCode >= 500 {
		level = slog.LevelError
	}

	l.WithContext(ctx).Log(ctx, level, "Request completed",
		"method", method,
		"path", path,
		"status_code", statusCode,
		"duration_ms", duration.Milliseconds(),
		"response_size", size,
	)
}

// ExperimentEvent logs a run lifecycle transition.
func (l *Logger) ExperimentEvent(ctx context.Context, event, runID, experiment, kind, target string, details map[string]interface{}) {
	args := []interface{}{
		"event", event,
		"run_id", runID,
		"experiment", experiment,
		"kind", kind,
	}
	if target != "" {
		args = append(args, "target", target)
	}
	for key, value := range details {
		args = append(args, key, value)
	}

	level := slog.LevelInfo
	switch event {
	case "rejected":
		level = slog.LevelDebug
	case "aborted":
		level = slog.LevelWarn
	case "release_failed":
		level = slog.LevelError
	}

	l.WithContext(ctx).Log(ctx, level, "Experiment event", args...)
}

// SafetyEvent logs a governor decision that stopped or blocked a fault.
func (l *Logger) SafetyEvent(ctx context.Context, target, reason string, sample map[string]interface{}) {
	args := []interface{}{
		"target", target,
		"reason", reason,
	}
	for key, value := range sample {
		args = append(args, key, value)
	}

	l.WithContext(ctx).Warn("Safety limit", args...)
}
