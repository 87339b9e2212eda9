package occurrent

import (
	"context"
	"log/slog"
)

// Logger defines the logging interface used by every component.
// Arguments after msg are alternating keys and values.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// noopLogger is a no-op logger implementation.
type noopLogger struct{}

func (l *noopLogger) Debug(msg string, args ...interface{}) {}
func (l *noopLogger) Info(msg string, args ...interface{})  {}
func (l *noopLogger) Warn(msg string, args ...interface{})  {}
func (l *noopLogger) Error(msg string, args ...interface{}) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return &noopLogger{}
}

// slogLogger forwards to a *slog.Logger.
type slogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger adapts a *slog.Logger to Logger. A nil logger uses slog.Default().
func NewSlogLogger(logger *slog.Logger) Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &slogLogger{logger: logger}
}

func (l *slogLogger) Debug(msg string, args ...interface{}) {
	l.logger.Log(context.Background(), slog.LevelDebug, msg, args...)
}

func (l *slogLogger) Info(msg string, args ...interface{}) {
	l.logger.Log(context.Background(), slog.LevelInfo, msg, args...)
}

func (l *slogLogger) Warn(msg string, args ...interface{}) {
	l.logger.Log(context.Background(), slog.LevelWarn, msg, args...)
}

func (l *slogLogger) Error(msg string, args ...interface{}) {
	l.logger.Log(context.Background(), slog.LevelError, msg, args...)
}
