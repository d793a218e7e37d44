// Package logging provides a tiny abstraction over slog so downstream code
// can depend on a minimal interface (Logger) while allowing users to plug any
// structured logger. It also offers a richer GraphLogger with contextual
// helpers (session, turn, component) and domain specific logging helpers for
// tools, models and turns.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger defines the minimal logging interface for AgentGraph. This allows
// users to provide their own logger implementation or use the built-in adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// GraphLogger wraps slog.Logger adding contextual cloning helpers and domain
// convenience methods. It should be cheap to copy via With* methods.
type GraphLogger struct {
	logger    *slog.Logger
	level     LogLevel
	component string
	sessionID string
	turnID    string
}

// LoggerConfig configures construction of a GraphLogger.
type LoggerConfig struct {
	Level     LogLevel
	Format    string // json or text
	Output    io.Writer
	AddSource bool
	Component string
	SessionID string
	TurnID    string
}

// DefaultLoggerConfig returns a baseline JSON info level configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stdout, AddSource: false}
}

// NewLogger builds a GraphLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *GraphLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	return &GraphLogger{logger: slog.New(handler), level: cfg.Level, component: cfg.Component, sessionID: cfg.SessionID, turnID: cfg.TurnID}
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent sets the logical component (flow, graph, memory, etc.).
func (l *GraphLogger) WithComponent(c string) *GraphLogger {
	nl := *l
	nl.component = c
	return &nl
}

// WithTurn attaches session and turn identifiers.
func (l *GraphLogger) WithTurn(sessionID, turnID string) *GraphLogger {
	nl := *l
	nl.sessionID = sessionID
	nl.turnID = turnID
	return &nl
}

func (l *GraphLogger) contextArgs() []any {
	args := make([]any, 0, 6)
	if l.component != "" {
		args = append(args, slog.String("component", l.component))
	}
	if l.sessionID != "" {
		args = append(args, slog.String("session_id", l.sessionID))
	}
	if l.turnID != "" {
		args = append(args, slog.String("turn_id", l.turnID))
	}
	return args
}

func (l *GraphLogger) log(level slog.Level, min LogLevel, msg string, args ...any) {
	if l.level > min {
		return
	}
	l.logger.With(l.contextArgs()...).Log(context.Background(), level, msg, args...)
}

// Debug logs at debug level.
func (l *GraphLogger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, LogLevelDebug, msg, args...)
}

// Info logs at info level.
func (l *GraphLogger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, LogLevelInfo, msg, args...)
}

// Warn logs at warn level.
func (l *GraphLogger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, LogLevelWarn, msg, args...)
}

// Error logs at error level.
func (l *GraphLogger) Error(msg string, args ...any) {
	l.log(slog.LevelError, LogLevelError, msg, args...)
}

// LogToolCall records execution details for a tool invocation.
func (l *GraphLogger) LogToolCall(tool string, dur time.Duration, success bool, err error) {
	args := []any{"tool_name", tool, "duration_ms", dur.Milliseconds(), "success", success}
	if err != nil {
		args = append(args, "error", err.Error())
		l.Error("tool.call.completed", args...)
		return
	}
	l.Info("tool.call.completed", args...)
}

// LogModelCall records model call latency, token usage and success.
func (l *GraphLogger) LogModelCall(model string, tokens int, dur time.Duration, err error) {
	args := []any{"model", model, "token_count", tokens, "duration_ms", dur.Milliseconds(), "success", err == nil}
	if err != nil {
		args = append(args, "error", err.Error())
		l.Error("model.call.completed", args...)
		return
	}
	l.Info("model.call.completed", args...)
}

// LogTurn records aggregate turn metrics.
func (l *GraphLogger) LogTurn(sessionID string, iterations int, dur time.Duration, err error) {
	args := []any{"session_id", sessionID, "iterations", iterations, "duration_ms", dur.Milliseconds(), "success", err == nil}
	if err != nil {
		args = append(args, "error", err.Error())
	}
	l.Info("turn.completed", args...)
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}
