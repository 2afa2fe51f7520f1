// Package logging is Maestro's structured log: a slog JSON wrapper whose
// child loggers carry session, task, and phase context into every entry.
// The file sink lives at <coordDir>/debug.log so a run's log travels with
// its coordination directory.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Levels accepted by NewLogger and the config surface. Anything else is
// treated as INFO.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

var slogLevels = map[string]slog.Level{
	LevelDebug: slog.LevelDebug,
	LevelInfo:  slog.LevelInfo,
	LevelWarn:  slog.LevelWarn,
	LevelError: slog.LevelError,
}

// ParseLevel normalizes a level string to one of the Level constants,
// defaulting to INFO.
func ParseLevel(level string) string {
	normalized := strings.ToUpper(level)
	if _, ok := slogLevels[normalized]; ok {
		return normalized
	}
	return LevelInfo
}

// Logger writes JSON log entries with persistent context attributes.
// Children share the root's sink; only the root should Close. Safe for
// concurrent use.
type Logger struct {
	slogger *slog.Logger
	file    *os.File
	mu      sync.Mutex
	context []any
}

// NewLogger opens <coordDir>/debug.log for appending and returns a logger
// filtered at level. An empty coordDir logs to stderr instead.
func NewLogger(coordDir string, level string) (*Logger, error) {
	writer := io.Writer(os.Stderr)
	var file *os.File
	if coordDir != "" {
		if err := os.MkdirAll(coordDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create coordination directory: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(coordDir, "debug.log"),
			os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		file, writer = f, f
	}

	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: slogLevels[ParseLevel(level)],
	})
	return &Logger{slogger: slog.New(handler), file: file}, nil
}

// NopLogger returns a logger that discards everything. Components take it
// in place of a nil logger.
func NopLogger() *Logger {
	return &Logger{slogger: slog.New(slog.NewJSONHandler(io.Discard, nil))}
}

// WithSession tags every entry of the child with the session id.
func (l *Logger) WithSession(sessionID string) *Logger {
	return l.With("session_id", sessionID)
}

// WithTask tags every entry of the child with the task id.
func (l *Logger) WithTask(taskID string) *Logger {
	return l.With("task_id", taskID)
}

// WithPhase tags entries with the orchestration phase: "planning",
// "executing", "judging", "escalating".
func (l *Logger) WithPhase(phase string) *Logger {
	return l.With("phase", phase)
}

// With returns a child logger whose entries carry the given key-value
// pairs on top of the parent's.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}
	merged := make([]any, 0, len(l.context)+len(args))
	merged = append(merged, l.context...)
	merged = append(merged, args...)
	return &Logger{slogger: l.slogger, file: l.file, context: merged}
}

func (l *Logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args) }
func (l *Logger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args) }
func (l *Logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args) }

func (l *Logger) log(level slog.Level, msg string, args []any) {
	merged := make([]any, 0, len(l.context)+len(args))
	merged = append(merged, l.context...)
	merged = append(merged, args...)
	l.slogger.Log(context.Background(), level, msg, merged...)
}

// Close syncs and closes the file sink. Closing a stderr or nop logger is
// a no-op.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}
