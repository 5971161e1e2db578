// Package logging provides structured logging using Go's slog.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with convenience methods.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger with the specified level and format.
// Level: "debug", "info", "warn", "error" (default: "info")
// Format: "json", "text" (default: "json")
func New(level, format string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.ToLower(format) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return &Logger{Logger: slog.New(handler)}
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

// With returns a new Logger with the given attributes added.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Fatal logs at error level and exits with code 1.
func (l *Logger) Fatal(msg string, args ...any) {
	l.Logger.Error(msg, args...)
	os.Exit(1)
}

// Default returns a default logger (info level, JSON format).
func Default() *Logger {
	return New("info", "json")
}

// Nop returns a logger that discards all output (useful for tests).
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(nopWriter{}, nil))}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (n int, err error) { return len(p), nil }
