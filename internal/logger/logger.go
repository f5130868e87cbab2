package logger

import (
	"io"
	"log/slog"
	"os"
)

// Logger is a structured logger on top of log/slog. Fields are passed as
// alternating key/value pairs.
type Logger struct {
	*slog.Logger
	json bool
}

// New logs to stdout at info level, as text or JSON.
func New(jsonOutput bool) *Logger {
	return NewWithWriter(os.Stdout, jsonOutput, slog.LevelInfo)
}

func NewWithWriter(w io.Writer, jsonOutput bool, level slog.Level) *Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if jsonOutput {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(h), json: jsonOutput}
}

// Discard drops everything. Used when callers pass no logger.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *Logger) *Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// JSONEnabled reports whether this logger is configured to emit JSON output.
func (l *Logger) JSONEnabled() bool { return l.json }

func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With("component", component), json: l.json}
}

func (l *Logger) WithMigration(name string) *Logger {
	return &Logger{Logger: l.Logger.With("migration", name), json: l.json}
}
