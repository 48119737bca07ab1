package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Logger wraps slog.Logger with the fields the task platform logs by
type Logger struct {
	*slog.Logger
}

type ctxKey int

const requestIDKey ctxKey = iota

// New creates a logger writing to stdout
func New(level, format string) *Logger {
	return NewWriter(os.Stdout, level, format)
}

// NewWriter creates a logger writing to w. format is "json" or anything
// else for colored console output.
func NewWriter(w io.Writer, level, format string) *Logger {
	lvl := ParseLevel(level)

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: time.TimeOnly,
			NoColor:    w != os.Stdout && w != os.Stderr,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1})),
	}
}

// ContextWithRequestID stores the request id picked up by WithContext
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request id stored in ctx, if any
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithContext returns a logger carrying the request id from ctx
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if id := RequestID(ctx); id != "" {
		return &Logger{Logger: l.With("request_id", id)}
	}
	return l
}

// WithComponent tags every record with the emitting component
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.With("component", name)}
}

// WithSession tags every record with a session id
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{Logger: l.With("session_id", sessionID)}
}

// WithResult tags every record with a result id
func (l *Logger) WithResult(resultID string) *Logger {
	return &Logger{Logger: l.With("result_id", resultID)}
}

// Error logs at error level and attaches the goroutine stack
func (l *Logger) Error(msg string, args ...any) {
	l.ErrorContext(context.Background(), msg, args...)
}

// ErrorContext is Error with a context
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	if !l.Enabled(ctx, slog.LevelError) {
		return
	}
	args = append(args, "stack", string(debug.Stack()))
	l.Logger.ErrorContext(ctx, msg, args...)
}

// ParseLevel maps a config level name to a slog level; unknown names are info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
