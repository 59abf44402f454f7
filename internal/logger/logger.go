// Package logger is the process-wide structured logger for wopid.
//
// It wraps log/slog with a colored text handler (or JSON), a runtime
// adjustable level, and request-scoped fields carried through
// context.Context by LogContext.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is a slog level restricted to the four names wopid accepts.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Config holds logger configuration
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or file path
}

// sink is where records go and how they are rendered. Level changes do
// not rebuild it; the handler reads level directly.
type sink struct {
	w      io.Writer
	format string
	color  bool
}

var (
	level slog.LevelVar

	mu      sync.RWMutex
	current = sink{w: os.Stdout, format: "text", color: isTerminal(os.Stdout.Fd())}
	slogger = build(current)
)

func build(s sink) *slog.Logger {
	opts := &slog.HandlerOptions{Level: &level}
	if s.format == "json" {
		return slog.New(slog.NewJSONHandler(s.w, opts))
	}
	return slog.New(NewColorTextHandler(s.w, opts, s.color))
}

func swap(fn func(*sink)) {
	mu.Lock()
	defer mu.Unlock()
	fn(&current)
	slogger = build(current)
}

// ParseLevel converts a level name into a Level. Unknown names yield
// LevelInfo and false.
func ParseLevel(name string) (Level, bool) {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	}
	return LevelInfo, false
}

// openOutput resolves "stdout", "stderr" or a file path (appended to).
func openOutput(name string) (io.Writer, bool, error) {
	switch strings.ToLower(name) {
	case "stdout":
		return os.Stdout, isTerminal(os.Stdout.Fd()), nil
	case "stderr":
		return os.Stderr, isTerminal(os.Stderr.Fd()), nil
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open log file %q: %w", name, err)
	}
	return f, false, nil
}

// Init applies cfg. Empty fields keep their current setting.
func Init(cfg Config) error {
	if cfg.Output != "" {
		w, color, err := openOutput(cfg.Output)
		if err != nil {
			return err
		}
		swap(func(s *sink) { s.w, s.color = w, color })
	}
	SetLevel(cfg.Level)
	SetFormat(cfg.Format)
	return nil
}

// InitWithWriter points the logger at w. Mostly useful in tests.
func InitWithWriter(w io.Writer, lvl, format string, enableColor bool) {
	swap(func(s *sink) { s.w, s.color = w, enableColor })
	SetLevel(lvl)
	SetFormat(format)
}

// SetLevel sets the minimum log level. Invalid names are ignored.
func SetLevel(name string) {
	if l, ok := ParseLevel(name); ok {
		level.Set(l)
	}
}

// SetFormat sets the output format (text or json). Invalid names are ignored.
func SetFormat(format string) {
	format = strings.ToLower(format)
	if format != "text" && format != "json" {
		return
	}
	swap(func(s *sink) { s.format = format })
}

func getLogger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger
}

func logAt(ctx context.Context, l Level, msg string, args []any, withContext bool) {
	if l < level.Level() {
		return
	}
	if withContext {
		args = appendContextFields(ctx, args)
	}
	getLogger().Log(ctx, l, msg, args...)
}

// Debug logs at debug level with alternating key/value fields.
func Debug(msg string, args ...any) { logAt(context.Background(), LevelDebug, msg, args, false) }

// Info logs at info level.
func Info(msg string, args ...any) { logAt(context.Background(), LevelInfo, msg, args, false) }

// Warn logs at warn level.
func Warn(msg string, args ...any) { logAt(context.Background(), LevelWarn, msg, args, false) }

// Error logs at error level.
func Error(msg string, args ...any) { logAt(context.Background(), LevelError, msg, args, false) }

// DebugCtx logs at debug level, leading with the request's LogContext fields.
func DebugCtx(ctx context.Context, msg string, args ...any) { logAt(ctx, LevelDebug, msg, args, true) }

// InfoCtx is Info with LogContext fields.
func InfoCtx(ctx context.Context, msg string, args ...any) { logAt(ctx, LevelInfo, msg, args, true) }

// WarnCtx is Warn with LogContext fields.
func WarnCtx(ctx context.Context, msg string, args ...any) { logAt(ctx, LevelWarn, msg, args, true) }

// ErrorCtx is Error with LogContext fields.
func ErrorCtx(ctx context.Context, msg string, args ...any) { logAt(ctx, LevelError, msg, args, true) }

// appendContextFields prepends LogContext fields so they lead the line.
func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	fields := [...]struct{ key, val string }{
		{KeyTraceID, lc.TraceID},
		{KeySpanID, lc.SpanID},
		{KeyRequestID, lc.RequestID},
		{KeyOperation, lc.Operation},
		{KeyFileID, lc.FileID},
		{KeyUser, lc.User},
		{KeyClientIP, lc.ClientIP},
	}
	out := make([]any, 0, 2*len(fields)+len(args))
	for _, f := range fields {
		if f.val != "" {
			out = append(out, f.key, f.val)
		}
	}
	return append(out, args...)
}

// With returns a logger carrying the given attributes.
func With(args ...any) *slog.Logger {
	return getLogger().With(args...)
}

// Duration returns the time elapsed since start in milliseconds.
func Duration(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

// Infof logs at info level with printf-style formatting.
func Infof(format string, v ...any) {
	if LevelInfo >= level.Level() {
		logAt(context.Background(), LevelInfo, fmt.Sprintf(format, v...), nil, false)
	}
}

// Warnf logs at warn level with printf-style formatting.
func Warnf(format string, v ...any) {
	if LevelWarn >= level.Level() {
		logAt(context.Background(), LevelWarn, fmt.Sprintf(format, v...), nil, false)
	}
}
