package logger

import (
	"context"
	"time"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds request-scoped logging context for one WOPI request.
type LogContext struct {
	TraceID   string // OpenTelemetry trace ID
	SpanID    string // OpenTelemetry span ID
	RequestID string // chi request id
	Operation string // WOPI operation (CHECK_FILE_INFO, LOCK, PUT, ...)
	FileID    string // WOPI file id from the URL
	User      string // resolved user, empty for anonymous
	ClientIP  string
	StartTime time.Time
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext for a request from clientIP.
func NewLogContext(clientIP, requestID string) *LogContext {
	return &LogContext{
		ClientIP:  clientIP,
		RequestID: requestID,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithOperation returns a copy with the WOPI operation set.
func (lc *LogContext) WithOperation(op string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.Operation = op
	}
	return c
}

// WithFile returns a copy bound to a file id and user.
func (lc *LogContext) WithFile(fileID, user string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.FileID = fileID
		c.User = user
	}
	return c
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.TraceID = traceID
		c.SpanID = spanID
	}
	return c
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
