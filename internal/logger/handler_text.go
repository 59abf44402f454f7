package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset = "\033[0m"
	ansiKey   = "\033[36m"
)

// levelStyles maps the lower bound of each level band to its label and
// ANSI color.
var levelStyles = []struct {
	min   slog.Level
	label string
	color string
}{
	{slog.LevelError, "ERROR", "\033[31m"},
	{slog.LevelWarn, "WARN", "\033[33m"},
	{slog.LevelInfo, "INFO", "\033[32m"},
	{slog.Level(-1 << 10), "DEBUG", "\033[90m"},
}

// ColorTextHandler writes one "[time] [LEVEL] message key=value" line per
// record, coloring level and keys when attached to a terminal.
type ColorTextHandler struct {
	level    slog.Leveler
	w        io.Writer
	mu       *sync.Mutex
	attrs    []slog.Attr
	prefix   string
	useColor bool
}

// NewColorTextHandler creates a ColorTextHandler.
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, useColor bool) *ColorTextHandler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &ColorTextHandler{level: level, w: w, mu: &sync.Mutex{}, useColor: useColor}
}

// Enabled implements slog.Handler.
func (h *ColorTextHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *ColorTextHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)
	buf = fmt.Appendf(buf, "[%s] [%s] %s", r.Time.Format("2006-01-02 15:04:05.000"), h.levelLabel(r.Level), r.Message)

	for _, a := range h.attrs {
		buf = h.appendAttr(buf, a, "")
	}
	r.Attrs(func(a slog.Attr) bool {
		buf = h.appendAttr(buf, a, h.prefix)
		return true
	})
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *ColorTextHandler) levelLabel(level slog.Level) string {
	for _, s := range levelStyles {
		if level >= s.min {
			if h.useColor {
				return s.color + s.label + ansiReset
			}
			return s.label
		}
	}
	return level.String()
}

func (h *ColorTextHandler) appendAttr(buf []byte, a slog.Attr, prefix string) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}

	key := prefix + a.Key
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			buf = h.appendAttr(buf, ga, key+".")
		}
		return buf
	}

	val := textValue(a.Value)
	if val == "" || strings.ContainsAny(val, " \t\n\"=") {
		val = strconv.Quote(val)
	}
	if h.useColor {
		return fmt.Appendf(buf, " %s%s%s=%s", ansiKey, key, ansiReset, val)
	}
	return fmt.Appendf(buf, " %s=%s", key, val)
}

func textValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', 3, 64)
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	}
	return v.String()
}

func (h *ColorTextHandler) clone() *ColorTextHandler {
	c := *h
	c.attrs = append([]slog.Attr(nil), h.attrs...)
	return &c
}

// WithAttrs implements slog.Handler. Keys are qualified with the groups
// open at this point.
func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := h.clone()
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		c.attrs = append(c.attrs, a)
	}
	return c
}

// WithGroup implements slog.Handler.
func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	c.prefix = h.prefix + name + "."
	return c
}
