// Package observability configures structured logging for Kokoro.
//
// It wraps log/slog with trace id propagation so every line emitted while
// handling one inbound item carries the same trace_id.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/bdobrica/kokoro/common/trace"
)

// ParseLevel maps "debug", "warn", "error" to slog levels; anything else is
// info.
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

// NewLogger builds a logger writing to w in "json" or text format.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Setup installs a stdout logger as the slog default.
func Setup(level, format string) {
	slog.SetDefault(NewLogger(os.Stdout, level, format))
}

// WithTrace returns base (or the default logger when base is nil) annotated
// with the trace id carried by ctx, if any.
func WithTrace(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	if id := trace.FromContext(ctx); id != "" {
		return base.With("trace_id", id)
	}
	return base
}
