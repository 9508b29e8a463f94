// Package logutil adds a trace level below slog.LevelDebug, used for the
// per-step/per-batch diagnostics that are compiled in everywhere but only
// emitted when OLLAMA_DEBUG=2 turns the level down far enough to see them.
package logutil

import (
	"context"
	"io"
	"log/slog"
)

// LevelTrace sits one tier below slog.LevelDebug, matching envconfig's
// OLLAMA_DEBUG=2 "TRACE" value.
const LevelTrace = slog.LevelDebug - 4

// Trace logs msg at LevelTrace against the default logger. Call sites
// pass it the same key-value pairs any other slog call would.
func Trace(msg string, args ...any) {
	slog.Log(context.Background(), LevelTrace, msg, args...)
}

// NewLogger builds a text handler logger whose minimum level is level,
// relabeling LevelTrace as "TRACE" rather than slog's default "DEBUG-4".
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}))
}
