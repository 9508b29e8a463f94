// Package envconfig reads gpuinfer's environment-variable configuration,
// following the teacher's envconfig package (OLLAMA_* vars resolved
// through a trimmed/quoted Var lookup) narrowed to the variables this
// module actually consults: debug verbosity, context-length override, and
// VRAM reservation. The teacher's server-oriented surface (OLLAMA_HOST,
// OLLAMA_ORIGINS, OLLAMA_MODELS, OLLAMA_KEEP_ALIVE, OLLAMA_REMOTES, ...)
// has no caller once server/ is gone (see DESIGN.md's final trim pass).
package envconfig

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// LogLevel reports the configured log verbosity.
// Configurable via GPUINFER_DEBUG: unset/0/false = INFO, 1/true = DEBUG, 2 = TRACE.
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("GPUINFER_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var returns an environment variable with surrounding quotes/whitespace trimmed.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
