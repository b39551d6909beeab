// Package logging configures the process-wide slog logger from a CLI flag /
// environment variable, the way cmd/shelf/root.go's ParseLogLevel/
// GetLogLevel pair does, generalized to also pick a handler (text for a
// terminal, JSON for production log shipping).
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// EnvVar is the environment variable consulted when no flag value is set.
const EnvVar = "REGISTRYCTL_LOG_LEVEL"

// ParseLevel converts a string log level to slog.Level.
// Supports: debug, info, warn, error (case-insensitive).
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: must be debug, info, warn, or error", level)
	}
}

// ResolveLevel returns the configured log level, checking:
// 1. the flag value passed in (non-empty wins)
// 2. the REGISTRYCTL_LOG_LEVEL environment variable
// 3. the default, info
func ResolveLevel(flagValue string) slog.Level {
	level := flagValue
	if level == "" {
		level = os.Getenv(EnvVar)
	}
	if level == "" {
		level = "info"
	}

	parsed, err := ParseLevel(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using info\n", err)
		return slog.LevelInfo
	}
	return parsed
}

// Format selects the slog handler's output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// New builds the process logger. format controls the handler (text is
// easier to read at a terminal; json is meant for log aggregation in a
// deployed worker/reaper process).
func New(level slog.Level, format Format) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format {
	case FormatJSON:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
