// Package logging configures the process-wide slog logger. The daemon logs
// structured JSON to stderr; subcommands that print results to stdout keep
// diagnostics on the same stderr stream.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// LevelEnvVar overrides the configured log level when set.
const LevelEnvVar = "JACQUES_LOG_LEVEL"

// Setup installs the default logger. format is "json" or "text"; level is
// one of debug/info/warn/error (case-insensitive). Invalid values fall back
// to info/json with a warning on stderr.
func Setup(level, format string) *slog.Logger {
	if env := os.Getenv(LevelEnvVar); env != "" {
		level = env
	}
	if level != "" && !validLevel(level) {
		fmt.Fprintf(os.Stderr, "jacques: invalid log level %q, using info\n", level)
	}

	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// Component returns a child logger tagged with the subsystem name.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO", "":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func validLevel(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR", "":
		return true
	default:
		return false
	}
}
