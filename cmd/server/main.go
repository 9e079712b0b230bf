// Package main is the entry point for the bidhouse server. The serve
// command loads configuration, connects to MariaDB and Redis, wires the
// plugins and starts the HTTP server; migrate manages the schema and
// operator creates operator accounts.
package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/keyxmakerx/bidhouse/internal/config"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		slog.Error("command failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// setupLogging configures the global slog logger. Development uses text
// format for readability; everything else uses JSON for log aggregation.
func setupLogging(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}

	var handler slog.Handler
	if cfg.IsDevelopment() {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// parseLevel maps LOG_LEVEL to a slog level, defaulting to info.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
