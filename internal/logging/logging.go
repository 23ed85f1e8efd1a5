// Package logging configures the process-wide slog handler.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init installs a structured logger tagged with the service name and makes it
// the default. Format is "json" or "text"; anything else falls back to json
// with a warning.
func Init(service, format string) *slog.Logger {
	opts := &slog.HandlerOptions{}

	var handler slog.Handler
	var unknown string
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		unknown = format
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	if unknown != "" {
		logger.Warn("unknown log format, falling back to json", "format", unknown)
	}
	return logger
}
