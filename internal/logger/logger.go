// Package logger configures the process-wide structured logger.
package logger

import (
	"log/slog"
	"os"
)

// Init configures and installs the default slog.Logger for the process.
//
// environment controls verbosity: "development" enables debug level and
// source locations; anything else runs at info level. useJSON selects the
// JSON handler (suited to log aggregation) over the human-readable text
// handler.
func Init(environment string, useJSON bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	if environment == "development" {
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	}

	var handler slog.Handler
	if useJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// Component returns a child logger tagged with a component name, so log
// lines from the mapper, rewriter, orchestrator, etc. can be filtered
// independently without each package constructing its own handler.
func Component(base *slog.Logger, name string) *slog.Logger {
	return base.With("component", name)
}
