package simulation

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/okian/ghostcoop/pkg/logger"
)

// SetupLogging initializes the logger. When logFile is set, output goes to
// both stdout and the file; the returned func closes the file.
func SetupLogging(logFile string, verbose bool) (func() error, error) {
	closeFn := func() error { return nil }
	var out io.Writer = os.Stdout
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
		if err != nil {
			return closeFn, fmt.Errorf("failed to create log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, file)
		closeFn = file.Close
	}

	if err := logger.Init(logger.WithOutput(out)); err != nil {
		_ = closeFn()
		return func() error { return nil }, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		_ = logger.SetLevelString("debug")
	}
	if logFile != "" {
		logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	}
	return closeFn, nil
}

// ShowHelp prints usage information for the simulation tool.
func ShowHelp() {
	os.Stdout.WriteString(`Ghostcoop Capture Simulation
============================

Runs the service in process, joins teams of agents next to freshly spawned
ghosts, drives every cooperative capture to completion and checks the
rewards through the HTTP API.

Usage:
  go run ./cmd/simulate [options]

Options:
  -location string
        Location to spawn at (default "Praça Central")
  -teams int
        Number of ghosts, one team of agents each (default 2)
  -team-size int
        Agents per team (default 2)
  -kind string
        Ghost kind: common or strong (default "strong")
  -capture duration
        Timed capture length (default 2s)
  -spread float
        Agent distance from its ghost in meters (default 5)
  -timeout duration
        HTTP request timeout (default 10s)
  -wait duration
        Bound on each wait step (default 30s)
  -workers int
        Service worker count (default 4)
  -log string
        Also write output to this file
  -verbose
        Enable debug logging
  -help
        Show this help message

Examples:
  # Two teams of two capturing strong ghosts
  go run ./cmd/simulate

  # A lone hunter against a strong ghost is refused
  go run ./cmd/simulate -teams 1 -team-size 1

  # Many solo hunters on common ghosts
  go run ./cmd/simulate -kind common -teams 20 -team-size 1 -capture 500ms
`)
}
