package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/okian/ghostcoop/internal/domain/model"
	"github.com/okian/ghostcoop/internal/simulation"
)

const defaultRunTimeout = 5 * time.Minute

func main() {
	defaults := simulation.DefaultConfig()
	var (
		location = flag.String("location", defaults.Location, "Location to spawn at")
		teams    = flag.Int("teams", defaults.Teams, "Number of ghosts, one team of agents each")
		teamSize = flag.Int("team-size", defaults.TeamSize, "Agents per team")
		kind     = flag.String("kind", string(defaults.Kind), "Ghost kind: common or strong")
		capture  = flag.Duration("capture", defaults.CaptureDuration, "Timed capture length")
		spread   = flag.Float64("spread", defaults.SpreadMeters, "Agent distance from its ghost in meters")
		timeout  = flag.Duration("timeout", defaults.Timeout, "HTTP request timeout")
		wait     = flag.Duration("wait", defaults.WaitTimeout, "Bound on each wait step")
		workers  = flag.Int("workers", defaults.Workers, "Service worker count")
		logFile  = flag.String("log", "", "Also write output to this file")
		verbose  = flag.Bool("verbose", false, "Enable debug logging")
		help     = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simulation.ShowHelp()
		return
	}

	closeLog, err := simulation.SetupLogging(*logFile, *verbose)
	if err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	config := &simulation.Config{
		Location:        *location,
		Teams:           *teams,
		TeamSize:        *teamSize,
		Kind:            model.Kind(*kind),
		CaptureDuration: *capture,
		SpreadMeters:    *spread,
		Timeout:         *timeout,
		WaitTimeout:     *wait,
		Workers:         *workers,
		LogFile:         *logFile,
		Verbose:         *verbose,
	}

	err = simulation.Run(ctx, config)
	cancel()
	_ = closeLog()
	if err != nil {
		os.Stderr.WriteString("Simulation failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}
