package simulation

import (
	"errors"
	"time"

	"github.com/okian/ghostcoop/internal/domain/model"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid simulation config")

// Config holds configuration for a simulation run.
type Config struct {
	Location        string        // Location the ghosts spawn at
	Teams           int           // Number of ghosts, one team per ghost
	TeamSize        int           // Agents per team
	Kind            model.Kind    // Kind of every spawned ghost
	CaptureDuration time.Duration // Timed capture length override
	SpreadMeters    float64       // Distance of each agent from its ghost
	Timeout         time.Duration // HTTP request timeout
	WaitTimeout     time.Duration // Bound on every wait step
	Workers         int           // Service worker count
	LogFile         string        // Optional log file for run output
	Verbose         bool          // Enable debug logging
}

// DefaultConfig returns a two-team cooperative capture at the first stock location.
func DefaultConfig() *Config {
	return &Config{
		Location:        model.DefaultLocations()[0].Name,
		Teams:           DefaultTeams,
		TeamSize:        DefaultTeamSize,
		Kind:            model.KindStrong,
		CaptureDuration: DefaultCaptureDuration,
		SpreadMeters:    DefaultSpreadMeters,
		Timeout:         DefaultHTTPTimeout,
		WaitTimeout:     DefaultWaitTimeout,
		Workers:         DefaultWorkers,
	}
}

// Validate rejects configurations that cannot produce a run.
func (c *Config) Validate() error {
	switch {
	case c.Teams <= 0:
		return errors.Join(ErrInvalidConfig, errors.New("teams must be positive"))
	case c.TeamSize <= 0:
		return errors.Join(ErrInvalidConfig, errors.New("team size must be positive"))
	case c.Kind != model.KindCommon && c.Kind != model.KindStrong:
		return errors.Join(ErrInvalidConfig, errors.New("kind must be common or strong"))
	case c.SpreadMeters < 0:
		return errors.Join(ErrInvalidConfig, errors.New("spread must not be negative"))
	case c.WaitTimeout <= 0:
		return errors.Join(ErrInvalidConfig, errors.New("wait timeout must be positive"))
	}
	return nil
}

// Rules returns the game rules the run uses.
func (c *Config) Rules() model.Rules {
	rules := model.DefaultRules()
	if c.CaptureDuration > 0 {
		ms := c.CaptureDuration.Milliseconds()
		rules.CommonCaptureDurationMs = ms
		rules.StrongCaptureDurationMs = ms
	}
	// Agents stand at most SpreadMeters from the ghost, so teammates are
	// at most twice that apart.
	if need := 2*c.SpreadMeters + 1; need > rules.ProximityRadiusMeters {
		rules.ProximityRadiusMeters = need
	}
	if c.SpreadMeters+1 > rules.CaptureRadiusMeters {
		rules.CaptureRadiusMeters = c.SpreadMeters + 1
	}
	return rules
}

// Stats holds run statistics.
type Stats struct {
	Teams             int
	Agents            int
	GhostsSpawned     int
	CapturesStarted   int
	CapturesRefused   int
	CapturesCompleted int
	Notifications     int
	RewardsVerified   int
	RewardsMismatched int
	StartTime         time.Time
	EndTime           time.Time
	Duration          time.Duration
}
