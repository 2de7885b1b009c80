// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers a YAML file, a .env file and the environment on top.
// - Game constants are configuration, not logic; Rules() exposes them.
package config

import (
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/okian/ghostcoop/internal/domain/model"
)

// Location configures a spawn zone.
type Location struct {
	Lat float64 `koanf:"lat"`
	Lon float64 `koanf:"lon"`
}

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects text or json log output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// EventQueueSize bounds each trigger queue lane.
	EventQueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of trigger lanes, one worker each.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize bounds the trigger and request deduplication caches.
	DedupeSize int `koanf:"dedupe_size"`

	// Game rules.
	ProximityRadiusMeters      float64 `koanf:"proximity_radius_m"`
	CaptureRadiusMeters        float64 `koanf:"capture_radius_m"`
	StrongRequiredParticipants int     `koanf:"strong_required_participants"`
	CommonCaptureDurationMs    int64   `koanf:"common_capture_duration_ms"`
	StrongCaptureDurationMs    int64   `koanf:"strong_capture_duration_ms"`
	CommonPoints               int     `koanf:"common_points"`
	StrongPoints               int     `koanf:"strong_points"`
	MaxChatMessages            int     `koanf:"max_chat_messages"`

	// PositionUpdateInterval is how often clients poll geolocation.
	PositionUpdateInterval time.Duration `koanf:"position_update_interval"`

	// Spawner.
	SpawnEnabled           bool                `koanf:"spawn_enabled"`
	SpawnInterval          time.Duration       `koanf:"spawn_interval"`
	MaxGhostsPerLocation   int                 `koanf:"max_ghosts_per_location"`
	StrongGhostProbability float64             `koanf:"strong_ghost_probability"`
	SpawnRadiusDeg         float64             `koanf:"spawn_radius_deg"`
	Locations              map[string]Location `koanf:"locations"`

	// Sweeper. Disabled by default; stale state is otherwise left in place.
	SweeperEnabled        bool          `koanf:"sweeper_enabled"`
	SweepInterval         time.Duration `koanf:"sweep_interval"`
	AttemptTimeout        time.Duration `koanf:"attempt_timeout"`
	PlayerInactiveTimeout time.Duration `koanf:"player_inactive_timeout"`
	GhostLifetime         time.Duration `koanf:"ghost_lifetime"`

	// SnapshotPath enables periodic store snapshots when non-empty.
	SnapshotPath     string        `koanf:"snapshot_path"`
	SnapshotInterval time.Duration `koanf:"snapshot_interval"`

	// HistoryDSN enables the Postgres capture history when non-empty.
	HistoryDSN string `koanf:"history_dsn"`

	// RateLimitRPS and RateLimitBurst bound writes per client.
	RateLimitRPS   float64 `koanf:"rate_limit_rps"`
	RateLimitBurst int     `koanf:"rate_limit_burst"`

	// MetricsEnabled turns Prometheus recording on; MetricsRefreshInterval
	// paces the system and service gauge updates.
	MetricsEnabled         bool          `koanf:"metrics_enabled"`
	MetricsRefreshInterval time.Duration `koanf:"metrics_refresh_interval"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// New creates a Config populated with defaults.
func New() *Config {
	rules := model.DefaultRules()
	locs := make(map[string]Location)
	for _, l := range model.DefaultLocations() {
		locs[l.Name] = Location{Lat: l.Lat, Lon: l.Lon}
	}
	return &Config{
		LogLevel:                   "info",
		LogFormat:                  "text",
		Addr:                       ":9080",
		EventQueueSize:             10_000,
		WorkerCount:                runtime.NumCPU() * 2,
		DedupeSize:                 100_000,
		ProximityRadiusMeters:      rules.ProximityRadiusMeters,
		CaptureRadiusMeters:        rules.CaptureRadiusMeters,
		StrongRequiredParticipants: rules.StrongRequiredParticipants,
		CommonCaptureDurationMs:    rules.CommonCaptureDurationMs,
		StrongCaptureDurationMs:    rules.StrongCaptureDurationMs,
		CommonPoints:               rules.CommonPoints,
		StrongPoints:               rules.StrongPoints,
		MaxChatMessages:            rules.MaxChatMessages,
		PositionUpdateInterval:     5 * time.Second,
		SpawnEnabled:               false,
		SpawnInterval:              time.Minute,
		MaxGhostsPerLocation:       5,
		StrongGhostProbability:     0.25,
		SpawnRadiusDeg:             0.001,
		Locations:                  locs,
		SweeperEnabled:             false,
		SweepInterval:              30 * time.Second,
		AttemptTimeout:             30 * time.Second,
		PlayerInactiveTimeout:      10 * time.Minute,
		GhostLifetime:              24 * time.Hour,
		SnapshotInterval:           30 * time.Second,
		RateLimitRPS:               20,
		RateLimitBurst:             40,
		MetricsEnabled:             true,
		MetricsRefreshInterval:     10 * time.Second,
		ShutdownTimeout:            10 * time.Second,
	}
}

// Rules returns the game constants.
func (c *Config) Rules() model.Rules {
	return model.Rules{
		ProximityRadiusMeters:      c.ProximityRadiusMeters,
		CaptureRadiusMeters:        c.CaptureRadiusMeters,
		StrongRequiredParticipants: c.StrongRequiredParticipants,
		CommonCaptureDurationMs:    c.CommonCaptureDurationMs,
		StrongCaptureDurationMs:    c.StrongCaptureDurationMs,
		CommonPoints:               c.CommonPoints,
		StrongPoints:               c.StrongPoints,
		MaxChatMessages:            c.MaxChatMessages,
	}
}

// SpawnLocations returns the configured zones sorted by name.
func (c *Config) SpawnLocations() []model.Location {
	out := make([]model.Location, 0, len(c.Locations))
	for name, l := range c.Locations {
		out = append(out, model.Location{Name: name, Lat: l.Lat, Lon: l.Lon})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.EventQueueSize <= 0 || c.WorkerCount <= 0 {
		return fmt.Errorf("%w: queue_size and worker_count must be positive", ErrInvalidConfig)
	}
	if err := c.Rules().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.StrongGhostProbability < 0 || c.StrongGhostProbability > 1 {
		return fmt.Errorf("%w: strong_ghost_probability must be within [0, 1]", ErrInvalidConfig)
	}
	if c.SpawnEnabled && (c.SpawnInterval <= 0 || c.MaxGhostsPerLocation <= 0) {
		return fmt.Errorf("%w: spawner needs a positive interval and ghost cap", ErrInvalidConfig)
	}
	if c.SweeperEnabled && c.SweepInterval <= 0 {
		return fmt.Errorf("%w: sweep_interval must be positive", ErrInvalidConfig)
	}
	if c.MetricsRefreshInterval <= 0 {
		return fmt.Errorf("%w: metrics_refresh_interval must be positive", ErrInvalidConfig)
	}
	return nil
}
