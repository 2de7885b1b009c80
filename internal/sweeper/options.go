package sweeper

import (
	"time"

	"github.com/okian/ghostcoop/pkg/logger"
)

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithInterval sets how often Start sweeps.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithAttemptTimeout sets how long a capture attempt lives without being renewed.
func WithAttemptTimeout(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.attemptTimeout = d
		}
	}
}

// WithPlayerTimeout sets how long a silent player stays listed.
func WithPlayerTimeout(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.playerTimeout = d
		}
	}
}

// WithGhostLifetime sets how long a ghost lives after spawning.
func WithGhostLifetime(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.ghostLifetime = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}
