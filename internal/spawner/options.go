package spawner

import (
	"time"

	"github.com/okian/ghostcoop/pkg/logger"
)

// Option configures a Spawner.
type Option func(*Spawner)

// WithInterval sets how often Start tops up locations.
func WithInterval(d time.Duration) Option {
	return func(s *Spawner) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithMaxPerLocation caps uncaptured ghosts per location.
func WithMaxPerLocation(n int) Option {
	return func(s *Spawner) {
		if n > 0 {
			s.maxPerLocation = n
		}
	}
}

// WithStrongProbability sets the chance a new ghost is strong.
func WithStrongProbability(p float64) Option {
	return func(s *Spawner) {
		if p >= 0 && p <= 1 {
			s.strongProb = p
		}
	}
}

// WithRadius sets the spawn scatter in degrees around a location.
func WithRadius(deg float64) Option {
	return func(s *Spawner) {
		if deg >= 0 {
			s.radiusDeg = deg
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Spawner) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRand overrides the uniform [0,1) source.
func WithRand(f func() float64) Option {
	return func(s *Spawner) {
		if f != nil {
			s.rand = f
		}
	}
}

// WithIDGenerator overrides ghost id generation.
func WithIDGenerator(f func() string) Option {
	return func(s *Spawner) {
		if f != nil {
			s.newID = f
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Spawner) {
		if l != nil {
			s.logger = l
		}
	}
}
