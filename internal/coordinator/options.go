package coordinator

import (
	"time"

	"github.com/okian/ghostcoop/pkg/logger"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source used for server-side timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRecorder attaches a capture history recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		c.recorder = r
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}
