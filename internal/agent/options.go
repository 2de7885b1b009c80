package agent

import (
	"time"

	"github.com/okian/ghostcoop/pkg/logger"
)

// Option configures an Agent.
type Option func(*Agent)

// WithPresenter sets the rendering collaborator.
func WithPresenter(p Presenter) Option {
	return func(a *Agent) {
		if p != nil {
			a.presenter = p
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}

// WithPositionInterval sets how often the tracker polls geolocation.
func WithPositionInterval(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.positionInterval = d
		}
	}
}

// WithProgressInterval sets how often capture progress is re-rendered.
func WithProgressInterval(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.progressInterval = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}
