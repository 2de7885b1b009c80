package trigger

import (
	"time"

	"github.com/okian/ghostcoop/internal/domain/dedupe"
	"github.com/okian/ghostcoop/pkg/logger"
)

// Option configures a Router.
type Option func(*Router)

// WithDeduper replaces the default delivery dedupe set.
func WithDeduper(d dedupe.Deduper) Option {
	return func(r *Router) {
		if d != nil {
			r.deduper = d
		}
	}
}

// WithEnqueueTimeout bounds how long Route retries a full lane before dropping.
func WithEnqueueTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.enqueueTimeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}
