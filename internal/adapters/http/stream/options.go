package stream

import (
	"time"

	"github.com/okian/ghostcoop/pkg/logger"
)

// Option configures a Handler.
type Option func(*Handler)

// WithPingInterval sets how often keepalive pings are sent.
func WithPingInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithPongWait sets how long a silent client is kept.
func WithPongWait(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.pongWait = d
		}
	}
}

// WithBuffer sets how many events may queue per client.
func WithBuffer(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}
