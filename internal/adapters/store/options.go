package store

import (
	"time"

	"github.com/okian/ghostcoop/pkg/logger"
)

// Option applies a configuration option to the MemoryStore.
type Option func(*MemoryStore)

// WithClock overrides the time source used to stamp changes.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithKeyGenerator overrides push key generation. Keys must sort in creation order.
func WithKeyGenerator(gen func() string) Option {
	return func(s *MemoryStore) {
		if gen != nil {
			s.keygen = gen
		}
	}
}

// WithLogger sets a custom logger for the store.
func WithLogger(l logger.Logger) Option {
	return func(s *MemoryStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSnapshotFile enables persistence to path every interval.
func WithSnapshotFile(path string, interval time.Duration) Option {
	return func(s *MemoryStore) {
		s.snapshotPath = path
		if interval > 0 {
			s.snapshotInterval = interval
		}
	}
}
