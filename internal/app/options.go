package service

import (
	"time"

	"github.com/okian/ghostcoop/internal/domain/model"
	"github.com/okian/ghostcoop/internal/spawner"
	"github.com/okian/ghostcoop/internal/sweeper"
	"github.com/okian/ghostcoop/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of trigger lanes, one worker each.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of each trigger lane.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the trigger deduplication cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRules sets the game constants.
func WithRules(r model.Rules) Option {
	return func(s *Service) {
		s.rules = r
	}
}

// WithLocations sets the spawn zones.
func WithLocations(locs []model.Location) Option {
	return func(s *Service) {
		s.locations = locs
	}
}

// WithClock overrides the time source of every component.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSpawner configures the spawner. enabled starts its periodic loop; on
// demand spawning over HTTP works either way.
func WithSpawner(enabled bool, opts ...spawner.Option) Option {
	return func(s *Service) {
		s.spawnEnabled = enabled
		s.spawnerOpts = append(s.spawnerOpts, opts...)
	}
}

// WithSweeper enables the periodic stale-state sweep.
func WithSweeper(enabled bool, opts ...sweeper.Option) Option {
	return func(s *Service) {
		s.sweepEnabled = enabled
		s.sweeperOpts = append(s.sweeperOpts, opts...)
	}
}

// WithSnapshot enables periodic store snapshots to path.
func WithSnapshot(path string, interval time.Duration) Option {
	return func(s *Service) {
		s.snapshotPath = path
		s.snapshotInterval = interval
	}
}

// WithHistoryDSN enables the Postgres capture history.
func WithHistoryDSN(dsn string) Option {
	return func(s *Service) {
		s.historyDSN = dsn
	}
}
