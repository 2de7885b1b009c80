// Package service wires the shared state store, the trigger pipeline, the
// capture coordinator and its collaborators into one runnable unit.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/okian/ghostcoop/internal/adapters/history"
	"github.com/okian/ghostcoop/internal/adapters/leaderboard"
	eventqueue "github.com/okian/ghostcoop/internal/adapters/mq/queue"
	workerpool "github.com/okian/ghostcoop/internal/adapters/mq/worker"
	"github.com/okian/ghostcoop/internal/adapters/store"
	"github.com/okian/ghostcoop/internal/coordinator"
	"github.com/okian/ghostcoop/internal/domain/dedupe"
	"github.com/okian/ghostcoop/internal/domain/model"
	"github.com/okian/ghostcoop/internal/spawner"
	"github.com/okian/ghostcoop/internal/sweeper"
	"github.com/okian/ghostcoop/internal/trigger"
	"github.com/okian/ghostcoop/pkg/logger"
	"github.com/okian/ghostcoop/pkg/metrics"
)

// ErrNotStarted is returned by accessors used before Start.
var ErrNotStarted = errors.New("service not started")

// Service owns every server-side component.
type Service struct {
	mu sync.RWMutex

	// Core components
	store       *store.MemoryStore
	queue       *eventqueue.ShardedQueue
	router      *trigger.Router
	workerPool  *workerpool.Pool
	coordinator *coordinator.Coordinator
	spawner     *spawner.Spawner
	sweeper     *sweeper.Sweeper
	history     *history.Repository
	leaderboard *leaderboard.TreapStore
	detach      func()

	// Configuration
	workerCount      int
	queueSize        int
	dedupeSize       int
	rules            model.Rules
	locations        []model.Location
	now              func() time.Time
	spawnEnabled     bool
	spawnerOpts      []spawner.Option
	sweepEnabled     bool
	sweeperOpts      []sweeper.Option
	snapshotPath     string
	snapshotInterval time.Duration
	historyDSN       string

	// State
	started bool

	// Logging
	logger logger.Logger
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount: runtime.NumCPU() * 2,
		queueSize:   10_000,
		dedupeSize:  100_000,
		rules:       model.DefaultRules(),
		locations:   model.DefaultLocations(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the components and starts the trigger pipeline and the
// enabled background loops.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	if err := s.rules.Validate(); err != nil {
		return err
	}

	s.logger.Info(ctx, "starting ghostcoop service...")

	storeOpts := []store.Option{store.WithClock(s.now)}
	if s.snapshotPath != "" {
		storeOpts = append(storeOpts, store.WithSnapshotFile(s.snapshotPath, s.snapshotInterval))
	}
	st, err := store.NewMemoryStore(ctx, storeOpts...)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	var recorder coordinator.Recorder
	if s.historyDSN != "" {
		hist, err := history.Open(ctx, s.historyDSN)
		if err != nil {
			_ = st.Close()
			return err
		}
		s.history = hist
		recorder = hist
	}

	s.queue = eventqueue.NewShardedQueue(s.workerCount, eventqueue.WithCapacity(s.queueSize))
	s.router = trigger.NewRouter(s.queue, trigger.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))))

	coordOpts := []coordinator.Option{coordinator.WithClock(s.now)}
	if recorder != nil {
		coordOpts = append(coordOpts, coordinator.WithRecorder(recorder))
	}
	s.coordinator = coordinator.New(st, s.rules, coordOpts...)
	if err := s.coordinator.Register(s.router); err != nil {
		s.closeLocked(ctx, st)
		return err
	}

	s.leaderboard = leaderboard.NewTreapStore(ctx)
	if _, err := s.leaderboard.Seed(ctx, st); err != nil {
		s.closeLocked(ctx, st)
		return err
	}
	if err := s.leaderboard.Register(s.router); err != nil {
		s.closeLocked(ctx, st)
		return err
	}
	detach, err := s.router.Attach(ctx, st)
	if err != nil {
		s.closeLocked(ctx, st)
		return fmt.Errorf("attach router: %w", err)
	}
	s.detach = detach
	s.store = st

	s.workerPool = workerpool.NewPool(s.queue, s.router)
	s.workerPool.Start(ctx)

	s.spawner = spawner.New(st, s.rules, s.locations, append([]spawner.Option{spawner.WithClock(s.now)}, s.spawnerOpts...)...)
	if s.spawnEnabled {
		s.spawner.Start(ctx)
	}
	s.sweeper = sweeper.New(st, s.rules, append([]sweeper.Option{sweeper.WithClock(s.now)}, s.sweeperOpts...)...)
	if s.sweepEnabled {
		s.sweeper.Start(ctx)
	}

	s.started = true
	s.logger.Info(ctx, "ghostcoop service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Bool("spawner", s.spawnEnabled),
		logger.Bool("sweeper", s.sweepEnabled),
		logger.Bool("history", s.history != nil),
	)
	return nil
}

// Stop shuts the components down in dependency order: producers first, then
// the pipeline, then storage.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping ghostcoop service...")

	s.spawner.Stop()
	s.sweeper.Stop()
	if s.detach != nil {
		s.detach()
		s.detach = nil
	}
	var errs []error
	if err := s.workerPool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("worker pool: %w", err))
	}
	errs = append(errs, s.closeLocked(ctx, s.store)...)

	s.started = false
	s.logger.Info(ctx, "ghostcoop service stopped")
	return errors.Join(errs...)
}

func (s *Service) closeLocked(ctx context.Context, st *store.MemoryStore) []error {
	var errs []error
	if s.queue != nil {
		if err := s.queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("queue: %w", err))
		}
	}
	if s.leaderboard != nil {
		_ = s.leaderboard.Close()
	}
	if st != nil {
		if err := st.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			errs = append(errs, fmt.Errorf("history: %w", err))
		}
		s.history = nil
	}
	for _, err := range errs {
		s.logger.Warn(ctx, "shutdown step failed", logger.Error(err))
	}
	return errs
}

// Store returns the shared state store.
func (s *Service) Store() *store.MemoryStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store
}

// Spawner returns the spawner.
func (s *Service) Spawner() *spawner.Spawner {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spawner
}

// History returns the capture history, or nil when disabled.
func (s *Service) History() *history.Repository {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history
}

// Leaderboard returns the hunter ranking.
func (s *Service) Leaderboard() *leaderboard.TreapStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leaderboard
}

// Sweep runs one sweep immediately.
func (s *Service) Sweep(ctx context.Context) (sweeper.Result, error) {
	s.mu.RLock()
	sw := s.sweeper
	s.mu.RUnlock()
	if sw == nil {
		return sweeper.Result{}, ErrNotStarted
	}
	return sw.Sweep(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]any{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
		"rules":       s.rules,
	}
	if !s.started {
		return stats
	}

	queueLen := s.queue.Len(ctx)
	processed, failed := s.workerPool.Stats()
	players := 0
	if snap, err := s.store.Get(ctx, model.PlayersRoot); err == nil {
		players = snap.NumChildren()
	}
	ghosts := 0
	if snap, err := s.store.Get(ctx, model.GhostsRoot); err == nil {
		ghosts = snap.NumChildren()
	}

	stats["queueLength"] = queueLen
	stats["processed"] = processed
	stats["failed"] = failed
	stats["storeSeq"] = s.store.Seq()
	stats["subscriptions"] = s.store.Subscriptions()
	stats["playersOnline"] = players
	stats["ghosts"] = ghosts
	stats["coordinator"] = s.coordinator.Stats()
	stats["leaderboardPlayers"] = s.leaderboard.Count(ctx)

	metrics.UpdateQueueSize(queueLen)
	metrics.UpdateWorkerCount(s.workerPool.Size())
	metrics.UpdatePlayersOnline(players)
	return stats
}
