// Package sweeper periodically expires stale capture attempts, inactive
// players and old ghosts.
//
// Every mutation goes through a store transaction that re-checks the node,
// and captured ghosts keep their participants until they expire.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/ghostcoop/internal/adapters/store"
	"github.com/okian/ghostcoop/internal/domain/model"
	"github.com/okian/ghostcoop/pkg/logger"
	"github.com/okian/ghostcoop/pkg/metrics"
)

// Default sweeper configuration constants.
const (
	defaultInterval       = 30 * time.Second
	defaultAttemptTimeout = 30 * time.Second
	defaultPlayerTimeout  = 10 * time.Minute
	defaultGhostLifetime  = 24 * time.Hour
)

// Store is the subset of the state store the sweeper needs.
type Store interface {
	Get(ctx context.Context, path string) (store.Snapshot, error)
	Transact(ctx context.Context, path string, fn store.TxFunc) (store.Snapshot, error)
}

// Result counts what one sweep removed.
type Result struct {
	StaleAttempts   int `json:"staleAttempts"`
	ResetCaptures   int `json:"resetCaptures"`
	InactivePlayers int `json:"inactivePlayers"`
	ExpiredGhosts   int `json:"expiredGhosts"`
}

// Sweeper removes expired state.
type Sweeper struct {
	store Store
	rules model.Rules

	interval       time.Duration
	attemptTimeout time.Duration
	playerTimeout  time.Duration
	ghostLifetime  time.Duration
	now            func() time.Time

	mu       sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
	logger   logger.Logger
}

// New creates a Sweeper.
func New(s Store, rules model.Rules, opts ...Option) *Sweeper {
	sw := &Sweeper{
		store:          s,
		rules:          rules,
		interval:       defaultInterval,
		attemptTimeout: defaultAttemptTimeout,
		playerTimeout:  defaultPlayerTimeout,
		ghostLifetime:  defaultGhostLifetime,
		now:            time.Now,
		logger:         logger.Get().Named("sweeper"),
	}
	for _, opt := range opts {
		opt(sw)
	}
	return sw
}

// Sweep runs one pass over ghosts and players.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var res Result
	now := s.now()

	ghosts, err := s.store.Get(ctx, model.GhostsRoot)
	if err != nil {
		return res, fmt.Errorf("read ghosts: %w", err)
	}
	var errs []error
	for _, key := range ghosts.ChildKeys() {
		if err := s.sweepGhost(ctx, key, now, &res); err != nil {
			errs = append(errs, err)
		}
	}

	players, err := s.store.Get(ctx, model.PlayersRoot)
	if err != nil {
		return res, errors.Join(append(errs, fmt.Errorf("read players: %w", err))...)
	}
	for _, key := range players.ChildKeys() {
		if err := s.sweepPlayer(ctx, key, now, &res); err != nil {
			errs = append(errs, err)
		}
	}

	metrics.RecordSweepRemoval("attempt", res.StaleAttempts)
	metrics.RecordSweepRemoval("reset", res.ResetCaptures)
	metrics.RecordSweepRemoval("player", res.InactivePlayers)
	metrics.RecordSweepRemoval("ghost", res.ExpiredGhosts)
	if res != (Result{}) {
		s.logger.Info(ctx, "sweep finished",
			logger.Int("stale_attempts", res.StaleAttempts),
			logger.Int("reset_captures", res.ResetCaptures),
			logger.Int("inactive_players", res.InactivePlayers),
			logger.Int("expired_ghosts", res.ExpiredGhosts),
		)
	}
	return res, errors.Join(errs...)
}

func (s *Sweeper) sweepGhost(ctx context.Context, id string, now time.Time, res *Result) error {
	var stale int
	var reset, expired bool
	_, err := s.store.Transact(ctx, model.GhostPath(id), func(cur store.Snapshot) (any, error) {
		stale, reset, expired = 0, false, false
		raw, ok := cur.Value().(map[string]any)
		if !ok {
			return nil, store.ErrAborted
		}
		var g model.Ghost
		if err := cur.Decode(&g); err != nil {
			return nil, store.ErrAborted
		}

		// Nodes left by attempts on ghosts that are gone are dropped as expired.
		if !g.Spawned() || (g.CreatedAt > 0 && now.Sub(model.FromMillis(g.CreatedAt)) > s.ghostLifetime) {
			expired = true
			return nil, nil
		}
		if g.Captured() {
			return nil, store.ErrAborted
		}

		cutoff := model.Millis(now.Add(-s.attemptTimeout))
		pc, _ := raw["playersCapturing"].(map[string]any)
		attempts, _ := raw["captureAttempts"].(map[string]any)
		for pid, a := range g.PlayersCapturing {
			if a.StartedAt > 0 && a.StartedAt < cutoff {
				delete(pc, pid)
				delete(attempts, pid)
				stale++
			}
		}
		if g.IsBeingCaptured && len(pc) < s.rules.Required(g.Kind) {
			raw["isBeingCaptured"] = false
			delete(raw, "captureStartedAt")
			delete(raw, "captureComplete")
			reset = true
		}
		if stale == 0 && !reset {
			return nil, store.ErrAborted
		}
		return raw, nil
	})
	if err != nil && !errors.Is(err, store.ErrAborted) {
		return fmt.Errorf("sweep ghost %s: %w", id, err)
	}
	if err == nil {
		res.StaleAttempts += stale
		if reset {
			res.ResetCaptures++
		}
		if expired {
			res.ExpiredGhosts++
		}
	}
	return nil
}

func (s *Sweeper) sweepPlayer(ctx context.Context, id string, now time.Time, res *Result) error {
	cutoff := model.Millis(now.Add(-s.playerTimeout))
	_, err := s.store.Transact(ctx, model.PlayerPath(id), func(cur store.Snapshot) (any, error) {
		var p model.Player
		if !cur.Exists() || cur.Decode(&p) != nil {
			return nil, store.ErrAborted
		}
		seen := p.LastSeen
		if seen == 0 {
			seen = p.JoinedAt
		}
		if seen == 0 || seen >= cutoff {
			return nil, store.ErrAborted
		}
		return nil, nil
	})
	switch {
	case err == nil:
		res.InactivePlayers++
	case !errors.Is(err, store.ErrAborted):
		return fmt.Errorf("sweep player %s: %w", id, err)
	}
	return nil
}

// Start runs Sweep on every interval until Stop or ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopChan != nil {
		return
	}
	s.stopChan = make(chan struct{})
	stop := s.stopChan

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if _, err := s.Sweep(ctx); err != nil {
					s.logger.Warn(ctx, "sweep failed", logger.Error(err))
				}
			}
		}
	}()
}

// Stop halts the periodic loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if s.stopChan != nil {
		close(s.stopChan)
		s.stopChan = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}
