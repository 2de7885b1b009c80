package leaderboard

import (
	"context"
	"fmt"

	"github.com/okian/ghostcoop/internal/adapters/store"
	"github.com/okian/ghostcoop/internal/domain/model"
	"github.com/okian/ghostcoop/internal/trigger"
	"github.com/okian/ghostcoop/pkg/logger"
)

// Router registers trigger handlers.
type Router interface {
	Handle(template string, h trigger.HandlerFunc, ops ...model.Op) error
}

// Reader reads the users subtree.
type Reader interface {
	Get(ctx context.Context, path string) (store.Snapshot, error)
}

// Register keeps the ranking in step with users/{userId}.
func (s *TreapStore) Register(r Router) error {
	ops := []model.Op{model.OpCreated, model.OpUpdated, model.OpDeleted}
	if err := r.Handle(model.UserStatsTemplate, s.HandleUserStats, ops...); err != nil {
		return fmt.Errorf("register %s: %w", model.UserStatsTemplate, err)
	}
	return nil
}

// HandleUserStats applies one users/{userId} change.
func (s *TreapStore) HandleUserStats(ctx context.Context, e model.Event) error { //nolint:gocritic // hugeParam: handler signature
	userID := e.Param("userId")
	if e.Op == model.OpDeleted || e.After == nil {
		s.Remove(ctx, userID)
		return nil
	}
	var stats model.UserStats
	if err := e.DecodeAfter(&stats); err != nil {
		return fmt.Errorf("decode users/%s: %w", userID, err)
	}
	if _, err := s.Set(ctx, userID, stats.Points, stats.Captures); err != nil {
		return err
	}
	return nil
}

// Seed loads every existing users record, e.g. after a snapshot restore.
func (s *TreapStore) Seed(ctx context.Context, r Reader) (int, error) {
	snap, err := r.Get(ctx, model.UsersRoot)
	if err != nil {
		return 0, fmt.Errorf("seed leaderboard: %w", err)
	}
	var users map[string]model.UserStats
	if !snap.Exists() {
		return 0, nil
	}
	if err := snap.Decode(&users); err != nil {
		return 0, fmt.Errorf("seed leaderboard: %w", err)
	}
	for id, u := range users {
		if _, err := s.Set(ctx, id, u.Points, u.Captures); err != nil {
			return 0, err
		}
	}
	s.logger.Info(ctx, "leaderboard seeded", logger.Int("players", len(users)))
	return len(users), nil
}
