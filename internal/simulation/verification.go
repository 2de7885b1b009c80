package simulation

import (
	"context"
	"fmt"
	"slices"

	"github.com/okian/ghostcoop/internal/adapters/leaderboard"
	"github.com/okian/ghostcoop/internal/domain/model"
	"github.com/okian/ghostcoop/pkg/logger"
)

// verifyResults checks every ghost and every player's rewards through the
// API. Teams smaller than the kind's threshold must leave the ghost
// uncaptured and earn nothing.
func verifyResults(ctx context.Context, client *HTTPClient, config *Config, rules model.Rules, teams []*team, stats *Stats) error {
	log := logger.Get().Named("simulation")
	log.Info(ctx, "verifying results")

	expectCapture := config.TeamSize >= rules.Required(config.Kind)
	want := model.UserStats{}
	if expectCapture {
		want = model.UserStats{Points: rules.PointsFor(config.Kind) / config.TeamSize, Captures: 1}
	}

	for _, t := range teams {
		if err := verifyGhost(ctx, client, t, expectCapture); err != nil {
			log.Warn(ctx, "ghost check failed", logger.String("ghost", t.ghost.ID), logger.Error(err))
			stats.RewardsMismatched++
		} else if expectCapture {
			stats.CapturesCompleted++
		}

		for _, m := range t.members {
			got, err := awaitRewards(ctx, client, config, m.id, want)
			if err != nil {
				log.Warn(ctx, "reward check failed",
					logger.String("player", m.id),
					logger.Int("points", got.Points),
					logger.Int("captures", got.Captures),
					logger.Int("wantPoints", want.Points),
					logger.Error(err))
				stats.RewardsMismatched++
				continue
			}
			stats.RewardsVerified++
		}
	}

	if stats.RewardsMismatched > 0 {
		return fmt.Errorf("%w: %d of %d checks", ErrVerification,
			stats.RewardsMismatched, stats.RewardsMismatched+stats.RewardsVerified)
	}
	log.Info(ctx, "result verification completed", logger.Int("checks", stats.RewardsVerified))
	return nil
}

// verifyGhost checks the ghost's terminal state against the team.
func verifyGhost(ctx context.Context, client *HTTPClient, t *team, expectCapture bool) error {
	g, err := client.Ghost(ctx, t.ghost.ID)
	if err != nil {
		return err
	}
	if !expectCapture {
		if g.Captured() {
			return fmt.Errorf("captured by %v below the participant threshold", g.CapturedBy)
		}
		return nil
	}
	if !g.Captured() {
		return fmt.Errorf("not captured")
	}
	ids := make([]string, 0, len(t.members))
	for _, m := range t.members {
		ids = append(ids, m.id)
	}
	slices.Sort(ids)
	if !slices.Equal(g.CapturedBy, ids) {
		return fmt.Errorf("capturedBy %v, want %v", g.CapturedBy, ids)
	}
	return nil
}

// awaitRewards polls users/{id} until it matches want and, for paid
// players, until the leaderboard carries the same totals. Rewards land after
// the ghost is marked captured, so a short lag is expected.
func awaitRewards(ctx context.Context, client *HTTPClient, config *Config, playerID string, want model.UserStats) (model.UserStats, error) {
	var (
		got     model.UserStats
		lastErr error
	)
	err := waitUntil(ctx, config.WaitTimeout, func() bool {
		got, lastErr = client.UserStats(ctx, playerID)
		if lastErr != nil || got != want {
			return false
		}
		if want.Captures == 0 {
			return true
		}
		var entry leaderboard.Entry
		entry, lastErr = client.Rank(ctx, playerID)
		return lastErr == nil && entry.Points == want.Points && entry.Captures == want.Captures
	})
	if lastErr != nil {
		return got, lastErr
	}
	return got, err
}
