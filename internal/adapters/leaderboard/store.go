// Package leaderboard ranks hunters by the points the coordinator awards.
package leaderboard

import "context"

// Entry represents a leaderboard row.
type Entry struct {
	Rank     int    `json:"rank"`
	PlayerID string `json:"playerId"`
	Points   int    `json:"points"`
	Captures int    `json:"captures"`
}

// Store provides read/write access to the ranking state.
type Store interface {
	// Set records a player's current totals, replacing any previous ones.
	// Returns true if the ranking changed.
	Set(ctx context.Context, playerID string, points, captures int) (bool, error)

	// Remove drops a player from the ranking.
	Remove(ctx context.Context, playerID string) bool

	// Rank returns the current rank and totals for a player.
	// Returns ErrNotFound if the player is unknown.
	Rank(ctx context.Context, playerID string) (Entry, error)

	// TopN returns the top-N entries ordered by points desc.
	TopN(ctx context.Context, n int) ([]Entry, error)

	// Count returns the number of ranked players.
	Count(ctx context.Context) int
}
