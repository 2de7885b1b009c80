package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/okian/ghostcoop/internal/adapters/leaderboard"
)

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

// handleLeaderboard serves GET /leaderboard?limit=.
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.leaderboard"
	limit := defaultLeaderboardLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLeaderboardLimit {
			writeStoreError(w, NewKind(op, ErrBadRequest))
			return
		}
		limit = n
	}
	entries, err := s.leaderboard.TopN(r.Context(), limit)
	if err != nil {
		writeStoreError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handlePlayerRank serves GET /leaderboard/{playerId}.
func (s *Server) handlePlayerRank(w http.ResponseWriter, r *http.Request) {
	const op = "api.leaderboard_rank"
	entry, err := s.leaderboard.Rank(r.Context(), chi.URLParam(r, "playerId"))
	if err != nil {
		if errors.Is(err, leaderboard.ErrNotFound) {
			writeStoreError(w, WrapKind(op, ErrNotFound, err))
			return
		}
		writeStoreError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
