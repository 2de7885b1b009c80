// Package api exposes the shared state store and service operations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/ghostcoop/internal/adapters/leaderboard"
	"github.com/okian/ghostcoop/internal/adapters/store"
	"github.com/okian/ghostcoop/internal/domain/dedupe"
	"github.com/okian/ghostcoop/internal/domain/model"
)

// Default rate limit applied to writes when none is configured.
const (
	defaultRateLimitRPS   = 20
	defaultRateLimitBurst = 40
	requestIDHeader       = "X-Request-ID"
)

// Store is the slice of the shared state store served under /db.
type Store interface {
	Get(ctx context.Context, path string) (store.Snapshot, error)
	Set(ctx context.Context, path string, value any) error
	Update(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	Push(ctx context.Context, path string, value any) (string, error)
	Query(ctx context.Context, path, field string, value any) ([]store.Snapshot, error)
}

// Spawner tops up ghost locations on demand.
type Spawner interface {
	Locations() []model.Location
	SpawnAt(ctx context.Context, name string) ([]string, error)
}

// HistoryReader lists finished captures.
type HistoryReader interface {
	Recent(ctx context.Context, location string, limit int) ([]model.CaptureRecord, error)
}

// LeaderboardReader ranks hunters by points.
type LeaderboardReader interface {
	TopN(ctx context.Context, n int) ([]leaderboard.Entry, error)
	Rank(ctx context.Context, playerID string) (leaderboard.Entry, error)
}

// Server wires HTTP routes for the service.
type Server struct {
	store       Store
	stats       StatsProvider
	spawner     Spawner
	history     HistoryReader
	leaderboard LeaderboardReader
	stream      http.Handler
	docs        func(chi.Router)

	requests dedupe.Deduper
	limiter  *rateLimiter

	healthHandler *HealthHandler
	statsHandler  *StatsHandler
}

// NewServer creates a new API server.
func NewServer(s Store, stats StatsProvider, opts ...Option) *Server {
	srv := &Server{
		store:         s,
		stats:         stats,
		requests:      dedupe.NewInMemoryDeduper(),
		limiter:       newRateLimiter(defaultRateLimitRPS, defaultRateLimitBurst),
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(stats),
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// Routes returns the chi router with every endpoint mounted.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	r.Method(http.MethodGet, "/metrics", s.healthHandler.MetricsHandler())
	r.Get("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	if s.spawner != nil {
		r.Get("/locations", MetricsMiddleware(s.handleLocations, "locations"))
		r.With(s.limiter.Middleware).Post("/locations/{name}/spawn", MetricsMiddleware(s.handleSpawn, "spawn"))
	}
	if s.history != nil {
		r.Get("/captures", MetricsMiddleware(s.handleCaptures, "captures"))
	}
	if s.leaderboard != nil {
		r.Get("/leaderboard", MetricsMiddleware(s.handleLeaderboard, "leaderboard"))
		r.Get("/leaderboard/{playerId}", MetricsMiddleware(s.handlePlayerRank, "leaderboard_rank"))
	}
	if s.stream != nil {
		r.Method(http.MethodGet, "/stream", s.stream)
	}
	if s.docs != nil {
		s.docs(r)
	}

	r.Route("/db", func(r chi.Router) {
		r.Get("/*", MetricsMiddleware(s.handleGet, "db_get"))
		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware)
			r.Put("/*", MetricsMiddleware(s.handleSet, "db_set"))
			r.Patch("/*", MetricsMiddleware(s.handleUpdate, "db_update"))
			r.Post("/*", MetricsMiddleware(s.handlePush, "db_push"))
			r.Delete("/*", MetricsMiddleware(s.handleDelete, "db_delete"))
		})
	})
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeStoreError maps store and API error kinds onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err)
	case errors.Is(err, ErrBadRequest), errors.Is(err, store.ErrInvalidPath), errors.Is(err, store.ErrInvalidValue):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, store.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
