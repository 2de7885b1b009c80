package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/ghostcoop/internal/domain/dedupe"
)

// Option configures a Server.
type Option func(*Server)

// WithSpawner enables the /locations endpoints.
func WithSpawner(sp Spawner) Option {
	return func(s *Server) {
		s.spawner = sp
	}
}

// WithHistory enables GET /captures.
func WithHistory(h HistoryReader) Option {
	return func(s *Server) {
		s.history = h
	}
}

// WithLeaderboard enables the /leaderboard endpoints.
func WithLeaderboard(l LeaderboardReader) Option {
	return func(s *Server) {
		s.leaderboard = l
	}
}

// WithStream mounts the websocket event stream at /stream.
func WithStream(h http.Handler) Option {
	return func(s *Server) {
		s.stream = h
	}
}

// WithRequestDeduper replaces the X-Request-ID dedupe set.
func WithRequestDeduper(d dedupe.Deduper) Option {
	return func(s *Server) {
		if d != nil {
			s.requests = d
		}
	}
}

// WithRateLimit sets the per-client write budget.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps > 0 && burst > 0 {
			s.limiter = newRateLimiter(rps, burst)
		}
	}
}

// WithDocs lets register mount documentation routes on the router.
func WithDocs(register func(chi.Router)) Option {
	return func(s *Server) {
		s.docs = register
	}
}
