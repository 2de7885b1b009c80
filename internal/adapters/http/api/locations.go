package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/okian/ghostcoop/internal/spawner"
)

type spawnResponse struct {
	Location string   `json:"location"`
	Spawned  []string `json:"spawned"`
}

// handleLocations serves GET /locations.
func (s *Server) handleLocations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.spawner.Locations())
}

// handleSpawn serves POST /locations/{name}/spawn.
func (s *Server) handleSpawn(w http.ResponseWriter, r *http.Request) {
	const op = "api.spawn"
	// chi matches on the raw path, so names with spaces arrive escaped.
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		writeStoreError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	ids, err := s.spawner.SpawnAt(r.Context(), name)
	if err != nil {
		if errors.Is(err, spawner.ErrUnknownLocation) {
			writeStoreError(w, WrapKind(op, ErrNotFound, err))
			return
		}
		writeStoreError(w, Wrap(op, err))
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusCreated, spawnResponse{Location: name, Spawned: ids})
}

// handleCaptures serves GET /captures?location=&limit=.
func (s *Server) handleCaptures(w http.ResponseWriter, r *http.Request) {
	const op = "api.captures"
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeStoreError(w, NewKind(op, ErrBadRequest))
			return
		}
		limit = n
	}
	recs, err := s.history.Recent(r.Context(), r.URL.Query().Get("location"), limit)
	if err != nil {
		writeStoreError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, recs)
}
