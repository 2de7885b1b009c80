package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/okian/ghostcoop/internal/domain/model"
)

const maxBodyBytes = 1 << 20

type writeResponse struct {
	Path      string `json:"path"`
	Key       string `json:"key,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

func dbPath(r *http.Request) string {
	return strings.Trim(chi.URLParam(r, "*"), "/")
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// queryValue reads ?value= as JSON when it parses, otherwise as a string.
func queryValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

// handleGet serves GET /db/{path}; with ?field= it filters children by equality.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.db_get"
	path := dbPath(r)

	if field := r.URL.Query().Get("field"); field != "" {
		snaps, err := s.store.Query(r.Context(), path, field, queryValue(r.URL.Query().Get("value")))
		if err != nil {
			writeStoreError(w, Wrap(op, err))
			return
		}
		out := make(map[string]any, len(snaps))
		for _, snap := range snaps {
			out[snap.Key()] = snap.Value()
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	snap, err := s.store.Get(r.Context(), path)
	if err != nil {
		writeStoreError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, snap.Value())
}

// handleSet serves PUT /db/{path}.
func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	const op = "api.db_set"
	path := dbPath(r)
	var body any
	if err := decodeBody(w, r, &body); err != nil {
		writeStoreError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := s.checkWritable(r.Context(), op, path); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.store.Set(r.Context(), path, body); err != nil {
		writeStoreError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, writeResponse{Path: path})
}

// handleUpdate serves PATCH /db/{path} with a map of relative field paths.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	const op = "api.db_update"
	path := dbPath(r)
	var fields map[string]any
	if err := decodeBody(w, r, &fields); err != nil {
		writeStoreError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if len(fields) == 0 {
		writeStoreError(w, WrapKind(op, ErrBadRequest, fmt.Errorf("no fields")))
		return
	}
	for rel := range fields {
		if err := s.checkWritable(r.Context(), op, model.JoinPath(path, strings.Trim(rel, "/"))); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	if err := s.store.Update(r.Context(), path, fields); err != nil {
		writeStoreError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, writeResponse{Path: path})
}

// handlePush serves POST /db/{path}. A repeated X-Request-ID is acknowledged
// without a second write.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	const op = "api.db_push"
	path := dbPath(r)
	var body any
	if err := decodeBody(w, r, &body); err != nil {
		writeStoreError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := s.checkWritable(r.Context(), op, path+"/_"); err != nil {
		writeStoreError(w, err)
		return
	}

	requestID := r.Header.Get(requestIDHeader)
	if requestID != "" && s.requests.SeenAndRecord(r.Context(), requestID) {
		writeJSON(w, http.StatusOK, writeResponse{Path: path, Duplicate: true})
		return
	}
	key, err := s.store.Push(r.Context(), path, body)
	if err != nil {
		if requestID != "" {
			s.requests.Unrecord(r.Context(), requestID)
		}
		writeStoreError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, writeResponse{Path: model.JoinPath(path, key), Key: key})
}

// handleDelete serves DELETE /db/{path}.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	const op = "api.db_delete"
	path := dbPath(r)
	if err := s.checkWritable(r.Context(), op, path); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.store.Delete(r.Context(), path); err != nil {
		writeStoreError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, writeResponse{Path: path})
}

// checkWritable rejects client writes that would touch coordinator-owned
// state. Whole ghost records belong to the spawner and the coordinator;
// clients write only attempts and completion markers of an existing ghost.
func (s *Server) checkWritable(ctx context.Context, op, path string) error {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if segs[0] == "" {
		return WrapKind(op, ErrForbidden, fmt.Errorf("root is read-only"))
	}
	switch segs[0] {
	case model.UsersRoot, model.NotificationsRoot:
		return WrapKind(op, ErrForbidden, fmt.Errorf("%s is written by the coordinator", segs[0]))
	case model.GhostsRoot:
	default:
		return nil
	}
	if len(segs) <= 2 {
		return WrapKind(op, ErrForbidden, fmt.Errorf("ghost records are read-only"))
	}
	if !slices.Contains(model.ClientGhostFields, segs[2]) {
		return WrapKind(op, ErrForbidden, fmt.Errorf("field %s is written by the coordinator", segs[2]))
	}

	snap, err := s.store.Get(ctx, model.GhostPath(segs[1]))
	if err != nil {
		return Wrap(op, err)
	}
	var g model.Ghost
	if err := snap.Decode(&g); err != nil || !g.Spawned() {
		return WrapKind(op, ErrNotFound, fmt.Errorf("ghost %s does not exist", segs[1]))
	}
	return nil
}
