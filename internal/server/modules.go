package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/stuartw843/flow-learning-hub/internal/module"
)

// listModules returns every module ordered by position.
func (s *Server) listModules(w http.ResponseWriter, r *http.Request) {
	mods, err := s.store.List(r.Context())
	if err != nil {
		s.storeError(w, "list modules", err)
		return
	}
	if mods == nil {
		mods = []module.Module{}
	}
	writeJSON(w, http.StatusOK, mods)
}

// createModule appends a new module at the end of the order.
func (s *Server) createModule(w http.ResponseWriter, r *http.Request) {
	var m module.Module
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := m.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := s.store.Create(r.Context(), m)
	if err != nil {
		s.storeError(w, "create module", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// getModule returns one module by ID.
func (s *Server) getModule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	m, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.storeError(w, "get module", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// updateModule replaces the mutable fields of one module.
func (s *Server) updateModule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var m module.Module
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	m.ID = id
	if err := m.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := s.store.Update(r.Context(), m)
	if err != nil {
		s.storeError(w, "update module", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// deleteModule removes one module and compacts positions.
func (s *Server) deleteModule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.Delete(r.Context(), id); err != nil {
		s.storeError(w, "delete module", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// plainContentRequest is the body of PUT /api/modules/{id}/plain.
type plainContentRequest struct {
	PlainContent string `json:"plain_content"`
}

// updatePlainContent overwrites only the plain-text context of one module.
// The session client uses this for debounced transcript persistence so a
// working-copy write cannot clobber concurrent edits to other fields.
func (s *Server) updatePlainContent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req plainContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.store.UpdatePlainContent(r.Context(), id, req.PlainContent); err != nil {
		s.storeError(w, "update plain content", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// reorderRequest is the body of POST /api/modules/reorder.
type reorderRequest struct {
	// OrderedIDs names every module exactly once, in the desired order.
	OrderedIDs []int64 `json:"orderedIds"`
}

// reorderModules rewrites the position of every module to match the
// request order. Partial or duplicated ID lists are rejected and no
// positions change.
func (s *Server) reorderModules(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.OrderedIDs) == 0 {
		writeError(w, http.StatusBadRequest, "orderedIds must not be empty")
		return
	}
	if err := s.store.Reorder(r.Context(), req.OrderedIDs); err != nil {
		if errors.Is(err, module.ErrNotFound) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.storeError(w, "reorder modules", err)
		return
	}
	mods, err := s.store.List(r.Context())
	if err != nil {
		s.storeError(w, "list modules", err)
		return
	}
	writeJSON(w, http.StatusOK, mods)
}

// pathID extracts and parses the {id} path segment. On failure it writes
// the error response and returns ok=false.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid module id")
		return 0, false
	}
	return id, true
}

// storeError maps store failures onto HTTP statuses.
func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, module.ErrNotFound) {
		writeError(w, http.StatusNotFound, "module not found")
		return
	}
	slog.Error("store operation failed", "op", op, "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
