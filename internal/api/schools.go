package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/school-rankings-crawler/internal/school"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
	defaultListLimit   = 50
	maxListLimit       = 500
	storeTimeout       = 5 * time.Second
)

// SchoolHandler serves read and correction endpoints for stored schools.
type SchoolHandler struct {
	store   school.Store
	timeout time.Duration
	logger  *zap.Logger
}

// NewSchoolHandler wires the store and logger.
func NewSchoolHandler(store school.Store, logger *zap.Logger) *SchoolHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchoolHandler{store: store, timeout: storeTimeout, logger: logger}
}

// List handles GET /v1/schools?limit=&offset=.
func (h *SchoolHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultListLimit, maxListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	schools, err := h.store.List(ctx, limit, offset)
	if err != nil {
		h.logger.Error("list schools failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list schools")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schools": schools})
}

// Search handles GET /v1/schools/search?name=&limit=.
func (h *SchoolHandler) Search(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	limit, _, err := parseLimitOffset(r, defaultSearchLimit, maxSearchLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	hits, err := h.store.SearchByName(ctx, name, limit)
	if err != nil {
		h.logger.Error("search schools failed", zap.String("name", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to search schools")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schools": hits})
}

// Get handles GET /v1/schools/{id}.
func (h *SchoolHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	id := chi.URLParam(r, "id")
	sc, err := h.store.Get(ctx, id)
	if err != nil {
		h.storeError(w, "get school", id, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// Rankings handles GET /v1/schools/{id}/rankings.
func (h *SchoolHandler) Rankings(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	id := chi.URLParam(r, "id")
	rankings, err := h.store.Rankings(ctx, id)
	if err != nil {
		h.storeError(w, "rankings", id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "rankings": rankings})
}

// Overview handles GET /v1/schools/{id}/overview: the school plus its
// ranking history.
func (h *SchoolHandler) Overview(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	id := chi.URLParam(r, "id")
	sc, err := h.store.Get(ctx, id)
	if err != nil {
		h.storeError(w, "overview", id, err)
		return
	}
	rankings, err := h.store.Rankings(ctx, id)
	if err != nil {
		h.storeError(w, "overview rankings", id, err)
		return
	}
	writeJSON(w, http.StatusOK, school.Overview{School: sc, Rankings: rankings})
}

// Update handles PATCH /v1/schools/{id} with a JSON object of column values.
func (h *SchoolHandler) Update(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var patch school.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := patch.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	id := chi.URLParam(r, "id")
	sc, err := h.store.Update(ctx, id, patch)
	if err != nil {
		h.storeError(w, "update school", id, err)
		return
	}
	h.logger.Info("school updated", zap.String("id", id), zap.Strings("columns", patch.Columns()))
	writeJSON(w, http.StatusOK, sc)
}

// Delete handles DELETE /v1/schools/{id}.
func (h *SchoolHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	id := chi.URLParam(r, "id")
	if err := h.store.Delete(ctx, id); err != nil {
		h.storeError(w, "delete school", id, err)
		return
	}
	h.logger.Info("school deleted", zap.String("id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (h *SchoolHandler) ready(w http.ResponseWriter) bool {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "school store unavailable")
		return false
	}
	return true
}

func (h *SchoolHandler) storeError(w http.ResponseWriter, op, id string, err error) {
	if errors.Is(err, school.ErrNotFound) {
		writeError(w, http.StatusNotFound, "school not found")
		return
	}
	h.logger.Error(op+" failed", zap.String("id", id), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to "+op)
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
