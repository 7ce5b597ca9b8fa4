package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/joestump/joe-sources/internal/datasource"
	"github.com/joestump/joe-sources/internal/store"
)

// sourcesAPIHandler manages the source registry and keeps the pool manager
// in step with it.
type sourcesAPIHandler struct {
	sources *store.SourceStore
	manager *datasource.Manager
	log     *zap.Logger
}

// List returns every registered source.
// GET /api/v1/sources
func (h *sourcesAPIHandler) List(w http.ResponseWriter, r *http.Request) {
	srcs, err := h.sources.List(r.Context())
	if err != nil {
		writeErr(w, h.log, err)
		return
	}
	resp := SourceListResponse{Sources: make([]SourceResponse, 0, len(srcs))}
	for _, s := range srcs {
		resp.Sources = append(resp.Sources, sourceResponse(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get returns one source.
// GET /api/v1/sources/{id}
func (h *sourcesAPIHandler) Get(w http.ResponseWriter, r *http.Request) {
	src, err := h.sources.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, sourceResponse(src))
}

// Create tests the connection, registers the source and warms its pool.
// A source that cannot be reached is not registered.
// POST /api/v1/sources
func (h *sourcesAPIHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in store.SourceInput
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := store.ValidateSource(&in); err != nil {
		writeErr(w, h.log, err)
		return
	}
	if err := h.manager.Test(r.Context(), in.Descriptor()); err != nil {
		writeErr(w, h.log, err)
		return
	}

	src, err := h.sources.Create(r.Context(), in)
	if err != nil {
		writeErr(w, h.log, err)
		return
	}
	h.warm(r, src)
	h.log.Info("source registered",
		zap.String("source_id", src.ID), zap.String("source", src.Name), zap.String("kind", src.Kind))

	if src, err = h.sources.GetByID(r.Context(), src.ID); err != nil {
		writeErr(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, sourceResponse(src))
}

// warm opens the pool for an active source and records the connection time.
// Failures are logged; the source stays registered.
func (h *sourcesAPIHandler) warm(r *http.Request, src *store.Source) {
	if !src.Active {
		return
	}
	if _, err := h.manager.Get(r.Context(), src.ID); err != nil {
		h.log.Warn("warm pool", zap.String("source_id", src.ID), zap.Error(err))
		return
	}
	if err := h.sources.MarkConnected(r.Context(), src.ID, time.Now()); err != nil {
		h.log.Warn("mark connected", zap.String("source_id", src.ID), zap.Error(err))
	}
}

// Update replaces a source's settings and refreshes its pool. An empty
// password keeps the stored one.
// PUT /api/v1/sources/{id}
func (h *sourcesAPIHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var in store.SourceInput
	if !decodeJSON(w, r, &in) {
		return
	}
	src, err := h.sources.Update(r.Context(), id, in)
	if err != nil {
		writeErr(w, h.log, err)
		return
	}
	if err := h.manager.Refresh(r.Context(), id); err != nil {
		h.log.Warn("refresh after update", zap.String("source_id", id), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, sourceResponse(src))
}

// Delete unregisters a source and disposes its pool.
// DELETE /api/v1/sources/{id}
func (h *sourcesAPIHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.sources.Delete(r.Context(), id); err != nil {
		writeErr(w, h.log, err)
		return
	}
	h.manager.Remove(id)
	w.WriteHeader(http.StatusNoContent)
}

// SetDefault makes a source the default for new sessions.
// PUT /api/v1/sources/{id}/default
func (h *sourcesAPIHandler) SetDefault(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.sources.SetDefault(r.Context(), id); err != nil {
		writeErr(w, h.log, err)
		return
	}
	src, err := h.sources.GetByID(r.Context(), id)
	if err != nil {
		writeErr(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, sourceResponse(src))
}

// Test checks that the given settings reach a live database without
// registering anything.
// POST /api/v1/sources/test
func (h *sourcesAPIHandler) Test(w http.ResponseWriter, r *http.Request) {
	var in store.SourceInput
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := store.ValidateSource(&in); err != nil {
		writeErr(w, h.log, err)
		return
	}
	if err := h.manager.Test(r.Context(), in.Descriptor()); err != nil {
		writeErr(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, TestResponse{OK: true})
}

// Types lists the supported engines.
// GET /api/v1/sources/types
func (h *sourcesAPIHandler) Types(w http.ResponseWriter, r *http.Request) {
	ds := datasource.Dialects()
	out := make([]SourceTypeResponse, 0, len(ds))
	for _, d := range ds {
		out = append(out, SourceTypeResponse{
			Kind:        string(d.Kind),
			Label:       d.Label,
			DefaultPort: d.DefaultPort,
			Networked:   d.Networked(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// Tables lists a source's tables.
// GET /api/v1/sources/{id}/tables
func (h *sourcesAPIHandler) Tables(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ex, err := h.manager.Get(r.Context(), id)
	if err != nil {
		writeErr(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, TableListResponse{SourceID: id, Tables: ex.Tables(r.Context())})
}

// Columns lists the columns of one table.
// GET /api/v1/sources/{id}/tables/{table}/columns
func (h *sourcesAPIHandler) Columns(w http.ResponseWriter, r *http.Request) {
	id, table := chi.URLParam(r, "id"), chi.URLParam(r, "table")
	ex, err := h.manager.Get(r.Context(), id)
	if err != nil {
		writeErr(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, ColumnListResponse{
		SourceID: id,
		Table:    table,
		Columns:  ex.Columns(r.Context(), table),
	})
}
