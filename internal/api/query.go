package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/joestump/joe-sources/internal/datasource"
)

type queryAPIHandler struct {
	manager *datasource.Manager
	log     *zap.Logger
}

// Session reports the caller's current source.
// GET /api/v1/session
func (h *queryAPIHandler) Session(w http.ResponseWriter, r *http.Request) {
	resp := SessionResponse{}
	if s := datasource.SessionFromContext(r.Context()); s != nil {
		resp.SourceID = s.CurrentID()
	}
	writeJSON(w, http.StatusOK, resp)
}

// SwitchSource makes a source current for the caller's session. On failure
// the previous source stays current.
// POST /api/v1/session/source
func (h *queryAPIHandler) SwitchSource(w http.ResponseWriter, r *http.Request) {
	var req SwitchSourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s := datasource.SessionFromContext(r.Context())
	if s == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	if err := s.SwitchTo(r.Context(), req.SourceID); err != nil {
		writeErr(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{SourceID: s.CurrentID()})
}

// Query runs one statement on a single source.
// POST /api/v1/query
func (h *queryAPIHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required", "bad_request")
		return
	}

	ex, err := h.manager.ExecutorFor(r.Context(), req.SourceID)
	if err != nil {
		writeErr(w, h.log, err)
		return
	}
	recs, err := ex.Execute(r.Context(), req.Query)
	if err != nil {
		writeErr(w, h.log, err)
		return
	}
	if recs == nil {
		recs = []datasource.Record{}
	}
	writeJSON(w, http.StatusOK, QueryResponse{SourceID: ex.ID, Rows: len(recs), Records: recs})
}

// Stats reports the pool cache.
// GET /api/v1/stats
func (h *queryAPIHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Stats())
}
