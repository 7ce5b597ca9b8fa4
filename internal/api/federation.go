package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/joestump/joe-sources/internal/datasource"
	"github.com/joestump/joe-sources/internal/federation"
)

type federationAPIHandler struct {
	engine *federation.Engine
	log    *zap.Logger
}

// Query runs one statement on every listed source and concatenates the rows.
// POST /api/v1/federation/query
func (h *federationAPIHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req FederatedQueryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.engine.ExecuteAcross(r.Context(), req.SourceIDs, req.Query)
	if err != nil {
		writeErr(w, h.log, err)
		return
	}
	if res.Records == nil {
		res.Records = []federation.FederatedRecord{}
	}
	writeJSON(w, http.StatusOK, res)
}

// Join inner-joins two tables on different sources.
// POST /api/v1/federation/join
func (h *federationAPIHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req federation.JoinRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.engine.JoinAcross(r.Context(), req)
	if err != nil {
		writeErr(w, h.log, err)
		return
	}
	if res.Records == nil {
		res.Records = []datasource.Record{}
	}
	writeJSON(w, http.StatusOK, res)
}

// Aggregate computes one aggregate per source. Failing sources are reported
// in their entries and the response is still 200.
// POST /api/v1/federation/aggregate
func (h *federationAPIHandler) Aggregate(w http.ResponseWriter, r *http.Request) {
	var req AggregateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.engine.AggregateAcross(r.Context(), req.SourceIDs, req.Table, req.Column, req.Function)
	if err != nil {
		writeErr(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, AggregateResponse{AggregateResult: res, Partial: res.Err() != nil})
}
