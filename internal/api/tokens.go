package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/joestump/joe-sources/internal/auth"
	"github.com/joestump/joe-sources/internal/datasource"
	"github.com/joestump/joe-sources/internal/store"
)

// tokensAPIHandler provides REST handlers for API token management.
type tokensAPIHandler struct {
	tokens  auth.TokenStore
	manager *datasource.Manager
	log     *zap.Logger
}

// registerTokenRoutes registers token management routes on r.
func registerTokenRoutes(r chi.Router, tokens auth.TokenStore, m *datasource.Manager, log *zap.Logger) {
	h := &tokensAPIHandler{tokens: tokens, manager: m, log: log}
	r.Get("/tokens", h.List)
	r.Post("/tokens", h.Create)
	r.Delete("/tokens/{id}", h.Revoke)
}

func tokenResponse(rec *auth.TokenRecord) TokenResponse {
	item := TokenResponse{
		ID:        rec.ID,
		Name:      rec.Name,
		CreatedAt: rec.CreatedAt,
	}
	if rec.LastUsedAt.Valid {
		t := rec.LastUsedAt.Time
		item.LastUsedAt = &t
	}
	if rec.ExpiresAt.Valid {
		t := rec.ExpiresAt.Time
		item.ExpiresAt = &t
	}
	if rec.RevokedAt.Valid {
		t := rec.RevokedAt.Time
		item.RevokedAt = &t
	}
	return item
}

// List returns every token without its hash.
// GET /api/v1/tokens
func (h *tokensAPIHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.tokens.List(r.Context())
	if err != nil {
		writeErr(w, h.log, err)
		return
	}
	resp := TokenListResponse{Tokens: make([]TokenResponse, 0, len(records))}
	for _, rec := range records {
		resp.Tokens = append(resp.Tokens, tokenResponse(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create generates a new token and returns the plaintext once.
// POST /api/v1/tokens
func (h *tokensAPIHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", "bad_request")
		return
	}

	var expiresAt *time.Time
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "expires_in must be a positive duration", "bad_request")
			return
		}
		t := time.Now().UTC().Add(d)
		expiresAt = &t
	}

	plaintext, hash, err := auth.GenerateToken()
	if err != nil {
		writeErr(w, h.log, err)
		return
	}
	rec, err := h.tokens.Create(r.Context(), req.Name, hash, expiresAt)
	if err != nil {
		writeErr(w, h.log, err)
		return
	}

	item := tokenResponse(rec)
	item.Token = plaintext
	writeJSON(w, http.StatusCreated, item)
}

// Revoke soft-deletes a token and drops its source session.
// DELETE /api/v1/tokens/{id}
func (h *tokensAPIHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.tokens.Revoke(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found", "not_found")
		return
	}
	if err != nil {
		writeErr(w, h.log, err)
		return
	}
	h.manager.CloseSession(id)
	w.WriteHeader(http.StatusNoContent)
}
