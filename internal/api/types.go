package api

import (
	"time"

	"github.com/joestump/joe-sources/internal/datasource"
	"github.com/joestump/joe-sources/internal/federation"
	"github.com/joestump/joe-sources/internal/store"
)

// --- Source types ---

// SourceResponse is the JSON representation of a registered source. The
// password is never returned.
type SourceResponse struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Kind            string     `json:"kind"`
	Host            string     `json:"host,omitempty"`
	Port            int        `json:"port,omitempty"`
	Database        string     `json:"database"`
	Username        string     `json:"username,omitempty"`
	HasPassword     bool       `json:"has_password"`
	Params          string     `json:"params,omitempty"`
	Description     string     `json:"description"`
	Active          bool       `json:"active"`
	Default         bool       `json:"default"`
	LastConnectedAt *time.Time `json:"last_connected_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func sourceResponse(s *store.Source) SourceResponse {
	out := SourceResponse{
		ID:          s.ID,
		Name:        s.Name,
		Kind:        s.Kind,
		Host:        s.Host,
		Port:        s.Port,
		Database:    s.Database,
		Username:    s.Username,
		HasPassword: s.Password != "",
		Params:      s.Params,
		Description: s.Description,
		Active:      s.Active,
		Default:     s.Default,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
	if s.LastConnectedAt.Valid {
		t := s.LastConnectedAt.Time
		out.LastConnectedAt = &t
	}
	return out
}

// SourceListResponse is the response for GET /api/v1/sources.
type SourceListResponse struct {
	Sources []SourceResponse `json:"sources"`
}

// SourceTypeResponse describes one supported engine.
type SourceTypeResponse struct {
	Kind        string `json:"kind"`
	Label       string `json:"label"`
	DefaultPort int    `json:"default_port,omitempty"`
	Networked   bool   `json:"networked"`
}

// TableListResponse is the response for GET /api/v1/sources/{id}/tables.
type TableListResponse struct {
	SourceID string             `json:"source_id"`
	Tables   []datasource.Table `json:"tables"`
}

// ColumnListResponse is the response for GET /api/v1/sources/{id}/tables/{table}/columns.
type ColumnListResponse struct {
	SourceID string              `json:"source_id"`
	Table    string              `json:"table"`
	Columns  []datasource.Column `json:"columns"`
}

// TestResponse reports a successful connection test.
type TestResponse struct {
	OK bool `json:"ok"`
}

// --- Session and query types ---

// SwitchSourceRequest is the request body for POST /api/v1/session/source.
type SwitchSourceRequest struct {
	SourceID string `json:"source_id"`
}

// SessionResponse reports the caller's current source. SourceID is empty
// when none is set.
type SessionResponse struct {
	SourceID string `json:"source_id"`
}

// QueryRequest is the request body for POST /api/v1/query. An empty
// SourceID runs the query on the session's current source.
type QueryRequest struct {
	SourceID string `json:"source_id,omitempty"`
	Query    string `json:"query"`
}

// QueryResponse carries the rows of a single-source query.
type QueryResponse struct {
	SourceID string              `json:"source_id,omitempty"`
	Rows     int                 `json:"rows"`
	Records  []datasource.Record `json:"records"`
}

// --- Federation types ---

// FederatedQueryRequest is the request body for POST /api/v1/federation/query.
type FederatedQueryRequest struct {
	SourceIDs []string `json:"source_ids"`
	Query     string   `json:"query"`
}

// AggregateRequest is the request body for POST /api/v1/federation/aggregate.
type AggregateRequest struct {
	SourceIDs []string `json:"source_ids"`
	Table     string   `json:"table"`
	Column    string   `json:"column"`
	Function  string   `json:"function"`
}

// AggregateResponse wraps the per-source entries. Partial is set when at
// least one source failed; the failures are listed in their entries.
type AggregateResponse struct {
	*federation.AggregateResult
	Partial bool `json:"partial"`
}

// --- Token types ---

// CreateTokenRequest is the request body for POST /api/v1/tokens.
// ExpiresIn is a Go duration such as "720h".
type CreateTokenRequest struct {
	Name      string `json:"name"`
	ExpiresIn string `json:"expires_in,omitempty"`
}

// TokenResponse is the JSON representation of an API token. Token holds the
// plaintext only in the create response.
type TokenResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Token      string     `json:"token,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at"`
	ExpiresAt  *time.Time `json:"expires_at"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at"`
}

// TokenListResponse is the response for GET /api/v1/tokens.
type TokenListResponse struct {
	Tokens []TokenResponse `json:"tokens"`
}
