package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

type contextKey struct{}

// TokenFromContext returns the authenticated token record, or nil.
func TokenFromContext(ctx context.Context) *TokenRecord {
	rec, _ := ctx.Value(contextKey{}).(*TokenRecord)
	return rec
}

// WithToken returns a copy of ctx carrying rec.
func WithToken(ctx context.Context, rec *TokenRecord) context.Context {
	return context.WithValue(ctx, contextKey{}, rec)
}

// BearerTokenMiddleware authenticates API requests via Bearer token.
type BearerTokenMiddleware struct {
	tokens TokenStore
	log    *zap.Logger
}

// NewBearerTokenMiddleware creates a new BearerTokenMiddleware.
func NewBearerTokenMiddleware(ts TokenStore, log *zap.Logger) *BearerTokenMiddleware {
	if log == nil {
		log = zap.NewNop()
	}
	return &BearerTokenMiddleware{tokens: ts, log: log}
}

// Authenticate is an http.Handler middleware that extracts and validates a
// Bearer token. A valid token is injected into the request context and its
// last_used_at is updated asynchronously. Anything else gets a 401.
func (m *BearerTokenMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeUnauthorized(w)
			return
		}
		plaintext := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if plaintext == "" {
			writeUnauthorized(w)
			return
		}

		rec, err := m.tokens.GetByHash(r.Context(), HashToken(plaintext))
		if err != nil || !rec.Usable(time.Now()) {
			writeUnauthorized(w)
			return
		}

		go func(id string) {
			if err := m.tokens.UpdateLastUsed(context.Background(), id); err != nil {
				m.log.Warn("update token last_used_at", zap.String("token_id", id), zap.Error(err))
			}
		}(rec.ID)

		next.ServeHTTP(w, r.WithContext(WithToken(r.Context(), rec)))
	})
}

// writeUnauthorized writes a 401 JSON response with {"error": "unauthorized"}.
func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}
