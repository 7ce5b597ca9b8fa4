// Package api exposes the source registry, queries and federated operations
// as a JSON HTTP API under /api/v1.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/joestump/joe-sources/internal/auth"
	"github.com/joestump/joe-sources/internal/datasource"
	"github.com/joestump/joe-sources/internal/federation"
	"github.com/joestump/joe-sources/internal/store"
)

// Deps holds all dependencies required to build the API router.
type Deps struct {
	BearerAuth *auth.BearerTokenMiddleware
	Sources    *store.SourceStore
	Tokens     auth.TokenStore
	Manager    *datasource.Manager
	Engine     *federation.Engine
	Logger     *zap.Logger
}

// NewAPIRouter creates a chi sub-router for /api/v1.
// All routes require Bearer token authentication and return application/json.
func NewAPIRouter(deps Deps) chi.Router {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(log))
	r.Use(jsonContentType)
	r.Use(deps.BearerAuth.Authenticate)
	r.Use(withSession(deps.Manager))

	sh := &sourcesAPIHandler{sources: deps.Sources, manager: deps.Manager, log: log}
	r.Get("/sources", sh.List)
	r.Post("/sources", sh.Create)
	r.Get("/sources/types", sh.Types)
	r.Post("/sources/test", sh.Test)
	r.Get("/sources/{id}", sh.Get)
	r.Put("/sources/{id}", sh.Update)
	r.Delete("/sources/{id}", sh.Delete)
	r.Put("/sources/{id}/default", sh.SetDefault)
	r.Get("/sources/{id}/tables", sh.Tables)
	r.Get("/sources/{id}/tables/{table}/columns", sh.Columns)

	qh := &queryAPIHandler{manager: deps.Manager, log: log}
	r.Get("/session", qh.Session)
	r.Post("/session/source", qh.SwitchSource)
	r.Post("/query", qh.Query)
	r.Get("/stats", qh.Stats)

	fh := &federationAPIHandler{engine: deps.Engine, log: log}
	r.Post("/federation/query", fh.Query)
	r.Post("/federation/join", fh.Join)
	r.Post("/federation/aggregate", fh.Aggregate)

	registerTokenRoutes(r, deps.Tokens, deps.Manager, log)

	return r
}

// jsonContentType is a middleware that sets Content-Type: application/json on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// withSession attaches the caller's source session to the request context.
// Sessions are keyed by token id, so each token switches sources on its own.
func withSession(m *datasource.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := auth.TokenFromContext(r.Context())
			if tok == nil {
				next.ServeHTTP(w, r)
				return
			}
			s := m.Session(r.Context(), tok.ID)
			next.ServeHTTP(w, r.WithContext(datasource.WithSession(r.Context(), s)))
		})
	}
}

func accessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)))
		})
	}
}
