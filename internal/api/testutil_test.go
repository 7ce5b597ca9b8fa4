package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/joestump/joe-sources/internal/api"
	"github.com/joestump/joe-sources/internal/auth"
	"github.com/joestump/joe-sources/internal/datasource"
	"github.com/joestump/joe-sources/internal/federation"
	"github.com/joestump/joe-sources/internal/store"
	"github.com/joestump/joe-sources/internal/testutil"
)

// testEnv holds all stores and helpers needed for API integration tests.
type testEnv struct {
	Router      http.Handler
	SourceStore *store.SourceStore
	TokenStore  *auth.SQLTokenStore
	Manager     *datasource.Manager
}

// newTestEnv creates an in-memory SQLite registry, runs migrations,
// and wires up the full API router with real stores.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.NewTestDB(t)

	ss := store.NewSourceStore(db)
	ts := auth.NewSQLTokenStore(db)
	m := datasource.NewManager(ss)
	t.Cleanup(func() { _ = m.Close() })

	router := api.NewAPIRouter(api.Deps{
		BearerAuth: auth.NewBearerTokenMiddleware(ts, nil),
		Sources:    ss,
		Tokens:     ts,
		Manager:    m,
		Engine:     federation.NewEngine(m),
	})
	return &testEnv{
		Router:      router,
		SourceStore: ss,
		TokenStore:  ts,
		Manager:     m,
	}
}

// seedToken creates a real API token and returns the plaintext Bearer value.
func seedToken(t *testing.T, env *testEnv) string {
	t.Helper()
	plaintext, hash, err := auth.GenerateToken()
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if _, err := env.TokenStore.Create(context.Background(), "test-token", hash, nil); err != nil {
		t.Fatalf("create token: %v", err)
	}
	return plaintext
}

// authRequest adds a Bearer token to the request.
func authRequest(r *http.Request, token string) *http.Request {
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

// do sends an authenticated request with an optional JSON body.
func do(t *testing.T, env *testEnv, token, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	authRequest(req, token)
	rec := httptest.NewRecorder()
	env.Router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v; body: %s", err, rec.Body.String())
	}
}

// seedSource registers an embedded source through the API.
func seedSource(t *testing.T, env *testEnv, token, name, path string) api.SourceResponse {
	t.Helper()
	rec := do(t, env, token, "POST", "/sources", map[string]any{
		"name":     name,
		"kind":     "embedded",
		"database": path,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create source %s: status = %d; body: %s", name, rec.Code, rec.Body.String())
	}
	var src api.SourceResponse
	decode(t, rec, &src)
	return src
}

func usersDB(t *testing.T) string {
	t.Helper()
	return testutil.NewEmbeddedSource(t,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`INSERT INTO users (id, name) VALUES (1, 'ann'), (2, 'bob'), (3, 'cy')`,
	)
}

func ordersDB(t *testing.T) string {
	t.Helper()
	return testutil.NewEmbeddedSource(t,
		`CREATE TABLE orders (order_id INTEGER PRIMARY KEY, id INTEGER, total REAL)`,
		`INSERT INTO orders (order_id, id, total) VALUES (10, 1, 9.5), (11, 1, 20.0), (12, 3, 4.25)`,
	)
}
