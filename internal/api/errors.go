package api

import (
	"errors"
	"net/http"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/joestump/joe-sources/internal/datasource"
	"github.com/joestump/joe-sources/internal/federation"
	"github.com/joestump/joe-sources/internal/store"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError writes a JSON error response with the given HTTP status code.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, errorBody{Error: message, Code: code})
}

// writeJSON writes a JSON response with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads the request body into v. It writes a 400 and returns
// false when the body is not valid JSON.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "bad_request")
		return false
	}
	return true
}

// writeErr maps a domain error onto a status code and error code. Anything
// unrecognised is logged and reported as a 500 without its message.
func writeErr(w http.ResponseWriter, log *zap.Logger, err error) {
	var (
		cfgErr  *datasource.ConfigError
		connErr *datasource.ConnectionError
		qErr    *datasource.QueryError
	)
	switch {
	case datasource.IsNotRegistered(err), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error(), "not_found")
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusBadRequest, err.Error(), "config_error")
	case errors.As(err, &connErr):
		writeError(w, http.StatusBadGateway, err.Error(), "connection_error")
	case errors.As(err, &qErr):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), "query_error")
	case errors.Is(err, datasource.ErrNoActiveSource):
		writeError(w, http.StatusConflict, err.Error(), "no_active_source")
	case errors.Is(err, store.ErrNameTaken):
		writeError(w, http.StatusConflict, err.Error(), "name_taken")
	case errors.Is(err, store.ErrInvalidSource), errors.Is(err, federation.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error(), "bad_request")
	default:
		log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", "internal_error")
	}
}
