package datasource

import (
	"errors"
	"fmt"
)

// ErrNoActiveSource is returned when a call omits the source id and no
// current source is set for the caller's session.
var ErrNoActiveSource = errors.New("no active source: switch to a source first")

// ConfigError reports a descriptor that cannot be turned into a pool: the id
// is unknown, the kind is unsupported, or the descriptor is incomplete.
type ConfigError struct {
	SourceID string
	Reason   string
	Cause    error
}

func (e *ConfigError) Error() string {
	msg := "config error"
	if e.SourceID != "" {
		msg += " for source " + e.SourceID
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ConnectionError reports a pool that could not be opened, probed or
// borrowed from. A pool that fails its liveness probe has already been
// evicted when this error is returned.
type ConnectionError struct {
	SourceID string
	Cause    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error for source %s: %v", e.SourceID, e.Cause)
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// QueryError wraps a driver failure while running a statement.
type QueryError struct {
	SourceID string
	Query    string
	Cause    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query error on source %s: %v", e.SourceID, e.Cause)
}

func (e *QueryError) Unwrap() error {
	return e.Cause
}

// IsNotRegistered reports whether err is a ConfigError caused by an unknown
// source id.
func IsNotRegistered(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce) && errors.Is(ce.Cause, ErrNotRegistered)
}
