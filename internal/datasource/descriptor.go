// Package datasource manages one connection pool per registered source and
// runs SQL against those pools.
package datasource

import (
	"context"
	"errors"
	"time"
)

// ErrNotRegistered is wrapped by Registry.Lookup when no source has the id.
var ErrNotRegistered = errors.New("source not registered")

// Descriptor holds the connection parameters of one registered source.
// The registry owns descriptors; this package never mutates them.
type Descriptor struct {
	ID              string
	Name            string
	Kind            Kind
	Host            string
	Port            int
	Database        string
	Username        string
	Password        string
	Params          string // extra driver parameters, "k=v&k2=v2"
	Description     string
	Active          bool
	Default         bool
	LastConnectedAt *time.Time
}

// Registry is the persisted catalog of source descriptors.
type Registry interface {
	// Lookup returns the descriptor for id. The error wraps ErrNotRegistered
	// when the id is unknown.
	Lookup(ctx context.Context, id string) (*Descriptor, error)

	// ListDefault returns the default source, or nil when none is flagged.
	ListDefault(ctx context.Context) (*Descriptor, error)
}
