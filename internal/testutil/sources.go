package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/joestump/joe-sources/internal/datasource"
)

// NewEmbeddedSource creates a SQLite file under t.TempDir, runs stmts against
// it and returns the file path.
func NewEmbeddedSource(t *testing.T, stmts ...string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), uuid.NewString()+".db")
	conn, err := sqlx.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open embedded source: %v", err)
	}
	defer conn.Close()

	for _, s := range stmts {
		if _, err := conn.Exec(s); err != nil {
			t.Fatalf("seed embedded source: %q: %v", s, err)
		}
	}
	return path
}

// EmbeddedDescriptor returns an active embedded descriptor for path.
func EmbeddedDescriptor(id, name, path string) *datasource.Descriptor {
	return &datasource.Descriptor{
		ID:       id,
		Name:     name,
		Kind:     datasource.KindEmbedded,
		Database: path,
		Active:   true,
	}
}

// Registry is an in-memory datasource.Registry.
type Registry struct {
	mu      sync.Mutex
	sources map[string]*datasource.Descriptor
}

// NewRegistry returns a registry holding descs.
func NewRegistry(descs ...*datasource.Descriptor) *Registry {
	r := &Registry{sources: make(map[string]*datasource.Descriptor)}
	for _, d := range descs {
		r.Put(d)
	}
	return r
}

// Put adds or replaces a descriptor.
func (r *Registry) Put(d *datasource.Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.sources[d.ID] = &cp
}

// Delete removes id.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sources, id)
}

func (r *Registry) Lookup(_ context.Context, id string) (*datasource.Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.sources[id]
	if !ok {
		return nil, fmt.Errorf("source %q: %w", id, datasource.ErrNotRegistered)
	}
	cp := *d
	return &cp, nil
}

func (r *Registry) ListDefault(_ context.Context) (*datasource.Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.sources {
		if d.Default {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}
