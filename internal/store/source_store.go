package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/joestump/joe-sources/internal/datasource"
)

// Source represents a row in the data_sources table.
type Source struct {
	ID              string       `db:"id"`
	Name            string       `db:"name"`
	Kind            string       `db:"kind"`
	Host            string       `db:"host"`
	Port            int          `db:"port"`
	Database        string       `db:"database_name"`
	Username        string       `db:"username"`
	Password        string       `db:"password"`
	Params          string       `db:"params"`
	Description     string       `db:"description"`
	Active          bool         `db:"is_active"`
	Default         bool         `db:"is_default"`
	LastConnectedAt sql.NullTime `db:"last_connected_at"`
	CreatedAt       time.Time    `db:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
}

// Descriptor converts the row into the connection descriptor used by the
// pool manager.
func (s *Source) Descriptor() *datasource.Descriptor {
	d := &datasource.Descriptor{
		ID:          s.ID,
		Name:        s.Name,
		Kind:        datasource.Kind(s.Kind),
		Host:        s.Host,
		Port:        s.Port,
		Database:    s.Database,
		Username:    s.Username,
		Password:    s.Password,
		Params:      s.Params,
		Description: s.Description,
		Active:      s.Active,
		Default:     s.Default,
	}
	if s.LastConnectedAt.Valid {
		t := s.LastConnectedAt.Time
		d.LastConnectedAt = &t
	}
	return d
}

// SourceInput carries the writable fields of a source. A nil Active means
// active.
type SourceInput struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Database    string `json:"database"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	Params      string `json:"params"`
	Description string `json:"description"`
	Active      *bool  `json:"active"`
	Default     bool   `json:"default"`
}

// Descriptor returns an unregistered descriptor for in, used to test a
// connection before saving.
func (in SourceInput) Descriptor() *datasource.Descriptor {
	return &datasource.Descriptor{
		Name:     in.Name,
		Kind:     datasource.Kind(in.Kind),
		Host:     in.Host,
		Port:     in.Port,
		Database: in.Database,
		Username: in.Username,
		Password: in.Password,
		Params:   in.Params,
		Active:   true,
	}
}

func (in SourceInput) active() bool {
	return in.Active == nil || *in.Active
}

// SourceStore is the sqlx-backed source registry. It implements
// datasource.Registry.
type SourceStore struct {
	db *sqlx.DB
}

// NewSourceStore creates a new SourceStore.
func NewSourceStore(db *sqlx.DB) *SourceStore {
	return &SourceStore{db: db}
}

// q rebinds ? placeholders to the driver's native format ($1,$2,... for PostgreSQL).
func (s *SourceStore) q(query string) string { return s.db.Rebind(query) }

// List returns every source, the default first, then by name.
func (s *SourceStore) List(ctx context.Context) ([]*Source, error) {
	var out []*Source
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM data_sources ORDER BY is_default DESC, name ASC`)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListActive returns active sources ordered like List.
func (s *SourceStore) ListActive(ctx context.Context) ([]*Source, error) {
	var out []*Source
	err := s.db.SelectContext(ctx, &out, s.q(`
		SELECT * FROM data_sources WHERE is_active = ? ORDER BY is_default DESC, name ASC
	`), true)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetByID returns the source matching id, or ErrNotFound.
func (s *SourceStore) GetByID(ctx context.Context, id string) (*Source, error) {
	var src Source
	err := s.db.GetContext(ctx, &src, s.q(`SELECT * FROM data_sources WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &src, nil
}

// Create validates and inserts a source. The first source registered, or
// one created with Default set, becomes the only default.
func (s *SourceStore) Create(ctx context.Context, in SourceInput) (*Source, error) {
	if err := ValidateSource(&in); err != nil {
		return nil, err
	}
	id := uuid.New().String()
	now := time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var n int
	if err := tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM data_sources`); err != nil {
		return nil, err
	}
	isDefault := in.Default || n == 0
	if isDefault {
		if err := clearDefault(ctx, tx); err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO data_sources (id, name, kind, host, port, database_name, username, password,
			params, description, is_active, is_default, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), id, in.Name, in.Kind, in.Host, in.Port, in.Database, in.Username, in.Password,
		in.Params, in.Description, in.active(), isDefault, now, now)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrNameTaken
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// Update replaces the writable fields of id. An empty password keeps the
// stored one. Setting Default makes id the only default; clearing it has no
// effect, use SetDefault on another source instead.
func (s *SourceStore) Update(ctx context.Context, id string, in SourceInput) (*Source, error) {
	if err := ValidateSource(&in); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var cur Source
	err = tx.GetContext(ctx, &cur, tx.Rebind(`SELECT * FROM data_sources WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	password := in.Password
	if password == "" {
		password = cur.Password
	}
	isDefault := cur.Default || in.Default
	if in.Default && !cur.Default {
		if err := clearDefault(ctx, tx); err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		UPDATE data_sources SET name = ?, kind = ?, host = ?, port = ?, database_name = ?,
			username = ?, password = ?, params = ?, description = ?, is_active = ?,
			is_default = ?, updated_at = ?
		WHERE id = ?
	`), in.Name, in.Kind, in.Host, in.Port, in.Database, in.Username, password,
		in.Params, in.Description, in.active(), isDefault, time.Now().UTC(), id)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrNameTaken
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// Delete removes id. When it was the default, the oldest remaining active
// source becomes the default.
func (s *SourceStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var wasDefault bool
	err = tx.GetContext(ctx, &wasDefault, tx.Rebind(`SELECT is_default FROM data_sources WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM data_sources WHERE id = ?`), id); err != nil {
		return err
	}

	if wasDefault {
		var next string
		err = tx.GetContext(ctx, &next, tx.Rebind(`
			SELECT id FROM data_sources WHERE is_active = ? ORDER BY created_at ASC, name ASC LIMIT 1
		`), true)
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return err
		default:
			if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE data_sources SET is_default = ? WHERE id = ?`), true, next); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// SetDefault makes id the only default source.
func (s *SourceStore) SetDefault(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var n int
	if err := tx.GetContext(ctx, &n, tx.Rebind(`SELECT COUNT(*) FROM data_sources WHERE id = ?`), id); err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	if err := clearDefault(ctx, tx); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`
		UPDATE data_sources SET is_default = ?, updated_at = ? WHERE id = ?
	`), true, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// MarkConnected records a successful connection to id.
func (s *SourceStore) MarkConnected(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		UPDATE data_sources SET last_connected_at = ? WHERE id = ?
	`), at.UTC(), id)
	return err
}

// Lookup implements datasource.Registry.
func (s *SourceStore) Lookup(ctx context.Context, id string) (*datasource.Descriptor, error) {
	src, err := s.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("source %s: %w", id, datasource.ErrNotRegistered)
	}
	if err != nil {
		return nil, err
	}
	return src.Descriptor(), nil
}

// ListDefault implements datasource.Registry. It returns nil when no active
// source is flagged default.
func (s *SourceStore) ListDefault(ctx context.Context) (*datasource.Descriptor, error) {
	var src Source
	err := s.db.GetContext(ctx, &src, s.q(`
		SELECT * FROM data_sources WHERE is_default = ? AND is_active = ? LIMIT 1
	`), true, true)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return src.Descriptor(), nil
}

func clearDefault(ctx context.Context, tx *sqlx.Tx) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE data_sources SET is_default = ? WHERE is_default = ?`), false, true)
	return err
}
