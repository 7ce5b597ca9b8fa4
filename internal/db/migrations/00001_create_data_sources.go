package migrations

// Column types differ per driver: TEXT/INTEGER/DATETIME on SQLite,
// VARCHAR/TINYINT(1)/DATETIME(6) on MySQL, TEXT/BOOLEAN/TIMESTAMPTZ on
// PostgreSQL.

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreateDataSources, downCreateDataSources)
}

func upCreateDataSources(ctx context.Context, tx *sql.Tx) error {
	var ddl string
	switch dialect {
	case "postgres":
		ddl = `CREATE TABLE IF NOT EXISTS data_sources (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL,
    kind              TEXT NOT NULL,
    host              TEXT NOT NULL DEFAULT '',
    port              INTEGER NOT NULL DEFAULT 0,
    database_name     TEXT NOT NULL DEFAULT '',
    username          TEXT NOT NULL DEFAULT '',
    password          TEXT NOT NULL DEFAULT '',
    params            TEXT NOT NULL DEFAULT '',
    description       TEXT NOT NULL DEFAULT '',
    is_active         BOOLEAN NOT NULL DEFAULT TRUE,
    is_default        BOOLEAN NOT NULL DEFAULT FALSE,
    last_connected_at TIMESTAMPTZ NULL,
    created_at        TIMESTAMPTZ NOT NULL,
    updated_at        TIMESTAMPTZ NOT NULL
)`
	case "mysql":
		ddl = `CREATE TABLE IF NOT EXISTS data_sources (
    id                VARCHAR(36) PRIMARY KEY,
    name              VARCHAR(255) NOT NULL,
    kind              VARCHAR(32) NOT NULL,
    host              VARCHAR(255) NOT NULL DEFAULT '',
    port              INT NOT NULL DEFAULT 0,
    database_name     VARCHAR(1024) NOT NULL DEFAULT '',
    username          VARCHAR(255) NOT NULL DEFAULT '',
    password          VARCHAR(1024) NOT NULL DEFAULT '',
    params            VARCHAR(1024) NOT NULL DEFAULT '',
    description       TEXT NOT NULL,
    is_active         TINYINT(1) NOT NULL DEFAULT 1,
    is_default        TINYINT(1) NOT NULL DEFAULT 0,
    last_connected_at DATETIME(6) NULL,
    created_at        DATETIME(6) NOT NULL,
    updated_at        DATETIME(6) NOT NULL
)`
	default: // sqlite3
		ddl = `CREATE TABLE IF NOT EXISTS data_sources (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL,
    kind              TEXT NOT NULL,
    host              TEXT NOT NULL DEFAULT '',
    port              INTEGER NOT NULL DEFAULT 0,
    database_name     TEXT NOT NULL DEFAULT '',
    username          TEXT NOT NULL DEFAULT '',
    password          TEXT NOT NULL DEFAULT '',
    params            TEXT NOT NULL DEFAULT '',
    description       TEXT NOT NULL DEFAULT '',
    is_active         INTEGER NOT NULL DEFAULT 1,
    is_default        INTEGER NOT NULL DEFAULT 0,
    last_connected_at DATETIME NULL,
    created_at        DATETIME NOT NULL,
    updated_at        DATETIME NOT NULL
)`
	}
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create data_sources table: %w", err)
	}
	return execAll(ctx, tx, []string{
		`CREATE UNIQUE INDEX data_sources_name_idx ON data_sources (name)`,
		`CREATE INDEX data_sources_default_idx ON data_sources (is_default)`,
	})
}

func downCreateDataSources(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS data_sources`)
	return err
}
