package datasource

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Kind identifies the database engine behind a source.
type Kind string

const (
	KindMySQL      Kind = "mysql"
	KindPostgreSQL Kind = "postgresql"
	KindEmbedded   Kind = "embedded"
)

// Dialect bundles everything kind-specific: how to reach the engine, how to
// probe it and how to read its catalog. Adding an engine means adding one
// entry to the dialects table.
type Dialect struct {
	Kind        Kind
	Label       string
	DriverName  string
	DefaultPort int // 0 for in-process engines
	BindType    int // sqlx bind type for catalog query parameters

	// ProbeQuery is run on a borrowed connection to prove the pool works.
	ProbeQuery string

	// TableQueries and ColumnQueries are tried in order, vendor-native first
	// and ANSI information_schema last. Table queries return name, comment
	// and row_count; column queries take the table name as their only
	// parameter and return name, type, nullable, default_value and comment.
	TableQueries  []string
	ColumnQueries []string

	dsn func(d *Descriptor, p PoolPolicy) (string, error)
}

// Networked reports whether the engine is reached over the network.
func (d *Dialect) Networked() bool {
	return d.DefaultPort != 0
}

// DSN builds the driver connection string for desc.
func (d *Dialect) DSN(desc *Descriptor, p PoolPolicy) (string, error) {
	return d.dsn(desc, p.withDefaults())
}

const (
	ansiTables = `SELECT table_name AS name, '' AS comment, 0 AS row_count
FROM information_schema.tables
WHERE table_type = 'BASE TABLE'
  AND table_schema NOT IN ('information_schema', 'pg_catalog', 'mysql', 'performance_schema', 'sys')
ORDER BY table_name`

	ansiColumns = `SELECT column_name AS name, data_type AS type, is_nullable AS nullable,
       column_default AS default_value, '' AS comment
FROM information_schema.columns
WHERE table_name = ?
ORDER BY ordinal_position`
)

var dialects = map[Kind]*Dialect{
	KindMySQL: {
		Kind:        KindMySQL,
		Label:       "MySQL",
		DriverName:  "mysql",
		DefaultPort: 3306,
		BindType:    sqlx.QUESTION,
		ProbeQuery:  "SELECT 1",
		TableQueries: []string{
			`SELECT table_name AS name, COALESCE(table_comment, '') AS comment, COALESCE(table_rows, 0) AS row_count
FROM information_schema.tables
WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'
ORDER BY table_name`,
			ansiTables,
		},
		ColumnQueries: []string{
			`SELECT column_name AS name, column_type AS type, is_nullable AS nullable,
       column_default AS default_value, COALESCE(column_comment, '') AS comment
FROM information_schema.columns
WHERE table_schema = DATABASE() AND table_name = ?
ORDER BY ordinal_position`,
			ansiColumns,
		},
		dsn: mysqlDSN,
	},
	KindPostgreSQL: {
		Kind:        KindPostgreSQL,
		Label:       "PostgreSQL",
		DriverName:  "pgx",
		DefaultPort: 5432,
		BindType:    sqlx.DOLLAR,
		ProbeQuery:  "SELECT 1",
		TableQueries: []string{
			`SELECT c.relname AS name, COALESCE(obj_description(c.oid, 'pg_class'), '') AS comment,
       GREATEST(c.reltuples, 0)::bigint AS row_count
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('r', 'p') AND n.nspname = current_schema()
ORDER BY c.relname`,
			ansiTables,
		},
		ColumnQueries: []string{
			`SELECT a.attname AS name, format_type(a.atttypid, a.atttypmod) AS type,
       CASE WHEN a.attnotnull THEN 'NO' ELSE 'YES' END AS nullable,
       pg_get_expr(d.adbin, d.adrelid) AS default_value,
       COALESCE(col_description(a.attrelid, a.attnum), '') AS comment
FROM pg_catalog.pg_attribute a
JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
LEFT JOIN pg_catalog.pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
WHERE c.relname = ? AND n.nspname = current_schema() AND a.attnum > 0 AND NOT a.attisdropped
ORDER BY a.attnum`,
			ansiColumns,
		},
		dsn: postgresDSN,
	},
	KindEmbedded: {
		Kind:       KindEmbedded,
		Label:      "Embedded (SQLite)",
		DriverName: "sqlite",
		BindType:   sqlx.QUESTION,
		ProbeQuery: "SELECT 1",
		TableQueries: []string{
			`SELECT name, '' AS comment, 0 AS row_count
FROM sqlite_master
WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
ORDER BY name`,
			ansiTables,
		},
		ColumnQueries: []string{
			`SELECT name, type, CASE WHEN "notnull" = 1 THEN 'NO' ELSE 'YES' END AS nullable,
       dflt_value AS default_value, '' AS comment
FROM pragma_table_info(?)
ORDER BY cid`,
			ansiColumns,
		},
		dsn: embeddedDSN,
	},
}

// ParseKind normalises a kind name. Unknown names fail with a ConfigError.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := dialects[k]; !ok {
		return "", &ConfigError{Reason: fmt.Sprintf("unsupported source kind %q", s)}
	}
	return k, nil
}

// DialectFor returns the dialect registered for kind.
func DialectFor(kind Kind) (*Dialect, error) {
	d, ok := dialects[Kind(strings.ToLower(string(kind)))]
	if !ok {
		return nil, &ConfigError{Reason: fmt.Sprintf("unsupported source kind %q", kind)}
	}
	return d, nil
}

// Dialects lists every supported dialect ordered by kind.
func Dialects() []*Dialect {
	out := make([]*Dialect, 0, len(dialects))
	for _, d := range dialects {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

func port(desc *Descriptor, def int) int {
	if desc.Port > 0 {
		return desc.Port
	}
	return def
}

func mysqlDSN(desc *Descriptor, p PoolPolicy) (string, error) {
	if desc.Host == "" {
		return "", &ConfigError{SourceID: desc.ID, Reason: "host is required"}
	}
	cfg := mysql.NewConfig()
	cfg.User = desc.Username
	cfg.Passwd = desc.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(desc.Host, strconv.Itoa(port(desc, 3306)))
	cfg.DBName = desc.Database
	cfg.Timeout = p.ConnTimeout
	cfg.ParseTime = true
	if desc.Params != "" {
		params, err := url.ParseQuery(desc.Params)
		if err != nil {
			return "", &ConfigError{SourceID: desc.ID, Reason: "invalid params", Cause: err}
		}
		cfg.Params = make(map[string]string, len(params))
		for k := range params {
			cfg.Params[k] = params.Get(k)
		}
	}
	return cfg.FormatDSN(), nil
}

func postgresDSN(desc *Descriptor, p PoolPolicy) (string, error) {
	if desc.Host == "" {
		return "", &ConfigError{SourceID: desc.ID, Reason: "host is required"}
	}
	q := url.Values{}
	if desc.Params != "" {
		parsed, err := url.ParseQuery(desc.Params)
		if err != nil {
			return "", &ConfigError{SourceID: desc.ID, Reason: "invalid params", Cause: err}
		}
		q = parsed
	}
	if q.Get("sslmode") == "" {
		q.Set("sslmode", "prefer")
	}
	if q.Get("connect_timeout") == "" {
		q.Set("connect_timeout", strconv.Itoa(int(p.ConnTimeout.Seconds())))
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(desc.Username, desc.Password),
		Host:     net.JoinHostPort(desc.Host, strconv.Itoa(port(desc, 5432))),
		Path:     "/" + desc.Database,
		RawQuery: q.Encode(),
	}
	return u.String(), nil
}

// embeddedDSN opens the SQLite file named by Database in-process.
func embeddedDSN(desc *Descriptor, p PoolPolicy) (string, error) {
	if desc.Database == "" {
		return "", &ConfigError{SourceID: desc.ID, Reason: "database file path is required"}
	}
	q := url.Values{}
	if desc.Params != "" {
		parsed, err := url.ParseQuery(desc.Params)
		if err != nil {
			return "", &ConfigError{SourceID: desc.ID, Reason: "invalid params", Cause: err}
		}
		q = parsed
	}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", p.ConnTimeout.Milliseconds()))
	return desc.Database + "?" + q.Encode(), nil
}
