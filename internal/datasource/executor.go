package datasource

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/joestump/joe-sources/internal/metrics"
)

// Executor runs statements against one source's pool. Executors are cheap
// views over a cached pool; they hold no connection between calls.
type Executor struct {
	ID   string
	Name string
	Kind Kind

	db          *sqlx.DB
	dialect     *Dialect
	log         *zap.Logger
	connTimeout time.Duration
}

func (m *Manager) executor(p *pool) *Executor {
	return &Executor{
		ID:          p.id,
		Name:        p.desc.Name,
		Kind:        p.dialect.Kind,
		db:          p.db,
		dialect:     p.dialect,
		log:         m.log,
		connTimeout: m.policy.ConnTimeout,
	}
}

// Execute runs query and materialises every row. The borrowed connection is
// returned to the pool on every path. Only connection acquisition is bounded
// by the pool's connection timeout; the statement itself runs until ctx ends.
func (e *Executor) Execute(ctx context.Context, query string) ([]Record, error) {
	start := time.Now()
	out, err := e.queryRows(ctx, query)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.QueriesTotal.WithLabelValues(string(e.Kind), status).Inc()
	metrics.QueryDuration.WithLabelValues(string(e.Kind)).Observe(time.Since(start).Seconds())

	if err != nil {
		e.log.Debug("query failed", zap.String("source_id", e.ID), zap.Error(err))
		return nil, err
	}
	e.log.Debug("query",
		zap.String("source_id", e.ID),
		zap.Int("rows", len(out)),
		zap.Duration("duration", time.Since(start)))
	return out, nil
}

func (e *Executor) queryRows(ctx context.Context, query string, args ...any) ([]Record, error) {
	conn, err := e.borrow(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, &QueryError{SourceID: e.ID, Query: query, Cause: err}
	}
	defer rows.Close()

	cols, err := rows.ColumnTypes()
	if err != nil {
		return nil, &QueryError{SourceID: e.ID, Query: query, Cause: err}
	}

	var out []Record
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, &QueryError{SourceID: e.ID, Query: query, Cause: err}
		}
		rec := NewRecord(len(cols))
		for i, c := range cols {
			rec.Set(c.Name(), normalize(vals[i], c.DatabaseTypeName()))
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{SourceID: e.ID, Query: query, Cause: err}
	}
	return out, nil
}

// borrow takes a connection from the pool, waiting at most connTimeout.
func (e *Executor) borrow(ctx context.Context) (*sqlx.Conn, error) {
	actx, cancel := context.WithTimeout(ctx, e.connTimeout)
	defer cancel()

	conn, err := e.db.Connx(actx)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ConnectionError{SourceID: e.ID, Cause: err}
	}
	return conn, nil
}

// normalize converts driver values into the Record scalar set: nil, int64,
// float64, bool, string and time.Time.
func normalize(v any, dbType string) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return parseText(string(x), dbType)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x <= 1<<63-1 {
			return int64(x)
		}
		return strconv.FormatUint(x, 10)
	case float32:
		return float64(x)
	default:
		return v
	}
}

// parseText decodes a text-protocol value using the column's reported type.
// Values that do not parse stay strings.
func parseText(s, dbType string) any {
	t := strings.ToUpper(dbType)
	switch {
	case strings.Contains(t, "INT") && !strings.Contains(t, "INTERVAL") && !strings.Contains(t, "POINT"):
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case t == "FLOAT" || t == "DOUBLE" || t == "REAL":
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}
