package datasource

import (
	"context"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Table is one catalog entry. Rows is the engine's estimate and may be 0.
type Table struct {
	Name    string `json:"name"`
	Comment string `json:"comment,omitempty"`
	Rows    int64  `json:"rows"`
}

// Column describes one table column.
type Column struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Nullable bool    `json:"nullable"`
	Default  *string `json:"default,omitempty"`
	Comment  string  `json:"comment,omitempty"`
}

// Tables lists the tables of the source. Catalog queries are tried in
// dialect order and the first non-empty answer wins. Introspection is
// best-effort: when every query fails the result is empty, not an error.
func (e *Executor) Tables(ctx context.Context) []Table {
	recs := e.firstNonEmpty(ctx, e.dialect.TableQueries)
	out := make([]Table, 0, len(recs))
	for _, r := range recs {
		v, _ := r.Get("row_count")
		out = append(out, Table{
			Name:    r.String("name"),
			Comment: r.String("comment"),
			Rows:    toInt64(v),
		})
	}
	return out
}

// Columns lists the columns of table in ordinal order, with the same
// fallback rules as Tables.
func (e *Executor) Columns(ctx context.Context, table string) []Column {
	recs := e.firstNonEmpty(ctx, e.dialect.ColumnQueries, table)
	out := make([]Column, 0, len(recs))
	for _, r := range recs {
		c := Column{
			Name:     r.String("name"),
			Type:     r.String("type"),
			Nullable: !strings.EqualFold(r.String("nullable"), "NO"),
			Comment:  r.String("comment"),
		}
		if v, ok := r.Get("default_value"); ok && v != nil {
			d := r.String("default_value")
			c.Default = &d
		}
		out = append(out, c)
	}
	return out
}

func (e *Executor) firstNonEmpty(ctx context.Context, queries []string, args ...any) []Record {
	for i, q := range queries {
		recs, err := e.queryRows(ctx, sqlx.Rebind(e.dialect.BindType, q), args...)
		if err != nil {
			e.log.Debug("catalog query failed",
				zap.String("source_id", e.ID), zap.Int("attempt", i+1), zap.Error(err))
			continue
		}
		if len(recs) > 0 {
			return recs
		}
	}
	return nil
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case float64:
		return int64(x)
	case string:
		n, _ := strconv.ParseInt(x, 10, 64)
		return n
	}
	return 0
}
