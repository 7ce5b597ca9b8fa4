package federation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/joestump/joe-sources/internal/metrics"
)

var aggregateFuncs = map[string]bool{
	"COUNT": true,
	"SUM":   true,
	"AVG":   true,
	"MIN":   true,
	"MAX":   true,
}

// AggregateEntry is the outcome for one source. Exactly one of Value and
// Err is meaningful.
type AggregateEntry struct {
	SourceID   string `json:"source_id"`
	SourceName string `json:"source_name,omitempty"`
	Value      any    `json:"value"`
	Error      string `json:"error,omitempty"`
	Err        error  `json:"-"`
}

// OK reports whether the source answered.
func (a AggregateEntry) OK() bool {
	return a.Err == nil
}

// AggregateResult holds one entry per requested source, in request order.
// Values are not merged across sources.
type AggregateResult struct {
	Function string           `json:"function"`
	Table    string           `json:"table"`
	Column   string           `json:"column"`
	Entries  []AggregateEntry `json:"entries"`
}

// Err returns a *PartialFederationError when any source failed, nil
// otherwise.
func (r *AggregateResult) Err() error {
	pe := &PartialFederationError{}
	for _, en := range r.Entries {
		if en.Err != nil {
			pe.Failures = append(pe.Failures, SourceFailure{SourceID: en.SourceID, Err: en.Err})
		} else {
			pe.Succeeded++
		}
	}
	if len(pe.Failures) == 0 {
		return nil
	}
	return pe
}

// SourceFailure records why one source produced no value.
type SourceFailure struct {
	SourceID string
	Err      error
}

// PartialFederationError reports sources that failed during AggregateAcross
// while others may have succeeded.
type PartialFederationError struct {
	Failures  []SourceFailure
	Succeeded int
}

func (e *PartialFederationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.SourceID, f.Err))
	}
	return fmt.Sprintf("aggregate failed on %d of %d sources: %s",
		len(e.Failures), len(e.Failures)+e.Succeeded, strings.Join(parts, "; "))
}

// Unwrap exposes every per-source cause to errors.Is and errors.As.
func (e *PartialFederationError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f.Err)
	}
	return out
}

// AggregateAcross runs SELECT fn(column) on table at every source and
// returns one entry per source. A failing source is recorded and the rest
// still run; no retries are made. The returned error is reserved for invalid
// arguments; per-source failures are reported through the result and
// AggregateResult.Err.
func (e *Engine) AggregateAcross(ctx context.Context, ids []string, table, column, fn string) (*AggregateResult, error) {
	query, err := aggregateQuery(table, column, fn)
	if err == nil {
		err = validIDs(ids)
	}
	if err != nil {
		observe("aggregate", err)
		return nil, err
	}

	res := &AggregateResult{Function: strings.ToUpper(fn), Table: table, Column: column}
	for _, id := range ids {
		res.Entries = append(res.Entries, e.aggregateOne(ctx, id, query))
	}

	perr := res.Err()
	observe("aggregate", perr)
	if perr != nil {
		e.log.Warn("federated aggregate partially failed", zap.Error(perr))
	} else {
		e.log.Info("federated aggregate",
			zap.Strings("sources", ids), zap.String("function", res.Function))
	}
	return res, nil
}

func (e *Engine) aggregateOne(ctx context.Context, id, query string) AggregateEntry {
	entry := AggregateEntry{SourceID: id}
	ex, err := e.sources.Get(ctx, id)
	if err != nil {
		entry.Err = err
		entry.Error = err.Error()
		return entry
	}
	entry.SourceName = ex.Name

	recs, err := ex.Execute(ctx, query)
	if err != nil {
		entry.Err = err
		entry.Error = err.Error()
		return entry
	}
	metrics.FederationRowsFetched.WithLabelValues("aggregate").Add(float64(len(recs)))
	if len(recs) > 0 {
		entry.Value, _ = recs[0].Get("result")
	}
	return entry
}

func aggregateQuery(table, column, fn string) (string, error) {
	f := strings.ToUpper(strings.TrimSpace(fn))
	if !aggregateFuncs[f] {
		return "", fmt.Errorf("%w: aggregate function %q", ErrInvalidArgument, fn)
	}
	if err := validIdent("table", table); err != nil {
		return "", err
	}
	if column == "*" {
		if f != "COUNT" {
			return "", fmt.Errorf("%w: * is only valid with COUNT", ErrInvalidArgument)
		}
	} else if err := validIdent("column", column); err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT %s(%s) AS result FROM %s", f, column, table), nil
}
