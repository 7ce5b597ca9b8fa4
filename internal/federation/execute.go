package federation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/joestump/joe-sources/internal/datasource"
	"github.com/joestump/joe-sources/internal/metrics"
)

// FederatedRecord is a row tagged with the source it came from.
type FederatedRecord struct {
	SourceID   string
	SourceName string
	Record     datasource.Record
}

// MarshalJSON encodes the row with _source_id and _source_name ahead of its
// own columns.
func (r FederatedRecord) MarshalJSON() ([]byte, error) {
	return r.Record.MarshalWithPrefix(
		datasource.Field{Key: "_source_id", Value: r.SourceID},
		datasource.Field{Key: "_source_name", Value: r.SourceName},
	)
}

// ExecuteResult is the concatenated output of ExecuteAcross.
type ExecuteResult struct {
	Records []FederatedRecord `json:"records"`
	Sources int               `json:"sources"`
	Rows    int               `json:"rows"`
}

// ExecuteAcross runs the same query on every source in order and
// concatenates the rows. The first failure aborts the call and no rows are
// returned.
func (e *Engine) ExecuteAcross(ctx context.Context, ids []string, query string) (res *ExecuteResult, err error) {
	defer func() { observe("execute", err) }()

	if err := validIDs(ids); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidArgument)
	}

	var out []FederatedRecord
	for _, id := range ids {
		ex, err := e.sources.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("federated query on %s: %w", id, err)
		}
		recs, err := ex.Execute(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("federated query on %s: %w", id, err)
		}
		for _, r := range recs {
			out = append(out, FederatedRecord{SourceID: ex.ID, SourceName: ex.Name, Record: r})
		}
	}

	metrics.FederationRowsFetched.WithLabelValues("execute").Add(float64(len(out)))
	e.log.Info("federated query",
		zap.Strings("sources", ids), zap.Int("rows", len(out)))
	return &ExecuteResult{Records: out, Sources: len(ids), Rows: len(out)}, nil
}
