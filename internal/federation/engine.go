// Package federation runs queries across several sources and combines the
// results in memory: concatenation, hash join and per-source aggregates.
// Sources are visited one after another in the order given.
package federation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/joestump/joe-sources/internal/datasource"
	"github.com/joestump/joe-sources/internal/metrics"
)

// DefaultMaxRows is the per-side fetch cap for JoinAcross.
const DefaultMaxRows = 10000

// ErrInvalidArgument is returned for empty source lists and for table, column
// or function names that cannot be placed in a statement safely.
var ErrInvalidArgument = errors.New("invalid argument")

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*)?$`)

// SourceProvider hands out executors by source id. *datasource.Manager
// satisfies it.
type SourceProvider interface {
	Get(ctx context.Context, id string) (*datasource.Executor, error)
}

// Engine runs federated operations.
type Engine struct {
	sources SourceProvider
	maxRows int
	log     *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxRows sets the per-side row cap used by JoinAcross. Joins over
// larger tables see only the first n rows of each side in scan order, so
// the result is a sample, flagged by JoinResult.LeftTruncated and
// RightTruncated.
func WithMaxRows(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRows = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine creates an Engine reading from sources.
func NewEngine(sources SourceProvider, opts ...Option) *Engine {
	e := &Engine{sources: sources, maxRows: DefaultMaxRows, log: zap.NewNop()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// MaxRows returns the per-side fetch cap.
func (e *Engine) MaxRows() int {
	return e.maxRows
}

func observe(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.FederationCallsTotal.WithLabelValues(op, status).Inc()
}

func validIdent(kind, s string) error {
	if !identRe.MatchString(s) {
		return fmt.Errorf("%w: %s %q", ErrInvalidArgument, kind, s)
	}
	return nil
}

func validIDs(ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: at least one source id is required", ErrInvalidArgument)
	}
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: empty source id", ErrInvalidArgument)
		}
	}
	return nil
}
