package federation_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joestump/joe-sources/internal/datasource"
	"github.com/joestump/joe-sources/internal/federation"
	"github.com/joestump/joe-sources/internal/testutil"
)

type fixture struct {
	manager *datasource.Manager
	reg     *testutil.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := testutil.NewRegistry()
	m := datasource.NewManager(reg)
	t.Cleanup(func() { _ = m.Close() })
	return &fixture{manager: m, reg: reg}
}

func (f *fixture) source(t *testing.T, id, name string, stmts ...string) {
	t.Helper()
	f.reg.Put(testutil.EmbeddedDescriptor(id, name, testutil.NewEmbeddedSource(t, stmts...)))
}

// broken registers a source whose database file cannot be opened.
func (f *fixture) broken(t *testing.T, id string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "missing", "db.sqlite")
	f.reg.Put(testutil.EmbeddedDescriptor(id, "Broken", path))
}

func (f *fixture) engine(opts ...federation.Option) *federation.Engine {
	return federation.NewEngine(f.manager, opts...)
}

func TestJoinAcross_InnerJoinAcrossSources(t *testing.T) {
	f := newFixture(t)
	f.source(t, "a", "A",
		`CREATE TABLE items (k INTEGER, v TEXT)`,
		`INSERT INTO items VALUES (1, 'x'), (2, 'y')`)
	f.source(t, "b", "B",
		`CREATE TABLE items (k INTEGER, w TEXT)`,
		`INSERT INTO items VALUES (1, 'p')`)

	res, err := f.engine().JoinAcross(context.Background(), federation.JoinRequest{
		LeftSource: "a", LeftTable: "items",
		RightSource: "b", RightTable: "items",
		JoinColumn: "k",
	})
	require.NoError(t, err)

	require.Len(t, res.Records, 1)
	rec := res.Records[0]
	assert.Equal(t, []string{"left.k", "left.v", "right.k", "right.w"}, rec.Keys())
	assert.Equal(t, map[string]any{
		"left.k": int64(1), "left.v": "x",
		"right.k": int64(1), "right.w": "p",
	}, rec.Map())

	assert.Equal(t, 2, res.LeftRows)
	assert.Equal(t, 1, res.RightRows)
	assert.Equal(t, 1, res.Joined)
	assert.False(t, res.LeftTruncated)
	assert.False(t, res.RightTruncated)
	assert.Equal(t, federation.DefaultMaxRows, res.MaxRows)
}

func TestJoinAcross_NoTypeCoercion(t *testing.T) {
	f := newFixture(t)
	f.source(t, "a", "A",
		`CREATE TABLE items (k INTEGER, v TEXT)`,
		`INSERT INTO items VALUES (1, 'x')`)
	f.source(t, "b", "B",
		`CREATE TABLE items (k TEXT, w TEXT)`,
		`INSERT INTO items VALUES ('1', 'p')`)

	res, err := f.engine().JoinAcross(context.Background(), federation.JoinRequest{
		LeftSource: "a", LeftTable: "items",
		RightSource: "b", RightTable: "items",
		JoinColumn: "k",
	})
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Equal(t, 1, res.LeftRows)
	assert.Equal(t, 1, res.RightRows)
}

func TestJoinAcross_DuplicateAndNullKeys(t *testing.T) {
	f := newFixture(t)
	f.source(t, "a", "A",
		`CREATE TABLE l (k INTEGER, v TEXT)`,
		`INSERT INTO l VALUES (1, 'one'), (NULL, 'none'), (3, 'three')`)
	f.source(t, "b", "B",
		`CREATE TABLE r (k INTEGER, w TEXT)`,
		`INSERT INTO r VALUES (1, 'first'), (NULL, 'null'), (1, 'second')`)

	res, err := f.engine().JoinAcross(context.Background(), federation.JoinRequest{
		LeftSource: "a", LeftTable: "l",
		RightSource: "b", RightTable: "r",
		JoinColumn: "k",
	})
	require.NoError(t, err)

	require.Len(t, res.Records, 2)
	assert.Equal(t, "first", res.Records[0].String("right.w"))
	assert.Equal(t, "second", res.Records[1].String("right.w"))
	for _, r := range res.Records {
		assert.Equal(t, "one", r.String("left.v"))
	}
}

func TestJoinAcross_ReportsTruncation(t *testing.T) {
	f := newFixture(t)
	f.source(t, "a", "A",
		`CREATE TABLE items (k INTEGER)`,
		`INSERT INTO items VALUES (1), (2), (3)`)
	f.source(t, "b", "B",
		`CREATE TABLE items (k INTEGER)`,
		`INSERT INTO items VALUES (1), (2)`)

	res, err := f.engine(federation.WithMaxRows(2)).JoinAcross(context.Background(), federation.JoinRequest{
		LeftSource: "a", LeftTable: "items",
		RightSource: "b", RightTable: "items",
		JoinColumn: "k",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.LeftRows)
	assert.True(t, res.LeftTruncated)
	assert.Equal(t, 2, res.RightRows)
	assert.False(t, res.RightTruncated)
	assert.Equal(t, 2, res.MaxRows)
}

func TestJoinAcross_FailsFast(t *testing.T) {
	f := newFixture(t)
	f.source(t, "a", "A", `CREATE TABLE items (k INTEGER)`, `INSERT INTO items VALUES (1)`)
	f.broken(t, "b")
	ctx := context.Background()

	res, err := f.engine().JoinAcross(ctx, federation.JoinRequest{
		LeftSource: "a", LeftTable: "items",
		RightSource: "b", RightTable: "items",
		JoinColumn: "k",
	})
	assert.Nil(t, res)
	var ce *datasource.ConnectionError
	assert.ErrorAs(t, err, &ce)

	res, err = f.engine().JoinAcross(ctx, federation.JoinRequest{
		LeftSource: "a", LeftTable: "missing_table",
		RightSource: "a", RightTable: "items",
		JoinColumn: "k",
	})
	assert.Nil(t, res)
	var qe *datasource.QueryError
	assert.ErrorAs(t, err, &qe)
}

func TestJoinAcross_RejectsUnsafeIdentifiers(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		req  federation.JoinRequest
	}{
		{name: "missing source", req: federation.JoinRequest{LeftTable: "t", RightSource: "b", RightTable: "t", JoinColumn: "k"}},
		{name: "injected table", req: federation.JoinRequest{LeftSource: "a", LeftTable: "t; DROP TABLE t", RightSource: "b", RightTable: "t", JoinColumn: "k"}},
		{name: "empty column", req: federation.JoinRequest{LeftSource: "a", LeftTable: "t", RightSource: "b", RightTable: "t"}},
		{name: "quoted column", req: federation.JoinRequest{LeftSource: "a", LeftTable: "t", RightSource: "b", RightTable: "t", JoinColumn: `"k"`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine().JoinAcross(context.Background(), tt.req)
			assert.ErrorIs(t, err, federation.ErrInvalidArgument)
		})
	}
}

func TestExecuteAcross_TagsAndConcatenates(t *testing.T) {
	f := newFixture(t)
	f.source(t, "a", "A",
		`CREATE TABLE items (k INTEGER)`,
		`INSERT INTO items VALUES (1), (2)`)
	f.source(t, "b", "B",
		`CREATE TABLE items (k INTEGER)`,
		`INSERT INTO items VALUES (3)`)

	res, err := f.engine().ExecuteAcross(context.Background(), []string{"a", "b"}, `SELECT k FROM items ORDER BY k`)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Sources)
	assert.Equal(t, 3, res.Rows)
	require.Len(t, res.Records, 3)
	assert.Equal(t, "a", res.Records[0].SourceID)
	assert.Equal(t, "A", res.Records[1].SourceName)
	assert.Equal(t, "b", res.Records[2].SourceID)

	b, err := json.Marshal(res.Records[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"_source_id":"a","_source_name":"A","k":1}`, string(b))
}

func TestExecuteAcross_FailsFast(t *testing.T) {
	f := newFixture(t)
	f.source(t, "a", "A")
	f.broken(t, "b")

	res, err := f.engine().ExecuteAcross(context.Background(), []string{"a", "b"}, `SELECT 1`)
	assert.Nil(t, res)
	var ce *datasource.ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "b", ce.SourceID)
}

func TestExecuteAcross_InvalidArguments(t *testing.T) {
	f := newFixture(t)
	e := f.engine()
	ctx := context.Background()

	_, err := e.ExecuteAcross(ctx, nil, `SELECT 1`)
	assert.ErrorIs(t, err, federation.ErrInvalidArgument)

	_, err = e.ExecuteAcross(ctx, []string{"a"}, "  ")
	assert.ErrorIs(t, err, federation.ErrInvalidArgument)

	_, err = e.ExecuteAcross(ctx, []string{"a", ""}, `SELECT 1`)
	assert.ErrorIs(t, err, federation.ErrInvalidArgument)
}

func TestAggregateAcross_IsolatesFailures(t *testing.T) {
	f := newFixture(t)
	f.source(t, "a", "A",
		`CREATE TABLE sales (amount INTEGER)`,
		`INSERT INTO sales VALUES (40), (60)`)
	f.broken(t, "b")

	res, err := f.engine().AggregateAcross(context.Background(), []string{"a", "b"}, "sales", "amount", "SUM")
	require.NoError(t, err)

	require.Len(t, res.Entries, 2)
	assert.Equal(t, "SUM", res.Function)

	a := res.Entries[0]
	assert.True(t, a.OK())
	assert.Equal(t, "a", a.SourceID)
	assert.Equal(t, "A", a.SourceName)
	assert.Equal(t, int64(100), a.Value)

	b := res.Entries[1]
	assert.False(t, b.OK())
	assert.Equal(t, "b", b.SourceID)
	assert.Nil(t, b.Value)
	assert.NotEmpty(t, b.Error)

	perr := res.Err()
	var pe *federation.PartialFederationError
	require.ErrorAs(t, perr, &pe)
	assert.Equal(t, 1, pe.Succeeded)
	require.Len(t, pe.Failures, 1)
	assert.Equal(t, "b", pe.Failures[0].SourceID)

	var ce *datasource.ConnectionError
	assert.ErrorAs(t, perr, &ce, "per-source causes stay reachable")
}

func TestAggregateAcross_AllSucceed(t *testing.T) {
	f := newFixture(t)
	f.source(t, "a", "A",
		`CREATE TABLE sales (amount INTEGER)`,
		`INSERT INTO sales VALUES (1), (2), (3)`)
	f.source(t, "b", "B",
		`CREATE TABLE sales (amount INTEGER)`)

	res, err := f.engine().AggregateAcross(context.Background(), []string{"a", "b"}, "sales", "*", "count")
	require.NoError(t, err)
	require.NoError(t, res.Err())

	assert.Equal(t, "COUNT", res.Function)
	assert.Equal(t, int64(3), res.Entries[0].Value)
	assert.Equal(t, int64(0), res.Entries[1].Value)
}

func TestAggregateAcross_QueryFailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	f.source(t, "a", "A", `CREATE TABLE sales (amount INTEGER)`)
	f.source(t, "b", "B", `CREATE TABLE other (x INTEGER)`)

	res, err := f.engine().AggregateAcross(context.Background(), []string{"a", "b"}, "sales", "amount", "MAX")
	require.NoError(t, err)

	assert.True(t, res.Entries[0].OK())
	assert.Nil(t, res.Entries[0].Value)

	var qe *datasource.QueryError
	assert.True(t, errors.As(res.Entries[1].Err, &qe))
	assert.Error(t, res.Err())
}

func TestAggregateAcross_RejectsInvalidArguments(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		ids    []string
		table  string
		column string
		fn     string
	}{
		{name: "no sources", table: "t", column: "c", fn: "SUM"},
		{name: "unknown function", ids: []string{"a"}, table: "t", column: "c", fn: "MEDIAN"},
		{name: "star with sum", ids: []string{"a"}, table: "t", column: "*", fn: "SUM"},
		{name: "injected column", ids: []string{"a"}, table: "t", column: "c) FROM t; --", fn: "SUM"},
		{name: "bad table", ids: []string{"a"}, table: "1t", column: "c", fn: "SUM"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.engine().AggregateAcross(context.Background(), tt.ids, tt.table, tt.column, tt.fn)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, federation.ErrInvalidArgument)
		})
	}
}
