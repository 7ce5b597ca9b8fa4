package datasource_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joestump/joe-sources/internal/datasource"
	"github.com/joestump/joe-sources/internal/testutil"
)

func TestExecutor_RecordsFollowColumnOrder(t *testing.T) {
	m, _ := newManager(t, testutil.EmbeddedDescriptor("a", "A", newItemsSource(t)))
	ctx := context.Background()
	ex, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "A", ex.Name)
	assert.Equal(t, datasource.KindEmbedded, ex.Kind)

	recs, err := ex.Execute(ctx, `SELECT v, k, NULL AS n FROM items ORDER BY k`)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, []string{"v", "k", "n"}, recs[0].Keys())
	k, _ := recs[0].Get("k")
	assert.Equal(t, int64(1), k)
	assert.Equal(t, "x", recs[0].String("v"))
	n, ok := recs[0].Get("n")
	assert.True(t, ok)
	assert.Nil(t, n)
}

func TestExecutor_EmptyResult(t *testing.T) {
	m, _ := newManager(t, testutil.EmbeddedDescriptor("a", "A", newItemsSource(t)))
	ctx := context.Background()
	ex, err := m.Get(ctx, "a")
	require.NoError(t, err)

	recs, err := ex.Execute(ctx, `SELECT * FROM items WHERE k > 100`)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestExecutor_QueryErrorReleasesConnection(t *testing.T) {
	m, _ := newManager(t, testutil.EmbeddedDescriptor("a", "A", newItemsSource(t)))
	ctx := context.Background()
	ex, err := m.Get(ctx, "a")
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		_, err = ex.Execute(ctx, `SELECT * FROM no_such_table`)
		var qe *datasource.QueryError
		require.ErrorAs(t, err, &qe)
		assert.Equal(t, "a", qe.SourceID)
		assert.Contains(t, qe.Error(), "no_such_table")
	}

	assert.Zero(t, m.Stats().Pools["a"].InUse)

	recs, err := ex.Execute(ctx, `SELECT COUNT(*) AS n FROM items`)
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestExecutor_Tables(t *testing.T) {
	path := testutil.NewEmbeddedSource(t,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, amount REAL NOT NULL DEFAULT 0, note TEXT)`,
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
	)
	m, _ := newManager(t, testutil.EmbeddedDescriptor("a", "A", path))
	ctx := context.Background()
	ex, err := m.Get(ctx, "a")
	require.NoError(t, err)

	tables := ex.Tables(ctx)
	require.Len(t, tables, 2)
	assert.Equal(t, "customers", tables[0].Name)
	assert.Equal(t, "orders", tables[1].Name)
}

func TestExecutor_Columns(t *testing.T) {
	path := testutil.NewEmbeddedSource(t,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, amount REAL NOT NULL DEFAULT 0, note TEXT)`,
	)
	m, _ := newManager(t, testutil.EmbeddedDescriptor("a", "A", path))
	ctx := context.Background()
	ex, err := m.Get(ctx, "a")
	require.NoError(t, err)

	cols := ex.Columns(ctx, "orders")
	require.Len(t, cols, 3)

	assert.Equal(t, "id", cols[0].Name)
	assert.Equal(t, "INTEGER", cols[0].Type)

	assert.Equal(t, "amount", cols[1].Name)
	assert.False(t, cols[1].Nullable)
	require.NotNil(t, cols[1].Default)
	assert.Equal(t, "0", *cols[1].Default)

	assert.Equal(t, "note", cols[2].Name)
	assert.True(t, cols[2].Nullable)
	assert.Nil(t, cols[2].Default)
}

func TestExecutor_IntrospectionIsBestEffort(t *testing.T) {
	m, _ := newManager(t, testutil.EmbeddedDescriptor("a", "A", testutil.NewEmbeddedSource(t)))
	ctx := context.Background()
	ex, err := m.Get(ctx, "a")
	require.NoError(t, err)

	assert.Empty(t, ex.Tables(ctx))
	assert.Empty(t, ex.Columns(ctx, "missing"))
}
