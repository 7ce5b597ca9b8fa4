package datasource_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joestump/joe-sources/internal/datasource"
	"github.com/joestump/joe-sources/internal/testutil"
)

func newItemsSource(t *testing.T) string {
	t.Helper()
	return testutil.NewEmbeddedSource(t,
		`CREATE TABLE items (k INTEGER PRIMARY KEY, v TEXT NOT NULL)`,
		`INSERT INTO items (k, v) VALUES (1, 'x'), (2, 'y')`,
	)
}

func newManager(t *testing.T, descs ...*datasource.Descriptor) (*datasource.Manager, *testutil.Registry) {
	t.Helper()
	reg := testutil.NewRegistry(descs...)
	m := datasource.NewManager(reg)
	t.Cleanup(func() { _ = m.Close() })
	return m, reg
}

func TestManager_UnknownSourceIsConfigError(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	_, err := m.Get(ctx, "missing")
	var ce *datasource.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "missing", ce.SourceID)
	assert.True(t, datasource.IsNotRegistered(err))

	s := m.NewSession(ctx)
	err = s.SwitchTo(ctx, "missing")
	require.ErrorAs(t, err, &ce)
	assert.Empty(t, s.CurrentID())
	assert.Zero(t, m.Stats().Created)
}

func TestManager_UnsupportedKindIsConfigError(t *testing.T) {
	desc := testutil.EmbeddedDescriptor("a", "A", newItemsSource(t))
	desc.Kind = "oracle"
	m, _ := newManager(t, desc)

	_, err := m.Get(context.Background(), "a")
	var ce *datasource.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.False(t, datasource.IsNotRegistered(err))
}

func TestManager_InactiveSourceIsConfigError(t *testing.T) {
	desc := testutil.EmbeddedDescriptor("a", "A", newItemsSource(t))
	desc.Active = false
	m, _ := newManager(t, desc)

	_, err := m.Get(context.Background(), "a")
	var ce *datasource.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Zero(t, m.Stats().Created)
}

func TestSession_SwitchToIsIdempotent(t *testing.T) {
	m, _ := newManager(t, testutil.EmbeddedDescriptor("a", "A", newItemsSource(t)))
	ctx := context.Background()
	s := m.NewSession(ctx)

	require.NoError(t, s.SwitchTo(ctx, "a"))
	require.NoError(t, s.SwitchTo(ctx, "a"))

	assert.Equal(t, "a", s.CurrentID())
	st := m.Stats()
	assert.Equal(t, int64(1), st.Created)
	assert.Equal(t, 1, st.Open)
}

func TestManager_ConcurrentFirstUseCreatesOnePool(t *testing.T) {
	m, _ := newManager(t, testutil.EmbeddedDescriptor("a", "A", newItemsSource(t)))
	ctx := context.Background()

	const callers = 100
	sessions := make([]*datasource.Session, callers)
	for i := range sessions {
		sessions[i] = m.NewSession(ctx)
	}

	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for _, s := range sessions {
		wg.Add(1)
		go func(s *datasource.Session) {
			defer wg.Done()
			errs <- s.SwitchTo(ctx, "a")
		}(s)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), m.Stats().Created)
}

func TestSession_SwitchesAreIndependent(t *testing.T) {
	m, _ := newManager(t,
		testutil.EmbeddedDescriptor("a", "A", newItemsSource(t)),
		testutil.EmbeddedDescriptor("b", "B", newItemsSource(t)),
	)
	ctx := context.Background()
	s1 := m.NewSession(ctx)
	s2 := m.NewSession(ctx)

	require.NoError(t, s1.SwitchTo(ctx, "a"))
	require.NoError(t, s2.SwitchTo(ctx, "b"))

	ex, err := s1.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", ex.ID)

	ex, err = s2.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", ex.ID)
}

func TestManager_RefreshKeepsResults(t *testing.T) {
	m, _ := newManager(t, testutil.EmbeddedDescriptor("a", "A", newItemsSource(t)))
	ctx := context.Background()
	s := m.NewSession(ctx)
	require.NoError(t, s.SwitchTo(ctx, "a"))

	ex, err := s.Current(ctx)
	require.NoError(t, err)
	before, err := ex.Execute(ctx, `SELECT k, v FROM items ORDER BY k`)
	require.NoError(t, err)

	require.NoError(t, m.Refresh(ctx, "a"))
	assert.Equal(t, "a", s.CurrentID())
	assert.Equal(t, int64(2), m.Stats().Created, "refresh rebuilds the pool for sessions on it")

	require.NoError(t, s.SwitchTo(ctx, "a"))
	ex, err = s.Current(ctx)
	require.NoError(t, err)
	after, err := ex.Execute(ctx, `SELECT k, v FROM items ORDER BY k`)
	require.NoError(t, err)

	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].Map(), after[i].Map())
	}
}

func TestManager_RefreshWithoutSessionsIsLazy(t *testing.T) {
	m, _ := newManager(t, testutil.EmbeddedDescriptor("a", "A", newItemsSource(t)))
	ctx := context.Background()

	_, err := m.Get(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, m.Refresh(ctx, "a"))

	st := m.Stats()
	assert.Equal(t, 0, st.Open)
	assert.Equal(t, int64(1), st.Created)
}

func TestManager_RemoveClearsCurrentSource(t *testing.T) {
	m, _ := newManager(t, testutil.EmbeddedDescriptor("a", "A", newItemsSource(t)))
	ctx := context.Background()
	s := m.NewSession(ctx)
	require.NoError(t, s.SwitchTo(ctx, "a"))

	m.Remove("a")

	assert.Empty(t, s.CurrentID())
	_, err := s.Current(ctx)
	assert.ErrorIs(t, err, datasource.ErrNoActiveSource)
	assert.Equal(t, 0, m.Stats().Open)
}

func TestManager_LivenessFailureEvictsPool(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-such-dir", "a.db")
	m, _ := newManager(t,
		testutil.EmbeddedDescriptor("bad", "Bad", missing),
		testutil.EmbeddedDescriptor("good", "Good", newItemsSource(t)),
	)
	ctx := context.Background()
	s := m.NewSession(ctx)
	require.NoError(t, s.SwitchTo(ctx, "good"))

	err := s.SwitchTo(ctx, "bad")
	var ce *datasource.ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "bad", ce.SourceID)

	assert.Equal(t, "good", s.CurrentID(), "failed switch keeps the previous source")
	st := m.Stats()
	assert.Equal(t, 1, st.Open)
	assert.NotContains(t, st.Pools, "bad")
}

func TestManager_ExecuteResolvesSessionFromContext(t *testing.T) {
	m, _ := newManager(t, testutil.EmbeddedDescriptor("a", "A", newItemsSource(t)))
	ctx := context.Background()

	_, err := m.Execute(ctx, "", `SELECT 1`)
	assert.ErrorIs(t, err, datasource.ErrNoActiveSource)

	s := m.NewSession(ctx)
	sctx := datasource.WithSession(ctx, s)
	_, err = m.Execute(sctx, "", `SELECT 1`)
	assert.ErrorIs(t, err, datasource.ErrNoActiveSource)

	require.NoError(t, s.SwitchTo(ctx, "a"))
	recs, err := m.Execute(sctx, "", `SELECT COUNT(*) AS n FROM items`)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	n, _ := recs[0].Get("n")
	assert.Equal(t, int64(2), n)

	recs, err = m.Execute(ctx, "a", `SELECT v FROM items WHERE k = 2`)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "y", recs[0].String("v"))
}

func TestManager_SessionStartsOnDefaultSource(t *testing.T) {
	def := testutil.EmbeddedDescriptor("a", "A", newItemsSource(t))
	def.Default = true
	m, _ := newManager(t, def, testutil.EmbeddedDescriptor("b", "B", newItemsSource(t)))
	ctx := context.Background()

	s := m.Session(ctx, "token-1")
	assert.Equal(t, "a", s.CurrentID())
	assert.Same(t, s, m.Session(ctx, "token-1"))

	m.CloseSession("token-1")
	assert.NotSame(t, s, m.Session(ctx, "token-1"))
}

func TestManager_TestDescriptor(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	err := m.Test(ctx, testutil.EmbeddedDescriptor("", "ok", newItemsSource(t)))
	require.NoError(t, err)

	err = m.Test(ctx, testutil.EmbeddedDescriptor("", "bad", filepath.Join(t.TempDir(), "x", "y.db")))
	var ce *datasource.ConnectionError
	assert.ErrorAs(t, err, &ce)

	err = m.Test(ctx, &datasource.Descriptor{Kind: datasource.KindEmbedded})
	var cfg *datasource.ConfigError
	assert.ErrorAs(t, err, &cfg)

	assert.Zero(t, m.Stats().Created, "test connections are never cached")
}

func TestManager_OpenerErrorIsConnectionError(t *testing.T) {
	reg := testutil.NewRegistry(testutil.EmbeddedDescriptor("a", "A", newItemsSource(t)))
	boom := errors.New("boom")
	m := datasource.NewManager(reg, datasource.WithOpener(
		func(*datasource.Dialect, *datasource.Descriptor, datasource.PoolPolicy) (*sqlx.DB, error) {
			return nil, boom
		}))
	t.Cleanup(func() { _ = m.Close() })

	_, err := m.Get(context.Background(), "a")
	var ce *datasource.ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, boom)
}

func TestManager_CloseDisposesEveryPool(t *testing.T) {
	m, _ := newManager(t,
		testutil.EmbeddedDescriptor("a", "A", newItemsSource(t)),
		testutil.EmbeddedDescriptor("b", "B", newItemsSource(t)),
	)
	ctx := context.Background()
	a, err := m.Get(ctx, "a")
	require.NoError(t, err)
	_, err = m.Get(ctx, "b")
	require.NoError(t, err)

	require.NoError(t, m.Close())
	assert.Equal(t, 0, m.Stats().Open)

	_, err = a.Execute(ctx, `SELECT 1`)
	assert.Error(t, err)
}

func TestManager_CancelledCallerKeepsSharedPool(t *testing.T) {
	m, _ := newManager(t, testutil.EmbeddedDescriptor("a", "A", newItemsSource(t)))
	ctx := context.Background()

	held, err := m.Get(ctx, "a")
	require.NoError(t, err)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = m.Get(cctx, "a")
	require.ErrorIs(t, err, context.Canceled)
	var ce *datasource.ConnectionError
	assert.False(t, errors.As(err, &ce), "a cancelled caller is not a liveness failure")

	assert.Equal(t, 1, m.Stats().Open)
	recs, err := held.Execute(ctx, `SELECT COUNT(*) AS n FROM items`)
	require.NoError(t, err)
	n, _ := recs[0].Get("n")
	assert.Equal(t, int64(2), n)
}

// gatedOpener blocks the first open of gated until release is closed.
type gatedOpener struct {
	gated   string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedOpener(id string) *gatedOpener {
	return &gatedOpener{gated: id, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedOpener) open(d *datasource.Dialect, desc *datasource.Descriptor, p datasource.PoolPolicy) (*sqlx.DB, error) {
	if desc.ID == g.gated {
		first := false
		g.once.Do(func() { first = true })
		if first {
			close(g.entered)
			<-g.release
		}
	}
	return datasource.OpenPool(d, desc, p)
}

func TestManager_RefreshDuringCreationUsesNewDescriptor(t *testing.T) {
	path := newItemsSource(t)
	reg := testutil.NewRegistry(testutil.EmbeddedDescriptor("a", "Old", path))
	gate := newGatedOpener("a")
	m := datasource.NewManager(reg, datasource.WithOpener(gate.open))
	t.Cleanup(func() { _ = m.Close() })
	ctx := context.Background()

	type result struct {
		ex  *datasource.Executor
		err error
	}
	done := make(chan result, 1)
	go func() {
		ex, err := m.Get(ctx, "a")
		done <- result{ex, err}
	}()

	<-gate.entered
	reg.Put(testutil.EmbeddedDescriptor("a", "New", path))
	require.NoError(t, m.Refresh(ctx, "a"))
	close(gate.release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "New", res.ex.Name)

	ex, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "New", ex.Name)
	st := m.Stats()
	assert.Equal(t, 1, st.Open)
	assert.Equal(t, int64(1), st.Created, "the pool built from the old descriptor is never cached")
}

func TestSession_SwitchDoesNotBlockReaders(t *testing.T) {
	reg := testutil.NewRegistry(
		testutil.EmbeddedDescriptor("a", "A", newItemsSource(t)),
		testutil.EmbeddedDescriptor("b", "B", newItemsSource(t)),
	)
	gate := newGatedOpener("b")
	m := datasource.NewManager(reg, datasource.WithOpener(gate.open))
	t.Cleanup(func() { _ = m.Close() })
	ctx := context.Background()

	s := m.NewSession(ctx)
	require.NoError(t, s.SwitchTo(ctx, "a"))

	errs := make(chan error, 1)
	go func() { errs <- s.SwitchTo(ctx, "b") }()
	<-gate.entered

	got := make(chan string, 1)
	go func() { got <- s.CurrentID() }()
	select {
	case id := <-got:
		assert.Equal(t, "a", id)
	case <-time.After(2 * time.Second):
		t.Fatal("CurrentID blocked while a switch was opening its pool")
	}

	close(gate.release)
	require.NoError(t, <-errs)
	assert.Equal(t, "b", s.CurrentID())
}

func TestManager_ExecutorForReportsResolvedSource(t *testing.T) {
	m, _ := newManager(t,
		testutil.EmbeddedDescriptor("a", "A", newItemsSource(t)),
		testutil.EmbeddedDescriptor("b", "B", newItemsSource(t)),
	)
	ctx := context.Background()

	_, err := m.ExecutorFor(ctx, "")
	assert.ErrorIs(t, err, datasource.ErrNoActiveSource)

	s := m.NewSession(ctx)
	require.NoError(t, s.SwitchTo(ctx, "a"))
	sctx := datasource.WithSession(ctx, s)

	ex, err := m.ExecutorFor(sctx, "")
	require.NoError(t, err)
	assert.Equal(t, "a", ex.ID)

	ex, err = m.ExecutorFor(sctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "b", ex.ID)
}

func TestManager_CloseSessionForgetsSession(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	m.Session(ctx, "k1")
	m.Session(ctx, "k2")
	assert.Equal(t, 2, m.Stats().Sessions)

	m.CloseSession("k1")
	assert.Equal(t, 1, m.Stats().Sessions)
}
