package datasource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/joestump/joe-sources/internal/metrics"
)

// Opener opens an unprobed pool for desc. Replaceable for tests.
type Opener func(d *Dialect, desc *Descriptor, p PoolPolicy) (*sqlx.DB, error)

// pool is one cached connection pool.
type pool struct {
	id      string
	desc    *Descriptor
	db      *sqlx.DB
	dialect *Dialect
	opened  time.Time
}

// Manager owns one pool per source id. Pools are created on first use and
// live until Refresh, Remove or Close. The zero value is not usable; use
// NewManager.
type Manager struct {
	registry Registry
	policy   PoolPolicy
	open     Opener
	log      *zap.Logger

	mu    sync.RWMutex
	pools map[string]*pool
	gens  map[string]uint64 // bumped whenever id is evicted
	group singleflight.Group

	created atomic.Int64

	sessMu   sync.Mutex
	sessions map[string]*Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithPolicy overrides the pool policy. Zero fields keep their defaults.
func WithPolicy(p PoolPolicy) Option {
	return func(m *Manager) { m.policy = p.withDefaults() }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithOpener replaces the function used to open pools.
func WithOpener(o Opener) Option {
	return func(m *Manager) { m.open = o }
}

// NewManager creates a Manager reading descriptors from reg.
func NewManager(reg Registry, opts ...Option) *Manager {
	m := &Manager{
		registry: reg,
		policy:   DefaultPoolPolicy(),
		open:     OpenPool,
		log:      zap.NewNop(),
		pools:    make(map[string]*pool),
		gens:     make(map[string]uint64),
		sessions: make(map[string]*Session),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// OpenPool opens a sqlx pool for desc and applies the pool policy. It does
// not dial; the first borrow does.
func OpenPool(d *Dialect, desc *Descriptor, p PoolPolicy) (*sqlx.DB, error) {
	p = p.withDefaults()
	dsn, err := d.DSN(desc, p)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(d.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Kind, err)
	}
	db.SetMaxOpenConns(p.MaxOpen)
	db.SetMaxIdleConns(p.MaxIdle)
	db.SetConnMaxIdleTime(p.IdleTimeout)
	db.SetConnMaxLifetime(p.MaxLifetime)
	return db, nil
}

// Policy returns the effective pool policy.
func (m *Manager) Policy() PoolPolicy {
	return m.policy
}

// errStalePool is returned by poolFor when the source was refreshed or
// removed while its pool was being opened.
var errStalePool = errors.New("source changed while its pool was opening")

const maxStaleRetries = 3

// Get returns an executor bound to id, creating its pool as needed. Every
// call runs the liveness check on a borrowed connection, cached pool or not,
// so each Get costs one extra round trip. It does not touch any session.
func (m *Manager) Get(ctx context.Context, id string) (*Executor, error) {
	return m.acquire(ctx, id)
}

// ExecutorFor returns the executor for sourceID. An empty sourceID selects
// the current source of the session carried by ctx.
func (m *Manager) ExecutorFor(ctx context.Context, sourceID string) (*Executor, error) {
	if sourceID != "" {
		return m.Get(ctx, sourceID)
	}
	s := SessionFromContext(ctx)
	if s == nil {
		return nil, ErrNoActiveSource
	}
	return s.Current(ctx)
}

// Execute runs query on sourceID. An empty sourceID selects the current
// source of the session carried by ctx.
func (m *Manager) Execute(ctx context.Context, sourceID, query string) ([]Record, error) {
	ex, err := m.ExecutorFor(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	return ex.Execute(ctx, query)
}

// resolve looks id up in the registry and finds its dialect.
func (m *Manager) resolve(ctx context.Context, id string) (*Descriptor, *Dialect, error) {
	if id == "" {
		return nil, nil, &ConfigError{Reason: "source id is required"}
	}
	desc, err := m.registry.Lookup(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotRegistered) {
			return nil, nil, &ConfigError{SourceID: id, Cause: err}
		}
		return nil, nil, fmt.Errorf("lookup source %s: %w", id, err)
	}
	if desc == nil {
		return nil, nil, &ConfigError{SourceID: id, Cause: ErrNotRegistered}
	}
	if !desc.Active {
		return nil, nil, &ConfigError{SourceID: id, Reason: "source is inactive"}
	}
	d, err := DialectFor(desc.Kind)
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			ce.SourceID = id
		}
		return nil, nil, err
	}
	return desc, d, nil
}

// acquire resolves id, gets or creates its pool and probes it. A pool that
// fails the probe is evicted and closed. When the probe fails because ctx
// ended, the pool is left alone and ctx's error is returned.
func (m *Manager) acquire(ctx context.Context, id string) (*Executor, error) {
	for attempt := 0; ; attempt++ {
		// Read the generation before the descriptor so a refresh in between
		// is detected when the new pool is stored.
		gen := m.generation(id)
		desc, d, err := m.resolve(ctx, id)
		if err != nil {
			return nil, err
		}
		p, err := m.poolFor(desc, d, gen)
		if errors.Is(err, errStalePool) {
			if attempt < maxStaleRetries {
				continue
			}
			return nil, &ConnectionError{SourceID: id, Cause: err}
		}
		if err != nil {
			return nil, err
		}
		if err := m.probe(ctx, p); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.evict(id, p)
			metrics.ProbeFailuresTotal.WithLabelValues(string(d.Kind)).Inc()
			m.log.Warn("liveness probe failed, pool evicted",
				zap.String("source_id", id), zap.String("kind", string(d.Kind)), zap.Error(err))
			return nil, &ConnectionError{SourceID: id, Cause: err}
		}
		return m.executor(p), nil
	}
}

func (m *Manager) generation(id string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gens[id]
}

// poolFor returns the cached pool for desc.ID or creates exactly one, even
// under concurrent first use. gen is the generation desc was read under; if
// id was evicted since, the new pool is closed and errStalePool returned.
func (m *Manager) poolFor(desc *Descriptor, d *Dialect, gen uint64) (*pool, error) {
	if p := m.cached(desc.ID); p != nil {
		return p, nil
	}
	v, err, _ := m.group.Do(desc.ID, func() (any, error) {
		if p := m.cached(desc.ID); p != nil {
			return p, nil
		}
		db, err := m.open(d, desc, m.policy)
		if err != nil {
			return nil, err
		}
		p := &pool{id: desc.ID, desc: desc, db: db, dialect: d, opened: time.Now()}
		m.mu.Lock()
		if m.gens[desc.ID] != gen {
			m.mu.Unlock()
			closePool(m.log, p)
			return nil, errStalePool
		}
		m.pools[desc.ID] = p
		n := len(m.pools)
		m.mu.Unlock()

		m.created.Add(1)
		metrics.PoolsCreatedTotal.Inc()
		metrics.PoolsOpen.Set(float64(n))
		m.log.Info("pool created",
			zap.String("source_id", desc.ID), zap.String("source", desc.Name), zap.String("kind", string(d.Kind)))
		return p, nil
	})
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) || errors.Is(err, errStalePool) {
			return nil, err
		}
		return nil, &ConnectionError{SourceID: desc.ID, Cause: err}
	}
	return v.(*pool), nil
}

func (m *Manager) cached(id string) *pool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pools[id]
}

// probe borrows one connection and runs the dialect probe query, bounded by
// the probe timeout.
func (m *Manager) probe(ctx context.Context, p *pool) error {
	ctx, cancel := context.WithTimeout(ctx, m.policy.ProbeTimeout)
	defer cancel()

	conn, err := p.db.Connx(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	var one any
	return conn.QueryRowxContext(ctx, p.dialect.ProbeQuery).Scan(&one)
}

// evict removes id from the cache and closes its pool. When want is non-nil
// only that exact pool is removed from the cache, so a failed probe never
// evicts a pool that replaced it in the meantime; want itself is closed
// either way. A nil want also invalidates any creation of id in flight.
func (m *Manager) evict(id string, want *pool) {
	m.mu.Lock()
	p, ok := m.pools[id]
	removed := ok && (want == nil || p == want)
	if removed {
		delete(m.pools, id)
	}
	if removed || want == nil {
		m.gens[id]++
	}
	n := len(m.pools)
	m.mu.Unlock()
	if want == nil {
		m.group.Forget(id)
	}

	metrics.PoolsOpen.Set(float64(n))
	switch {
	case want != nil:
		closePool(m.log, want)
	case ok:
		closePool(m.log, p)
	}
}

// closePool closes p. sql.DB.Close stops new borrows and waits for running
// queries before closing connections.
func closePool(log *zap.Logger, p *pool) {
	if err := p.db.Close(); err != nil {
		log.Warn("close pool", zap.String("source_id", p.id), zap.Error(err))
	}
}

// Refresh disposes the pool for id so the next use rebuilds it from the
// current descriptor. Sessions whose current source is id get the pool
// rebuilt immediately; if that fails they are cleared and the error returned.
func (m *Manager) Refresh(ctx context.Context, id string) error {
	m.evict(id, nil)
	m.log.Info("source refreshed", zap.String("source_id", id))

	affected := m.sessionsOn(id)
	if len(affected) == 0 {
		return nil
	}
	if _, err := m.acquire(ctx, id); err != nil {
		for _, s := range affected {
			s.clearIf(id)
		}
		return err
	}
	return nil
}

// Remove disposes the pool for id and clears every session pointing at it.
func (m *Manager) Remove(id string) {
	m.evict(id, nil)
	for _, s := range m.sessionsOn(id) {
		s.clearIf(id)
	}
	m.log.Info("source removed", zap.String("source_id", id))
}

// Close disposes every pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*pool)
	m.mu.Unlock()

	var errs []error
	for id, p := range pools {
		if err := p.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pool %s: %w", id, err))
		}
	}
	metrics.PoolsOpen.Set(0)
	return errors.Join(errs...)
}

// Test opens a throwaway pool for desc, probes it and closes it. The
// descriptor does not need to be registered.
func (m *Manager) Test(ctx context.Context, desc *Descriptor) error {
	d, err := DialectFor(desc.Kind)
	if err != nil {
		return err
	}
	db, err := m.open(d, desc, m.policy)
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			return err
		}
		return &ConnectionError{SourceID: desc.ID, Cause: err}
	}
	p := &pool{id: desc.ID, desc: desc, db: db, dialect: d}
	defer closePool(m.log, p)

	if err := m.probe(ctx, p); err != nil {
		return &ConnectionError{SourceID: desc.ID, Cause: err}
	}
	return nil
}

// Stats is a snapshot of the pool cache.
type Stats struct {
	Open     int                    `json:"open"`
	Created  int64                  `json:"created"`
	Sessions int                    `json:"sessions"`
	Pools    map[string]sql.DBStats `json:"pools"`
}

// Stats reports cached pools, how many pools were ever created and how many
// sessions are registered.
func (m *Manager) Stats() Stats {
	m.sessMu.Lock()
	sessions := len(m.sessions)
	m.sessMu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Stats{
		Open:     len(m.pools),
		Created:  m.created.Load(),
		Sessions: sessions,
		Pools:    make(map[string]sql.DBStats, len(m.pools)),
	}
	for id, p := range m.pools {
		st.Pools[id] = p.db.Stats()
	}
	return st
}
