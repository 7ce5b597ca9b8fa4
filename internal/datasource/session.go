package datasource

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session holds the source in effect for one caller when a call omits the
// source id. Sessions are independent: switching one never affects another.
type Session struct {
	key string
	m   *Manager

	mu      sync.Mutex
	current string
}

// Key returns the key the session is registered under.
func (s *Session) Key() string {
	return s.key
}

// CurrentID returns the current source id, or "" when unset.
func (s *Session) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SwitchTo makes id the session's current source. The pool for id is created
// and probed first, without holding the session lock; on failure the current
// source is left unchanged. Switching to the current source is a no-op.
func (s *Session) SwitchTo(ctx context.Context, id string) error {
	if id != "" && id == s.CurrentID() {
		return nil
	}
	for attempt := 0; ; attempt++ {
		gen := s.m.generation(id)
		if _, err := s.m.acquire(ctx, id); err != nil {
			return err
		}

		s.mu.Lock()
		// A Refresh or Remove that ran during acquire did not see this
		// session on id, so check the pool is still the one we probed.
		if s.m.generation(id) == gen || attempt >= maxStaleRetries {
			s.current = id
			s.mu.Unlock()
			break
		}
		s.mu.Unlock()
	}
	s.m.log.Info("session switched source",
		zap.String("session", s.key), zap.String("source_id", id))
	return nil
}

// Current returns an executor for the current source.
func (s *Session) Current(ctx context.Context) (*Executor, error) {
	id := s.CurrentID()
	if id == "" {
		return nil, ErrNoActiveSource
	}
	if p := s.m.cached(id); p != nil {
		return s.m.executor(p), nil
	}
	// The pool was disposed underneath us; rebuild it or drop the handle.
	ex, err := s.m.acquire(ctx, id)
	if err != nil {
		if ctx.Err() == nil {
			s.clearIf(id)
		}
		return nil, err
	}
	return ex, nil
}

// clearIf unsets the current source when it equals id.
func (s *Session) clearIf(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == id {
		s.current = ""
	}
}

// Session returns the session registered under key, creating it on first
// use. A new session starts on the registry's default source when one is
// flagged and reachable.
func (m *Manager) Session(ctx context.Context, key string) *Session {
	m.sessMu.Lock()
	s, ok := m.sessions[key]
	if !ok {
		s = &Session{key: key, m: m}
		m.sessions[key] = s
	}
	m.sessMu.Unlock()

	if !ok {
		m.seed(ctx, s)
	}
	return s
}

// NewSession creates a session under a random key.
func (m *Manager) NewSession(ctx context.Context) *Session {
	return m.Session(ctx, uuid.NewString())
}

// CloseSession forgets the session registered under key. Pools are shared
// and stay open.
func (m *Manager) CloseSession(key string) {
	m.sessMu.Lock()
	delete(m.sessions, key)
	m.sessMu.Unlock()
}

func (m *Manager) seed(ctx context.Context, s *Session) {
	def, err := m.registry.ListDefault(ctx)
	if err != nil {
		m.log.Warn("look up default source", zap.String("session", s.key), zap.Error(err))
		return
	}
	if def == nil || !def.Active {
		return
	}
	if err := s.SwitchTo(ctx, def.ID); err != nil {
		m.log.Warn("default source unavailable",
			zap.String("session", s.key), zap.String("source_id", def.ID), zap.Error(err))
	}
}

// sessionsOn returns every session whose current source is id.
func (m *Manager) sessionsOn(id string) []*Session {
	m.sessMu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessMu.Unlock()

	var out []*Session
	for _, s := range all {
		if s.CurrentID() == id {
			out = append(out, s)
		}
	}
	return out
}

type sessionKey struct{}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session carried by ctx, or nil.
func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}
