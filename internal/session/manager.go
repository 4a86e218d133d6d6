package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/btouchard/tidings/internal/metrics"
	"github.com/btouchard/tidings/internal/notify"
)

const defaultQueueSize = 256

// Manager creates sessions and closes the ones left idle.
type Manager struct {
	queueSize   int
	idleTimeout time.Duration
	metrics     *metrics.Metrics
	notifier    *notify.Server
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithQueueSize bounds each session's callback queue.
func WithQueueSize(n int) Option {
	return func(m *Manager) { m.queueSize = n }
}

// WithIdleTimeout closes sessions inactive for longer than d. Zero disables reaping.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) { m.idleTimeout = d }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithNotifier closes a session's widgets on n when the session closes.
func WithNotifier(n *notify.Server) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		queueSize: defaultQueueSize,
		now:       time.Now,
		sessions:  make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create starts a new session with a random id.
func (m *Manager) Create() *Session {
	s := newSession(uuid.NewString(), m.queueSize, m.now)

	m.mu.Lock()
	m.sessions[s.id] = s
	n := len(m.sessions)
	m.mu.Unlock()
	m.metrics.SetSessionsActive(n)

	s.OnClose(func() {
		if m.notifier != nil {
			m.notifier.CloseSession(s.id)
		}
		m.remove(s.id)
	})
	slog.Debug("session created", "session_id", s.id)
	return s
}

// Get returns the open session with the given id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Reap closes sessions idle for longer than the idle timeout and returns
// how many were closed.
func (m *Manager) Reap() int {
	if m.idleTimeout <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.idleTimeout)

	m.mu.Lock()
	var idle []*Session
	for _, s := range m.sessions {
		if s.LastActive().Before(cutoff) {
			idle = append(idle, s)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		slog.Info("closing idle session", "session_id", s.id)
		s.Close()
	}
	return len(idle)
}

// Run reaps idle sessions until ctx is done, then closes every session.
func (m *Manager) Run(ctx context.Context) error {
	defer m.CloseAll()
	if m.idleTimeout <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(m.idleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Reap()
		}
	}
}

// CloseAll closes every open session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()
	m.metrics.SetSessionsActive(n)
}
