package session

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Session is a serial execution context for one client. Posted callbacks run
// one at a time, in order, on the session's own goroutine.
// It implements notify.Session.
type Session struct {
	id      string
	queue   chan func()
	refresh chan struct{}
	done    chan struct{}

	mu        sync.Mutex
	closed    bool
	onRefresh func()
	onClose   []func()

	lastActive atomic.Int64
	now        func() time.Time
}

// New starts a session outside any Manager. It is never reaped; the caller
// must Close it.
func New(id string, queueSize int) *Session {
	return newSession(id, queueSize, time.Now)
}

func newSession(id string, queueSize int, now func() time.Time) *Session {
	if queueSize <= 0 {
		queueSize = 1
	}
	s := &Session{
		id:      id,
		queue:   make(chan func(), queueSize),
		refresh: make(chan struct{}, 1),
		done:    make(chan struct{}),
		now:     now,
	}
	s.Touch()
	go s.run()
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Post queues fn on the session context. It returns false when the session
// is closed or its queue is full; fn will then never run.
func (s *Session) Post(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.queue <- fn:
		return true
	default:
		slog.Warn("session queue full, callback dropped", "session_id", s.id)
		return false
	}
}

// TriggerUpdate schedules the refresh hook. Triggers made before the hook
// runs collapse into one refresh.
func (s *Session) TriggerUpdate() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// SetRefresh sets the hook run on the session context after TriggerUpdate.
func (s *Session) SetRefresh(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRefresh = fn
}

// OnClose registers fn to run when the session closes. If the session is
// already closed fn runs immediately.
func (s *Session) OnClose(fn func()) {
	s.mu.Lock()
	if !s.closed {
		s.onClose = append(s.onClose, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

// Close ends the session. Queued callbacks are discarded and OnClose hooks
// run on the caller's goroutine. Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	hooks := s.onClose
	s.onClose = nil
	close(s.done)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	slog.Debug("session closed", "session_id", s.id)
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Touch marks the session as active now.
func (s *Session) Touch() {
	s.lastActive.Store(s.now().UnixNano())
}

// LastActive returns the last time Touch was called.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) run() {
	for {
		select {
		case <-s.done:
			return
		case fn := <-s.queue:
			s.invoke(fn)
		case <-s.refresh:
			s.mu.Lock()
			hook := s.onRefresh
			s.mu.Unlock()
			if hook != nil {
				s.invoke(hook)
			}
		}
	}
}

func (s *Session) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("session callback panicked",
				"session_id", s.id,
				"panic", r)
		}
	}()
	fn()
}
