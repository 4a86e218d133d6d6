package planning

import (
	"log/slog"
	"sync"
	"time"

	"github.com/btouchard/tidings/internal/metrics"
	"github.com/btouchard/tidings/internal/notify"
)

// ScheduleFunc runs fn once after wait and returns a function that cancels
// the call if it has not started yet. fn must run on another goroutine, never
// inside the ScheduleFunc call.
type ScheduleFunc func(wait time.Duration, fn func()) (cancel func() bool)

// AfterFunc is the default ScheduleFunc, backed by time.AfterFunc.
func AfterFunc(wait time.Duration, fn func()) func() bool {
	return time.AfterFunc(wait, fn).Stop
}

// Server holds planned tasks and fires each one at its time plus Delay.
// After a task is processed it is emitted through the notification server,
// if one is set and the task's run still needs notification.
//
// Firings are serialized: a task never starts while another task's Process,
// emit or staged adds are still in progress.
type Server struct {
	schedule ScheduleFunc
	now      func() time.Time
	metrics  *metrics.Metrics

	runMu sync.Mutex

	mu                  sync.Mutex
	notifier            *notify.Server
	delay               time.Duration
	defaultNotifyNeeded bool
	pending             map[uint64]func() bool
	nextID              uint64
	stopped             bool
}

// Option configures a Server.
type Option func(*Server)

// WithNotifier sets the notification server tasks are emitted to.
func WithNotifier(n *notify.Server) Option {
	return func(s *Server) { s.notifier = n }
}

// WithDelay adds d to every planned time.
func WithDelay(d time.Duration) Option {
	return func(s *Server) { s.delay = d }
}

// WithDefaultNotifyNeeded sets the notify-needed value each run starts with.
func WithDefaultNotifyNeeded(v bool) Option {
	return func(s *Server) { s.defaultNotifyNeeded = v }
}

// WithScheduler replaces the timer primitive.
func WithScheduler(fn ScheduleFunc) Option {
	return func(s *Server) { s.schedule = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a planning server.
func NewServer(opts ...Option) *Server {
	s := &Server{
		schedule:            AfterFunc,
		now:                 time.Now,
		defaultNotifyNeeded: true,
		pending:             make(map[uint64]func() bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add plans t for when + Delay(). It returns false, and does nothing, when
// when is the zero time or the server is stopped.
// Inside Task.Process use Run.Add instead.
func (s *Server) Add(t Task, when time.Time) bool {
	if when.IsZero() {
		return false
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		slog.Debug("planning server stopped, task not scheduled", "key", t.Key())
		return false
	}
	wait := when.Add(s.delay).Sub(s.now())
	if wait < 0 {
		wait = 0
	}
	id := s.nextID
	s.nextID++
	s.pending[id] = nil
	n := len(s.pending)
	s.mu.Unlock()

	s.metrics.SetTasksPending(n)

	cancel := s.schedule(wait, func() { s.fire(id, t) })

	s.mu.Lock()
	if _, ok := s.pending[id]; ok {
		s.pending[id] = cancel
	}
	s.mu.Unlock()

	slog.Debug("task planned",
		"key", t.Key(),
		"when", when,
		"wait", wait)
	return true
}

func (s *Server) fire(id uint64, t Task) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	if _, ok := s.pending[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	n := len(s.pending)
	s.mu.Unlock()

	s.metrics.SetTasksPending(n)
	s.process(t)
}

// process runs t, emits it if needed, then schedules what t staged.
func (s *Server) process(t Task) {
	run := &Run{
		task:         t,
		server:       s,
		now:          s.now(),
		notifyNeeded: s.DefaultNotifyNeeded(),
	}

	s.invoke(run)
	s.metrics.TaskFired()

	if n := s.Notifier(); n != nil && run.notifyNeeded {
		n.Emit(t)
	}

	for _, st := range run.staged {
		s.Add(st.task, st.when)
	}
}

func (s *Server) invoke(run *Run) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("task panicked",
				"key", run.task.Key(),
				"panic", r)
			s.metrics.TaskPanicked()
		}
	}()
	run.task.Process(run)
}

// Pending returns the number of planned tasks that have not fired.
func (s *Server) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every pending task. Later calls to Add return false.
func (s *Server) Stop() {
	s.mu.Lock()
	s.stopped = true
	pending := s.pending
	s.pending = make(map[uint64]func() bool)
	s.mu.Unlock()

	for _, cancel := range pending {
		if cancel != nil {
			cancel()
		}
	}
	s.metrics.SetTasksPending(0)
	slog.Debug("planning server stopped", "cancelled", len(pending))
}

// Delay returns the extra delay added to planned times.
func (s *Server) Delay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay
}

// SetDelay changes the extra delay. Already planned tasks keep theirs.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// DefaultNotifyNeeded returns the notify-needed value each run starts with.
func (s *Server) DefaultNotifyNeeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaultNotifyNeeded
}

// SetDefaultNotifyNeeded changes the notify-needed default.
func (s *Server) SetDefaultNotifyNeeded(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultNotifyNeeded = v
}

// Notifier returns the notification server, or nil.
func (s *Server) Notifier() *notify.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifier
}

// SetNotifier sets the notification server processed tasks are emitted to.
func (s *Server) SetNotifier(n *notify.Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}
