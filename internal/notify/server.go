package notify

import (
	"log/slog"
	"sync/atomic"

	"github.com/btouchard/tidings/internal/metrics"
)

// Server passes events to the widgets listening to them, across sessions.
// Delivery to a session happens on that session's execution context through
// its delivery channel. After a session's widgets have been notified, one
// TriggerUpdate is issued for it if any widget asked for it.
type Server struct {
	registry       *Registry
	updatesEnabled atomic.Bool
	directToThis   bool
	metrics        *metrics.Metrics
	journal        Journal
}

// Option configures a Server.
type Option func(*Server)

// WithUpdatesEnabled controls whether deliveries trigger session refreshes.
func WithUpdatesEnabled(enabled bool) Option {
	return func(s *Server) { s.updatesEnabled.Store(enabled) }
}

// WithDirectToThis makes emits from a session deliver to that same session
// synchronously instead of through its delivery channel. A widget that emits
// from Notify then re-enters delivery on the same goroutine.
func WithDirectToThis(direct bool) Option {
	return func(s *Server) { s.directToThis = direct }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithJournal records every emitted event.
func WithJournal(j Journal) Option {
	return func(s *Server) { s.journal = j }
}

// NewServer creates a notification server with an empty registry.
func NewServer(opts ...Option) *Server {
	s := &Server{}
	s.updatesEnabled.Store(true)
	s.registry = newRegistry(func(sess Session) *channel {
		return newChannel(sess, s.deliver)
	})
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry exposes the subscription registry for inspection.
func (s *Server) Registry() *Registry {
	return s.registry
}

// UpdatesEnabled reports whether deliveries trigger session refreshes.
func (s *Server) UpdatesEnabled() bool {
	return s.updatesEnabled.Load()
}

// SetUpdatesEnabled changes whether deliveries trigger session refreshes.
func (s *Server) SetUpdatesEnabled(enabled bool) {
	s.updatesEnabled.Store(enabled)
}

type emitConfig struct {
	origin string
	direct bool
}

// EmitOption configures a single Emit call.
type EmitOption func(*emitConfig)

// FromSession marks the emit as issued by session id.
func FromSession(id string) EmitOption {
	return func(c *emitConfig) { c.origin = id }
}

// Direct requests synchronous delivery to the issuing session for this call.
// It only has effect together with FromSession and must be called from that
// session's execution context.
func Direct() EmitOption {
	return func(c *emitConfig) { c.direct = true }
}

// Emit notifies every widget listening to e.Key(). It returns the number of
// sessions the event was dispatched to.
// If you persist state that widgets read back, emit after committing it.
func (s *Server) Emit(e Event, opts ...EmitOption) int {
	cfg := emitConfig{direct: s.directToThis}
	for _, opt := range opts {
		opt(&cfg)
	}

	if s.journal != nil {
		s.journal.Record(e, cfg.origin)
	}

	targets := s.registry.targets(e.Key())
	s.metrics.EventEmitted(len(targets) > 0)

	for _, ch := range targets {
		if cfg.direct && cfg.origin != "" && ch.session.ID() == cfg.origin {
			s.deliver(ch.session, []Event{e})
			continue
		}
		posted, alive := ch.push(e)
		switch {
		case posted:
			s.metrics.DeliveryPosted()
		case alive:
			s.metrics.EmitCoalesced()
		default:
			s.metrics.DeliveryDropped()
		}
	}

	slog.Debug("event emitted",
		"key", e.Key(),
		"origin", cfg.origin,
		"sessions", len(targets))

	return len(targets)
}

// CloseSession closes every widget of the session with the given id and
// returns how many were closed. Hosts call it when a session ends.
func (s *Server) CloseSession(sid string) int {
	ws := s.registry.sessionWidgets(sid)
	for _, w := range ws {
		w.Close()
	}
	if len(ws) > 0 {
		slog.Debug("session widgets closed", "session_id", sid, "widgets", len(ws))
	}
	return len(ws)
}

// deliver runs on sess's execution context. Widgets are resolved per event at
// this point, so registration changes since Emit are honoured.
func (s *Server) deliver(sess Session, batch []Event) {
	sid := sess.ID()
	updates := false
	notified := 0

	for _, e := range batch {
		for _, w := range s.registry.Snapshot(e.Key(), sid) {
			if w.Closed() {
				continue
			}
			if s.notifyWidget(w, e) {
				updates = true
			}
			notified++
		}
	}

	s.metrics.Notified(notified)

	if updates && s.UpdatesEnabled() {
		sess.TriggerUpdate()
		s.metrics.Refreshed()
	}
}

func (s *Server) notifyWidget(w *Widget, e Event) (updates bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("subscriber panicked",
				"key", e.Key(),
				"session_id", w.session.ID(),
				"panic", r)
			s.metrics.SubscriberPanicked()
			updates = false
		}
	}()

	updates = w.updatesNeeded(e)
	w.sub.Notify(e)
	return updates
}
