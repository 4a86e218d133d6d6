package notify

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Widget is a subscriber handle: a Subscriber bound to one session and a set
// of event keys. It is registered by Server.Listen and stays registered until
// Close. A closed widget is never notified again.
type Widget struct {
	server  *Server
	session Session
	sub     Subscriber

	mu     sync.Mutex
	keys   map[string]struct{}
	closed atomic.Bool
}

// Listen creates a widget for sub in session s and registers it for keys.
func (s *Server) Listen(sess Session, sub Subscriber, keys ...string) *Widget {
	w := &Widget{
		server:  s,
		session: sess,
		sub:     sub,
		keys:    make(map[string]struct{}, len(keys)),
	}
	for _, k := range keys {
		w.Listen(k)
	}
	return w
}

// Listen adds key to the widget's subscriptions.
func (w *Widget) Listen(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed.Load() {
		return
	}
	if _, ok := w.keys[key]; ok {
		return
	}
	w.keys[key] = struct{}{}
	w.server.registry.Register(w, key)
}

// StopListening removes key from the widget's subscriptions.
// Removing a key the widget does not listen to is a no-op.
func (w *Widget) StopListening(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.keys[key]; !ok {
		return
	}
	delete(w.keys, key)
	w.server.registry.Unregister(w, key)
}

// Keys returns the keys the widget listens to, sorted.
func (w *Widget) Keys() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]string, 0, len(w.keys))
	for k := range w.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Session returns the session the widget belongs to.
func (w *Widget) Session() Session {
	return w.session
}

// Close unregisters every key. It is safe to call from the widget's own
// Notify and more than once.
func (w *Widget) Close() {
	if w.closed.Swap(true) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	keys := make([]string, 0, len(w.keys))
	for k := range w.keys {
		keys = append(keys, k)
	}
	clear(w.keys)
	w.server.registry.Unregister(w, keys...)
}

// Closed reports whether Close has been called.
func (w *Widget) Closed() bool {
	return w.closed.Load()
}

func (w *Widget) updatesNeeded(e Event) bool {
	if d, ok := w.sub.(UpdatesDecider); ok {
		return d.UpdatesNeeded(e)
	}
	return true
}
