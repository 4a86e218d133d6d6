package notify

import (
	"sort"
	"sync"
)

type bucket struct {
	ch      *channel
	widgets []*Widget
}

// Registry maps event keys to the widgets listening to them, partitioned by
// session. One delivery channel exists per session and is shared by all of
// the session's keys; it is reference counted by bucket membership.
type Registry struct {
	mu       sync.Mutex
	byKey    map[string]map[string]*bucket // key → session id → bucket
	channels map[string]*channel           // session id → channel
	newChan  func(Session) *channel
}

// newRegistry creates an empty Registry. newChan builds the delivery channel
// for a session the first time one of its widgets registers.
func newRegistry(newChan func(Session) *channel) *Registry {
	return &Registry{
		byKey:    make(map[string]map[string]*bucket),
		channels: make(map[string]*channel),
		newChan:  newChan,
	}
}

// Register adds w to the bucket of each key for w's session.
func (r *Registry) Register(w *Widget, keys ...string) {
	sid := w.session.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range keys {
		sessions, ok := r.byKey[key]
		if !ok {
			sessions = make(map[string]*bucket)
			r.byKey[key] = sessions
		}
		b, ok := sessions[sid]
		if !ok {
			b = &bucket{ch: r.acquireLocked(w.session)}
			sessions[sid] = b
		}
		if indexOf(b.widgets, w) >= 0 {
			continue
		}
		b.widgets = append(b.widgets, w)
	}
}

// sessionWidgets returns every widget registered under session sid.
func (r *Registry) sessionWidgets(sid string) []*Widget {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ws []*Widget
	for _, sessions := range r.byKey {
		b, ok := sessions[sid]
		if !ok {
			continue
		}
		for _, w := range b.widgets {
			if indexOf(ws, w) < 0 {
				ws = append(ws, w)
			}
		}
	}
	return ws
}

// Unregister removes w from the bucket of each key. Pairs that are not
// registered are ignored.
func (r *Registry) Unregister(w *Widget, keys ...string) {
	sid := w.session.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range keys {
		sessions, ok := r.byKey[key]
		if !ok {
			continue
		}
		b, ok := sessions[sid]
		if !ok {
			continue
		}
		i := indexOf(b.widgets, w)
		if i < 0 {
			continue
		}
		last := len(b.widgets) - 1
		b.widgets[i] = b.widgets[last]
		b.widgets[last] = nil
		b.widgets = b.widgets[:last]

		if len(b.widgets) > 0 {
			continue
		}
		delete(sessions, sid)
		r.releaseLocked(sid)
		if len(sessions) == 0 {
			delete(r.byKey, key)
		}
	}
}

// Snapshot returns a copy of the widgets listening to key in session sid.
func (r *Registry) Snapshot(key, sid string) []*Widget {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.byKey[key][sid]
	if !ok {
		return nil
	}
	out := make([]*Widget, len(b.widgets))
	copy(out, b.widgets)
	return out
}

// targets returns the delivery channel of every session listening to key.
func (r *Registry) targets(key string) []*channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := r.byKey[key]
	if len(sessions) == 0 {
		return nil
	}
	out := make([]*channel, 0, len(sessions))
	for _, b := range sessions {
		out = append(out, b.ch)
	}
	return out
}

// Has reports whether any widget listens to key.
func (r *Registry) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byKey[key]
	return ok
}

// KeyStats describes the listeners of one key.
type KeyStats struct {
	Key         string `json:"key"`
	Sessions    int    `json:"sessions"`
	Subscribers int    `json:"subscribers"`
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Keys     []KeyStats `json:"keys"`
	Sessions int        `json:"sessions"`
}

// Stats returns per-key counts sorted by key.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Stats{Sessions: len(r.channels)}
	for key, sessions := range r.byKey {
		ks := KeyStats{Key: key, Sessions: len(sessions)}
		for _, b := range sessions {
			ks.Subscribers += len(b.widgets)
		}
		st.Keys = append(st.Keys, ks)
	}
	sort.Slice(st.Keys, func(i, j int) bool { return st.Keys[i].Key < st.Keys[j].Key })
	return st
}

func (r *Registry) acquireLocked(s Session) *channel {
	sid := s.ID()
	ch, ok := r.channels[sid]
	if !ok {
		ch = r.newChan(s)
		r.channels[sid] = ch
	}
	ch.refs++
	return ch
}

func (r *Registry) releaseLocked(sid string) {
	ch, ok := r.channels[sid]
	if !ok {
		return
	}
	ch.refs--
	if ch.refs <= 0 {
		delete(r.channels, sid)
	}
}

func indexOf(ws []*Widget, w *Widget) int {
	for i, x := range ws {
		if x == w {
			return i
		}
	}
	return -1
}
