package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/btouchard/tidings/internal/notify"
)

const defaultOutboxLimit = 1000

// OutEvent is an event as sent to a websocket client.
type OutEvent struct {
	Key    string          `json:"key"`
	Data   json.RawMessage `json:"data,omitempty"`
	Origin string          `json:"origin,omitempty"`
	At     time.Time       `json:"at"`
}

// Feed is the subscriber behind a websocket client. Delivered events wait in
// an outbox until the session refresh drains them.
type Feed struct {
	limit int

	mu      sync.Mutex
	outbox  []OutEvent
	dropped int
}

// NewFeed creates a Feed holding at most limit undrained events.
// Older events are discarded first.
func NewFeed(limit int) *Feed {
	if limit <= 0 {
		limit = defaultOutboxLimit
	}
	return &Feed{limit: limit}
}

// Notify implements notify.Subscriber.
func (f *Feed) Notify(e notify.Event) {
	out := OutEvent{Key: e.Key(), At: time.Now()}
	if m, ok := e.(*notify.Message); ok {
		out.Origin = m.Origin
		if !m.CreatedAt.IsZero() {
			out.At = m.CreatedAt
		}
	}
	if p, ok := e.(notify.Payloader); ok {
		out.Data = p.Payload()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.outbox) >= f.limit {
		f.outbox = f.outbox[1:]
		f.dropped++
	}
	f.outbox = append(f.outbox, out)
}

// UpdatesNeeded implements notify.UpdatesDecider. Every event changes what
// the client sees.
func (f *Feed) UpdatesNeeded(notify.Event) bool { return true }

// Drain returns and clears the outbox.
func (f *Feed) Drain() []OutEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.outbox
	f.outbox = nil
	return out
}

// Dropped returns how many events were discarded because the outbox was full.
func (f *Feed) Dropped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}
