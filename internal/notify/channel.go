package notify

import (
	"log/slog"
	"sync"
)

// channel is the delivery channel of one session. Events pushed while a
// delivery callback is already posted join that callback's batch, so a
// session has at most one pending wake-up at a time.
type channel struct {
	session Session
	deliver func(s Session, batch []Event)
	refs    int // guarded by Registry.mu

	mu      sync.Mutex
	pending []Event
	posted  bool
}

// ender is implemented by sessions that expose their end, like
// session.Session. A callback posted to an ended session never runs.
type ender interface {
	Done() <-chan struct{}
}

func newChannel(s Session, deliver func(Session, []Event)) *channel {
	return &channel{session: s, deliver: deliver}
}

// push queues e for delivery. It reports whether a new callback was posted
// and whether the session was still alive.
func (c *channel) push(e Event) (posted, alive bool) {
	c.mu.Lock()
	if c.posted && c.ended() {
		dropped := len(c.pending) + 1
		c.pending = nil
		c.mu.Unlock()
		slog.Debug("session ended with a delivery posted, dropping",
			"session_id", c.session.ID(),
			"events", dropped)
		return false, false
	}
	c.pending = append(c.pending, e)
	if c.posted {
		c.mu.Unlock()
		return false, true
	}
	c.posted = true
	c.mu.Unlock()

	if c.session.Post(c.flush) {
		return true, true
	}

	c.mu.Lock()
	dropped := len(c.pending)
	c.pending = nil
	c.posted = false
	c.mu.Unlock()

	slog.Debug("session gone, dropping delivery",
		"session_id", c.session.ID(),
		"events", dropped)
	return false, false
}

func (c *channel) ended() bool {
	e, ok := c.session.(ender)
	if !ok {
		return false
	}
	select {
	case <-e.Done():
		return true
	default:
		return false
	}
}

// flush runs on the session's context and delivers the accumulated batch.
func (c *channel) flush() {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.posted = false
	c.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	c.deliver(c.session, batch)
}
