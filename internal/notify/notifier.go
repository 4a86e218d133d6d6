package notify

import (
	"encoding/json"
	"time"
)

// Event is a named occurrence. Widgets listening to Key() are notified.
type Event interface {
	Key() string
}

// Message is the Event used by the HTTP, MCP and websocket surfaces.
type Message struct {
	Name      string          `json:"key"`
	Data      json.RawMessage `json:"data,omitempty"`
	Origin    string          `json:"origin,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewMessage creates a Message stamped with the current time.
func NewMessage(key string, data json.RawMessage) *Message {
	return &Message{Name: key, Data: data, CreatedAt: time.Now()}
}

// Key implements Event.
func (m *Message) Key() string { return m.Name }

// Payload implements Payloader.
func (m *Message) Payload() json.RawMessage { return m.Data }

// Payloader is implemented by events that carry a JSON body.
type Payloader interface {
	Payload() json.RawMessage
}

// Subscriber reacts to events delivered on its session's execution context.
// Notify must not block.
type Subscriber interface {
	Notify(e Event)
}

// UpdatesDecider is optionally implemented by subscribers that do not always
// change what the session presents. Subscribers without it count as true.
type UpdatesDecider interface {
	UpdatesNeeded(e Event) bool
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(e Event)

// Notify implements Subscriber.
func (f SubscriberFunc) Notify(e Event) { f(e) }

// Session is the host's execution context for one client.
// Defined consumer-side; internal/session provides the implementation.
type Session interface {
	// ID is stable for the life of the session.
	ID() string
	// Post runs fn later on the session's own context. It reports false when
	// the session has ended and fn will never run.
	Post(fn func()) bool
	// TriggerUpdate pushes pending presentation changes to the client.
	TriggerUpdate()
}

// Journal records emitted events.
type Journal interface {
	Record(e Event, origin string)
}
