package mcp

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/btouchard/tidings/internal/notify"
	"github.com/btouchard/tidings/internal/session"
)

const bridgeSessionPrefix = "mcp-bridge-"

// Sender abstracts the mcp-go server notification method.
// Defined consumer-side per Go convention.
type Sender interface {
	SendNotificationToAllClients(method string, params map[string]any)
}

// Bridge forwards events for selected keys to every connected MCP client as
// notifications/message. It listens on its own session, so forwarding never
// runs on the emitter's goroutine.
type Bridge struct {
	sender   Sender
	debounce time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time // key → last forwarded notification time

	session *session.Session
	widget  *notify.Widget
}

// NewBridge creates a Bridge. At most one event per key is forwarded within
// debounce; later ones in the window are dropped.
func NewBridge(sender Sender, debounce time.Duration) *Bridge {
	if debounce < 0 {
		debounce = 0
	}
	return &Bridge{
		sender:   sender,
		debounce: debounce,
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

// Attach starts listening to keys on n.
func (b *Bridge) Attach(n *notify.Server, keys ...string) {
	b.session = session.New(bridgeSessionPrefix+uuid.NewString(), 256)
	b.widget = n.Listen(b.session, b, keys...)
	b.session.OnClose(b.widget.Close)
	slog.Info("mcp bridge attached", "keys", keys)
}

// Close stops forwarding.
func (b *Bridge) Close() {
	if b.session != nil {
		b.session.Close()
	}
}

// Notify implements notify.Subscriber.
func (b *Bridge) Notify(e notify.Event) {
	key := e.Key()

	b.mu.Lock()
	now := b.now()
	last, ok := b.lastSent[key]
	if ok && now.Sub(last) < b.debounce {
		b.mu.Unlock()
		slog.Debug("mcp bridge: debounced", "key", key)
		return
	}
	b.lastSent[key] = now
	b.mu.Unlock()

	data := map[string]any{"key": key}
	if p, ok := e.(notify.Payloader); ok && len(p.Payload()) > 0 {
		data["data"] = json.RawMessage(p.Payload())
	}
	if m, ok := e.(*notify.Message); ok && m.Origin != "" {
		data["origin"] = m.Origin
	}

	b.sender.SendNotificationToAllClients("notifications/message", map[string]any{
		"level":  "info",
		"logger": "tidings",
		"data":   data,
	})
}

// UpdatesNeeded implements notify.UpdatesDecider. Forwarding has no
// presentation to refresh.
func (b *Bridge) UpdatesNeeded(notify.Event) bool { return false }
