package session

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/btouchard/tidings/internal/notify"
)

const maxFrameSize = 64 << 10

// Client operations.
const (
	OpListen   = "listen"
	OpUnlisten = "unlisten"
	OpEmit     = "emit"
)

// Server frame types.
const (
	FrameHello  = "hello"
	FrameEvents = "events"
	FrameError  = "error"
)

// ClientFrame is a message from a websocket client.
type ClientFrame struct {
	Op   string          `json:"op"`
	Key  string          `json:"key"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ServerFrame is a message to a websocket client.
type ServerFrame struct {
	Type    string     `json:"type"`
	Session string     `json:"session,omitempty"`
	Events  []OutEvent `json:"events,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// HandlerConfig configures the websocket endpoint.
type HandlerConfig struct {
	AllowEmit      bool
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	AllowedOrigins []string
	OutboxLimit    int
}

// Handler upgrades HTTP requests to websocket sessions. Each connection gets
// its own Session and a Feed widget whose keys the client controls.
type Handler struct {
	notifier *notify.Server
	manager  *Manager
	cfg      HandlerConfig
	upgrader websocket.Upgrader
}

// NewHandler creates the websocket endpoint.
func NewHandler(n *notify.Server, m *Manager, cfg HandlerConfig) *Handler {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	h := &Handler{
		notifier: n,
		manager:  m,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	if len(cfg.AllowedOrigins) > 0 {
		h.upgrader.CheckOrigin = h.checkOrigin
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, "*") || slices.Contains(h.cfg.AllowedOrigins, origin)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:         conn,
		writeTimeout: h.cfg.WriteTimeout,
		session:      h.manager.Create(),
		feed:         NewFeed(h.cfg.OutboxLimit),
	}
	c.widget = h.notifier.Listen(c.session, c.feed)
	c.session.OnClose(c.widget.Close)
	c.session.SetRefresh(c.flush)

	slog.Info("websocket client connected",
		"session_id", c.session.ID(),
		"remote_addr", r.RemoteAddr)

	if err := c.write(ServerFrame{Type: FrameHello, Session: c.session.ID()}); err != nil {
		c.session.Close()
		_ = conn.Close()
		return
	}

	go h.keepAlive(c)
	h.readLoop(c)
}

type client struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	session      *Session
	feed         *Feed
	widget       *notify.Widget

	writeMu sync.Mutex
}

func (c *client) write(f ServerFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(f)
}

func (c *client) writeError(msg string) {
	if err := c.write(ServerFrame{Type: FrameError, Error: msg}); err != nil {
		slog.Debug("websocket write failed", "session_id", c.session.ID(), "error", err)
	}
}

// flush runs on the session context as its refresh hook.
func (c *client) flush() {
	events := c.feed.Drain()
	if len(events) == 0 {
		return
	}
	if err := c.write(ServerFrame{Type: FrameEvents, Events: events}); err != nil {
		slog.Debug("websocket write failed", "session_id", c.session.ID(), "error", err)
		_ = c.conn.Close()
	}
}

func (h *Handler) readLoop(c *client) {
	defer func() {
		c.session.Close()
		_ = c.conn.Close()
		slog.Info("websocket client disconnected", "session_id", c.session.ID())
	}()

	c.conn.SetReadLimit(maxFrameSize)
	if h.cfg.PingInterval > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(2 * h.cfg.PingInterval))
		c.conn.SetPongHandler(func(string) error {
			c.session.Touch()
			return c.conn.SetReadDeadline(time.Now().Add(2 * h.cfg.PingInterval))
		})
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.session.Touch()

		var f ClientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.writeError("invalid frame: " + err.Error())
			continue
		}
		if f.Key == "" {
			c.writeError("key is required")
			continue
		}
		if !c.session.Post(func() { h.apply(c, f) }) {
			return
		}
	}
}

// apply runs on the session context.
func (h *Handler) apply(c *client, f ClientFrame) {
	switch f.Op {
	case OpListen:
		c.widget.Listen(f.Key)
	case OpUnlisten:
		c.widget.StopListening(f.Key)
	case OpEmit:
		if !h.cfg.AllowEmit {
			c.writeError("emit is disabled")
			return
		}
		msg := notify.NewMessage(f.Key, f.Data)
		msg.Origin = c.session.ID()
		h.notifier.Emit(msg, notify.FromSession(c.session.ID()))
	default:
		c.writeError("unknown op: " + f.Op)
	}
}

func (h *Handler) keepAlive(c *client) {
	var tick <-chan time.Time
	if h.cfg.PingInterval > 0 {
		ticker := time.NewTicker(h.cfg.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-c.session.Done():
			c.writeMu.Lock()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.writeTimeout))
			c.writeMu.Unlock()
			_ = c.conn.Close()
			return
		case <-tick:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.session.Close()
				return
			}
		}
	}
}
