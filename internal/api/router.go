package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/btouchard/tidings/internal/auth"
	"github.com/btouchard/tidings/internal/notify"
	"github.com/btouchard/tidings/internal/planning"
	"github.com/btouchard/tidings/internal/store"
)

// EventReader reads the event journal.
type EventReader interface {
	GetEvents(key string, limit int) ([]store.EventRecord, error)
}

// Deps holds what the HTTP surface needs. WS, MCP and Metrics are optional.
type Deps struct {
	Notifier *notify.Server
	Planner  *planning.Planner
	Events   EventReader
	Tokens   *auth.TokenSet

	WS          http.Handler
	MCP         http.Handler
	Metrics     http.Handler
	MetricsPath string

	// MaxBodyBytes bounds request bodies on /api. Zero means 1 MiB.
	MaxBodyBytes int64
	// Now replaces time.Now.
	Now func() time.Time
}

// NewRouter builds the chi router for the whole HTTP surface.
func NewRouter(d Deps) http.Handler {
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = 1 << 20
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	h := &handlers{deps: d}

	r := chi.NewRouter()
	r.Use(SecurityHeaders)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if d.Metrics != nil {
		path := d.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, d.Metrics)
	}

	if d.WS != nil {
		r.Handle("/ws", d.WS)
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(d.Tokens))

		r.Route("/api", func(r chi.Router) {
			r.Post("/events", h.emitEvent)
			r.Get("/events", h.listEvents)
			r.Post("/reminders", h.scheduleReminder)
			r.Get("/reminders", h.listReminders)
			r.Get("/keys", h.listKeys)
		})

		if d.MCP != nil {
			r.Handle("/mcp", d.MCP)
		}
	})

	return r
}
