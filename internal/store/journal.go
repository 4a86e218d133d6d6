package store

import (
	"log/slog"
	"time"

	"github.com/btouchard/tidings/internal/notify"
)

// Journal writes emitted events to the events table.
type Journal struct {
	Store Store
}

// Record implements notify.Journal. Failures are logged, not returned.
func (j Journal) Record(e notify.Event, origin string) {
	rec := &EventRecord{
		Key:       e.Key(),
		Origin:    origin,
		CreatedAt: time.Now(),
	}
	if p, ok := e.(notify.Payloader); ok {
		rec.Data = string(p.Payload())
	}
	if err := j.Store.AddEvent(rec); err != nil {
		slog.Warn("failed to journal event", "key", rec.Key, "error", err)
	}
}
