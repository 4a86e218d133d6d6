package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/btouchard/tidings/internal/notify"
	"github.com/btouchard/tidings/internal/planning"
	"github.com/btouchard/tidings/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type handlers struct {
	deps Deps
}

type emitRequest struct {
	Key  string          `json:"key"`
	Data json.RawMessage `json:"data,omitempty"`
}

type emitResponse struct {
	Key      string `json:"key"`
	Sessions int    `json:"sessions"`
}

func (h *handlers) emitEvent(w http.ResponseWriter, r *http.Request) {
	var req emitRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	n := h.deps.Notifier.Emit(notify.NewMessage(req.Key, req.Data))
	slog.Debug("event emitted over http", "key", req.Key, "sessions", n)
	writeJSON(w, http.StatusAccepted, emitResponse{Key: req.Key, Sessions: n})
}

type reminderRequest struct {
	Key  string          `json:"key"`
	Data json.RawMessage `json:"data,omitempty"`
	At   time.Time       `json:"at"`
	In   string          `json:"in,omitempty"`
	Cron string          `json:"cron,omitempty"`
}

type reminderView struct {
	ID        string          `json:"id"`
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data,omitempty"`
	FireAt    time.Time       `json:"fire_at"`
	Cron      string          `json:"cron,omitempty"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at,omitzero"`
	FiredAt   time.Time       `json:"fired_at,omitzero"`
}

func (h *handlers) scheduleReminder(w http.ResponseWriter, r *http.Request) {
	var req reminderRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.In != "" {
		d, err := time.ParseDuration(req.In)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid duration %q", req.In))
			return
		}
		req.At = h.deps.Now().Add(d)
	}

	rem, err := h.deps.Planner.Schedule(req.Key, req.Data, req.At, req.Cron)
	switch {
	case errors.Is(err, planning.ErrKeyRequired),
		errors.Is(err, planning.ErrNoFireTime),
		errors.Is(err, planning.ErrInvalidCron):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		slog.Error("failed to schedule reminder", "key", req.Key, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to schedule reminder")
		return
	}

	writeJSON(w, http.StatusCreated, reminderView{
		ID:     rem.ID,
		Key:    rem.Name,
		Data:   rem.Data,
		FireAt: rem.FireAt,
		Cron:   rem.Cron,
		Status: store.StatusScheduled,
	})
}

func (h *handlers) listReminders(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := h.deps.Planner.List(store.ReminderFilter{
		Status: r.URL.Query().Get("status"),
		Key:    r.URL.Query().Get("key"),
		Limit:  limit,
	})
	if err != nil {
		slog.Error("failed to list reminders", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list reminders")
		return
	}

	out := make([]reminderView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, reminderView{
			ID:        rec.ID,
			Key:       rec.Key,
			Data:      rawJSON(rec.Data),
			FireAt:    rec.FireAt,
			Cron:      rec.Cron,
			Status:    rec.Status,
			CreatedAt: rec.CreatedAt,
			FiredAt:   rec.FiredAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"reminders": out})
}

type eventView struct {
	ID        int64           `json:"id"`
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data,omitempty"`
	Origin    string          `json:"origin,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (h *handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	if h.deps.Events == nil {
		writeError(w, http.StatusNotFound, "event journal is disabled")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := h.deps.Events.GetEvents(r.URL.Query().Get("key"), limit)
	if err != nil {
		slog.Error("failed to read events", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	out := make([]eventView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, eventView{
			ID:        rec.ID,
			Key:       rec.Key,
			Data:      rawJSON(rec.Data),
			Origin:    rec.Origin,
			CreatedAt: rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (h *handlers) listKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Notifier.Registry().Stats())
}

func (h *handlers) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parseLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid limit %q", s)
	}
	return min(n, maxListLimit), nil
}

// rawJSON returns s as raw JSON, or as a JSON string when s is not valid JSON.
func rawJSON(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
