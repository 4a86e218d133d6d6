package planning

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/btouchard/tidings/internal/store"
)

// Validation errors returned by Planner.Schedule.
var (
	ErrKeyRequired = errors.New("key is required")
	ErrNoFireTime  = errors.New("reminder needs a fire time or a cron spec")
	ErrInvalidCron = errors.New("invalid cron spec")
)

// ReminderStore is the persistence the Planner needs.
// Defined at the consumer side per Go convention.
type ReminderStore interface {
	CreateReminder(r *store.ReminderRecord) error
	MarkReminderFired(id string, at time.Time) error
	ListReminders(f store.ReminderFilter) ([]store.ReminderRecord, error)
}

// Reminder is a persisted task that broadcasts Data under Name when it fires.
// A reminder with a cron schedule plans its successor as it fires.
type Reminder struct {
	ID     string
	Name   string
	Data   json.RawMessage
	FireAt time.Time
	Cron   string

	schedule cron.Schedule
	planner  *Planner
}

// Key implements notify.Event.
func (r *Reminder) Key() string { return r.Name }

// Payload implements notify.Payloader.
func (r *Reminder) Payload() json.RawMessage { return r.Data }

// Process implements Task.
func (r *Reminder) Process(run *Run) {
	if err := r.planner.store.MarkReminderFired(r.ID, run.Now()); err != nil {
		slog.Error("failed to mark reminder fired",
			"task_id", r.ID,
			"key", r.Name,
			"error", err)
	}

	if r.schedule == nil {
		return
	}

	next, err := r.planner.persist(r.Name, r.Data, r.schedule.Next(run.Now()), r.Cron, r.schedule)
	if err != nil {
		slog.Error("failed to plan next occurrence",
			"task_id", r.ID,
			"key", r.Name,
			"error", err)
		return
	}
	run.Add(next, next.FireAt)
}

// Planner persists reminders and hands them to the planning server.
type Planner struct {
	server *Server
	store  ReminderStore
	now    func() time.Time
}

// NewPlanner creates a Planner.
func NewPlanner(server *Server, st ReminderStore) *Planner {
	return &Planner{server: server, store: st, now: server.now}
}

// Schedule persists a reminder and plans it. With a cron expression and a zero at,
// the first occurrence is its next match.
func (p *Planner) Schedule(key string, data json.RawMessage, at time.Time, cronSpec string) (*Reminder, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}

	var sched cron.Schedule
	if cronSpec != "" {
		s, err := cron.ParseStandard(cronSpec)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidCron, cronSpec, err)
		}
		sched = s
		if at.IsZero() {
			at = sched.Next(p.now())
		}
	}
	if at.IsZero() {
		return nil, ErrNoFireTime
	}

	r, err := p.persist(key, data, at, cronSpec, sched)
	if err != nil {
		return nil, err
	}
	if !p.server.Add(r, r.FireAt) {
		return nil, fmt.Errorf("planning server refused reminder %s", r.ID)
	}

	slog.Info("reminder scheduled",
		"task_id", r.ID,
		"key", key,
		"fire_at", r.FireAt,
		"cron", cronSpec)
	return r, nil
}

// Restore plans every reminder still marked scheduled. Overdue ones fire
// right away. It returns the number restored.
func (p *Planner) Restore() (int, error) {
	recs, err := p.store.ListReminders(store.ReminderFilter{Status: store.StatusScheduled})
	if err != nil {
		return 0, fmt.Errorf("loading reminders: %w", err)
	}

	restored := 0
	for _, rec := range recs {
		r := &Reminder{
			ID:      rec.ID,
			Name:    rec.Key,
			Data:    json.RawMessage(rec.Data),
			FireAt:  rec.FireAt,
			Cron:    rec.Cron,
			planner: p,
		}
		if rec.Cron != "" {
			sched, err := cron.ParseStandard(rec.Cron)
			if err != nil {
				slog.Warn("skipping reminder with invalid cron spec",
					"task_id", rec.ID,
					"cron", rec.Cron,
					"error", err)
				continue
			}
			r.schedule = sched
		}
		if p.server.Add(r, r.FireAt) {
			restored++
		}
	}

	slog.Info("reminders restored", "count", restored)
	return restored, nil
}

// List returns persisted reminders.
func (p *Planner) List(f store.ReminderFilter) ([]store.ReminderRecord, error) {
	return p.store.ListReminders(f)
}

func (p *Planner) persist(key string, data json.RawMessage, at time.Time, cronSpec string, sched cron.Schedule) (*Reminder, error) {
	now := p.now()
	r := &Reminder{
		ID:       NewID(at),
		Name:     key,
		Data:     data,
		FireAt:   at,
		Cron:     cronSpec,
		schedule: sched,
		planner:  p,
	}
	err := p.store.CreateReminder(&store.ReminderRecord{
		ID:        r.ID,
		Key:       key,
		Data:      string(data),
		FireAt:    at,
		Cron:      cronSpec,
		Status:    store.StatusScheduled,
		CreatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("saving reminder: %w", err)
	}
	return r, nil
}
