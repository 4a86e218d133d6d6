package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Reminder statuses.
const (
	StatusScheduled = "scheduled"
	StatusFired     = "fired"
)

// Store is the persistence interface for tidings.
// Defined at the consumer side per Go conventions.
type Store interface {
	// Reminders
	CreateReminder(r *ReminderRecord) error
	GetReminder(id string) (*ReminderRecord, error)
	MarkReminderFired(id string, at time.Time) error
	ListReminders(f ReminderFilter) ([]ReminderRecord, error)

	// Event journal
	AddEvent(e *EventRecord) error
	GetEvents(key string, limit int) ([]EventRecord, error)

	// Maintenance
	Cleanup(before time.Time) error
	Close() error
}

// ReminderRecord is a persisted planned broadcast.
type ReminderRecord struct {
	ID        string
	Key       string
	Data      string
	FireAt    time.Time
	Cron      string
	Status    string
	CreatedAt time.Time
	FiredAt   time.Time
}

// ReminderFilter specifies criteria for listing reminders.
type ReminderFilter struct {
	Status string
	Key    string
	Limit  int
}

// EventRecord is one emitted event in the journal.
type EventRecord struct {
	ID        int64
	Key       string
	Data      string
	Origin    string
	CreatedAt time.Time
}
