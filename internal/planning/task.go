package planning

import (
	"time"

	"github.com/btouchard/tidings/internal/notify"
)

// Task is an Event that fires once at a planned time. Process runs on a
// timer goroutine and must handle its own failures; a panic is recovered and
// logged but the task is not retried.
//
// To schedule further tasks from Process, use run.Add: additions are staged
// and only scheduled after Process returns. A direct Server.Add from Process
// is scheduled at once, but the server does not fire it until the current
// firing has finished.
type Task interface {
	notify.Event
	Process(run *Run)
}

type staged struct {
	task Task
	when time.Time
}

// Run is the context of one task firing.
type Run struct {
	task         Task
	server       *Server
	now          time.Time
	notifyNeeded bool
	staged       []staged
}

// Task returns the task being processed.
func (r *Run) Task() Task { return r.task }

// Server returns the planning server that fired the task.
func (r *Run) Server() *Server { return r.server }

// Now is the time the firing started.
func (r *Run) Now() time.Time { return r.now }

// NotifyNeeded reports whether the task will be emitted after Process.
func (r *Run) NotifyNeeded() bool { return r.notifyNeeded }

// SetNotifyNeeded overrides the server default for this firing.
func (r *Run) SetNotifyNeeded(v bool) { r.notifyNeeded = v }

// Add stages t for scheduling at when once Process returns. Like Server.Add
// it returns false for a zero time.
func (r *Run) Add(t Task, when time.Time) bool {
	if when.IsZero() {
		return false
	}
	r.staged = append(r.staged, staged{task: t, when: when})
	return true
}

// FuncTask is a Task backed by a function.
type FuncTask struct {
	key string
	fn  func(run *Run)
}

// NewFuncTask creates a task with the given key that calls fn when fired.
func NewFuncTask(key string, fn func(run *Run)) *FuncTask {
	return &FuncTask{key: key, fn: fn}
}

// Key implements notify.Event.
func (t *FuncTask) Key() string { return t.key }

// Process implements Task.
func (t *FuncTask) Process(run *Run) {
	if t.fn != nil {
		t.fn(run)
	}
}
