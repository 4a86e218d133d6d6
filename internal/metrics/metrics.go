package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tidings"

// Metrics exposes Prometheus collectors for the broadcaster, the planner and
// the session host. All methods are safe on a nil receiver so components can
// run without metrics.
type Metrics struct {
	eventsEmitted   *prometheus.CounterVec
	deliveries      prometheus.Counter
	coalesced       prometheus.Counter
	dropped         prometheus.Counter
	notifications   prometheus.Counter
	refreshes       prometheus.Counter
	tasksFired      prometheus.Counter
	taskPanics      prometheus.Counter
	tasksPending    prometheus.Gauge
	sessionsActive  prometheus.Gauge
	subscriberPanic prometheus.Counter
}

// MustNewMetrics builds the collectors and registers them with reg.
// Collectors already registered under the same name are reused, so tests and
// multiple servers in one process can share a registry.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		eventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "events_emitted_total",
			Help:      "Events passed to Emit, by whether any session listened.",
		}, []string{"matched"}),
		deliveries: newCounter("notify", "deliveries_posted_total",
			"Delivery callbacks posted to session execution contexts."),
		coalesced: newCounter("notify", "emits_coalesced_total",
			"Events merged into an already pending delivery callback."),
		dropped: newCounter("notify", "deliveries_dropped_total",
			"Event batches dropped because the target session had ended."),
		notifications: newCounter("notify", "notifications_total",
			"Subscriber Notify invocations."),
		refreshes: newCounter("notify", "refreshes_total",
			"Session refreshes triggered after a delivery."),
		subscriberPanic: newCounter("notify", "subscriber_panics_total",
			"Subscriber Notify calls that panicked."),
		tasksFired: newCounter("planning", "tasks_fired_total",
			"Tasks processed by the planning server."),
		taskPanics: newCounter("planning", "task_panics_total",
			"Task Process calls that panicked."),
		tasksPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "planning",
			Name:      "tasks_pending",
			Help:      "Tasks scheduled and not yet fired.",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "sessions_active",
			Help:      "Open session execution contexts.",
		}),
	}

	m.eventsEmitted = register(reg, m.eventsEmitted)
	m.deliveries = register(reg, m.deliveries)
	m.coalesced = register(reg, m.coalesced)
	m.dropped = register(reg, m.dropped)
	m.notifications = register(reg, m.notifications)
	m.refreshes = register(reg, m.refreshes)
	m.subscriberPanic = register(reg, m.subscriberPanic)
	m.tasksFired = register(reg, m.tasksFired)
	m.taskPanics = register(reg, m.taskPanics)
	m.tasksPending = register(reg, m.tasksPending)
	m.sessionsActive = register(reg, m.sessionsActive)

	return m
}

func newCounter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

// register registers c, returning the existing collector when one with the
// same descriptor is already present. Any other error panics.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// EventEmitted counts an Emit call.
func (m *Metrics) EventEmitted(matched bool) {
	if m == nil {
		return
	}
	label := "false"
	if matched {
		label = "true"
	}
	m.eventsEmitted.WithLabelValues(label).Inc()
}

// DeliveryPosted counts a delivery callback handed to a session.
func (m *Metrics) DeliveryPosted() {
	if m == nil {
		return
	}
	m.deliveries.Inc()
}

// EmitCoalesced counts an event merged into a pending delivery.
func (m *Metrics) EmitCoalesced() {
	if m == nil {
		return
	}
	m.coalesced.Inc()
}

// DeliveryDropped counts a batch dropped for an ended session.
func (m *Metrics) DeliveryDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

// Notified counts n subscriber notifications.
func (m *Metrics) Notified(n int) {
	if m == nil || n == 0 {
		return
	}
	m.notifications.Add(float64(n))
}

// Refreshed counts a triggered session refresh.
func (m *Metrics) Refreshed() {
	if m == nil {
		return
	}
	m.refreshes.Inc()
}

// SubscriberPanicked counts a recovered subscriber panic.
func (m *Metrics) SubscriberPanicked() {
	if m == nil {
		return
	}
	m.subscriberPanic.Inc()
}

// TaskFired counts a processed task.
func (m *Metrics) TaskFired() {
	if m == nil {
		return
	}
	m.tasksFired.Inc()
}

// TaskPanicked counts a recovered task panic.
func (m *Metrics) TaskPanicked() {
	if m == nil {
		return
	}
	m.taskPanics.Inc()
}

// SetTasksPending reports the number of scheduled tasks.
func (m *Metrics) SetTasksPending(n int) {
	if m == nil {
		return
	}
	m.tasksPending.Set(float64(n))
}

// SetSessionsActive reports the number of open sessions.
func (m *Metrics) SetSessionsActive(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}
