package notify

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSession queues posted callbacks until the test runs them.
type fakeSession struct {
	id string

	mu      sync.Mutex
	posted  []func()
	updates int
	ended   bool
}

func newFakeSession(id string) *fakeSession {
	return &fakeSession{id: id}
}

func (f *fakeSession) ID() string { return f.id }

func (f *fakeSession) Post(fn func()) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ended {
		return false
	}
	f.posted = append(f.posted, fn)
	return true
}

func (f *fakeSession) TriggerUpdate() {
	f.mu.Lock()
	f.updates++
	f.mu.Unlock()
}

func (f *fakeSession) end() {
	f.mu.Lock()
	f.ended = true
	f.mu.Unlock()
}

func (f *fakeSession) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posted)
}

func (f *fakeSession) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates
}

// run executes queued callbacks, including ones posted while running.
func (f *fakeSession) run() {
	for {
		f.mu.Lock()
		if len(f.posted) == 0 {
			f.mu.Unlock()
			return
		}
		fn := f.posted[0]
		f.posted = f.posted[1:]
		f.mu.Unlock()
		fn()
	}
}

// recorder counts notifications per key.
type recorder struct {
	mu      sync.Mutex
	got     []string
	updates bool
	onEvent func(Event)
}

func newRecorder() *recorder { return &recorder{updates: true} }

func (r *recorder) Notify(e Event) {
	r.mu.Lock()
	r.got = append(r.got, e.Key())
	fn := r.onEvent
	r.mu.Unlock()
	if fn != nil {
		fn(e)
	}
}

func (r *recorder) UpdatesNeeded(Event) bool { return r.updates }

func (r *recorder) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

type keyEvent string

func (k keyEvent) Key() string { return string(k) }

func TestServer_Emit_DeliversToListenerInOtherSession(t *testing.T) {
	t.Parallel()

	srv := NewServer()
	s1 := newFakeSession("S1")
	s2 := newFakeSession("S2")
	w1 := newRecorder()
	srv.Listen(s1, w1, "delete")

	n := srv.Emit(keyEvent("delete"), FromSession(s2.ID()))

	assert.Equal(t, 1, n)
	assert.Equal(t, 1, s1.pending())
	assert.Equal(t, 0, s2.pending())
	assert.Empty(t, w1.keys(), "delivery must wait for the session context")

	s1.run()

	assert.Equal(t, []string{"delete"}, w1.keys())
	assert.Equal(t, 1, s1.updateCount())
}

func TestServer_Emit_CoalescesPendingDeliveries(t *testing.T) {
	t.Parallel()

	srv := NewServer()
	s1 := newFakeSession("S1")
	w1 := newRecorder()
	srv.Listen(s1, w1, "tick")

	for i := 0; i < 5; i++ {
		srv.Emit(keyEvent("tick"))
	}

	require.Equal(t, 1, s1.pending(), "one wake-up per session while one is pending")

	s1.run()

	assert.Len(t, w1.keys(), 5, "every event is still processed")
	assert.Equal(t, 1, s1.updateCount(), "one refresh per delivery callback")

	srv.Emit(keyEvent("tick"))
	assert.Equal(t, 1, s1.pending(), "a new callback is posted after the previous one ran")
}

func TestServer_Emit_CallbackSeesRegistrationAtRunTime(t *testing.T) {
	t.Parallel()

	srv := NewServer()
	s1 := newFakeSession("S1")
	early := newRecorder()
	late := newRecorder()
	wEarly := srv.Listen(s1, early, "k")

	srv.Emit(keyEvent("k"))
	srv.Listen(s1, late, "k")
	wEarly.Close()

	s1.run()

	assert.Empty(t, early.keys())
	assert.Equal(t, []string{"k"}, late.keys())
}

func TestServer_Emit_NoCrossSessionLeakage(t *testing.T) {
	t.Parallel()

	srv := NewServer()
	sA := newFakeSession("A")
	sB := newFakeSession("B")
	wa := newRecorder()
	wb := newRecorder()
	srv.Listen(sA, wa, "shared")
	srv.Listen(sB, wb, "shared")

	srv.Emit(keyEvent("shared"))
	sB.run()

	assert.Empty(t, wa.keys(), "A's widget must not run in B's callback")
	assert.Equal(t, []string{"shared"}, wb.keys())

	sA.run()
	assert.Equal(t, []string{"shared"}, wa.keys())
}

func TestServer_Emit_DefaultDefersEvenForOrigin(t *testing.T) {
	t.Parallel()

	srv := NewServer()
	s1 := newFakeSession("S1")
	w := newRecorder()
	srv.Listen(s1, w, "k")

	srv.Emit(keyEvent("k"), FromSession("S1"))

	assert.Empty(t, w.keys())
	assert.Equal(t, 1, s1.pending())
}

func TestServer_Emit_DirectDeliversInlineToOrigin(t *testing.T) {
	t.Parallel()

	srv := NewServer()
	s1 := newFakeSession("S1")
	s2 := newFakeSession("S2")
	w1 := newRecorder()
	w2 := newRecorder()
	srv.Listen(s1, w1, "k")
	srv.Listen(s2, w2, "k")

	srv.Emit(keyEvent("k"), FromSession("S1"), Direct())

	assert.Equal(t, []string{"k"}, w1.keys())
	assert.Equal(t, 0, s1.pending())
	assert.Equal(t, 1, s1.updateCount())
	assert.Empty(t, w2.keys(), "other sessions stay deferred")
	assert.Equal(t, 1, s2.pending())
}

func TestServer_WithDirectToThis_AppliesWithoutPerCallOption(t *testing.T) {
	t.Parallel()

	srv := NewServer(WithDirectToThis(true))
	s1 := newFakeSession("S1")
	w1 := newRecorder()
	srv.Listen(s1, w1, "k")

	srv.Emit(keyEvent("k"), FromSession("S1"))

	assert.Equal(t, []string{"k"}, w1.keys())
	assert.Equal(t, 0, s1.pending())
}

func TestServer_Emit_EndedSessionDropsSilently(t *testing.T) {
	t.Parallel()

	srv := NewServer()
	s1 := newFakeSession("S1")
	w := newRecorder()
	srv.Listen(s1, w, "k")
	s1.end()

	assert.NotPanics(t, func() {
		srv.Emit(keyEvent("k"))
		srv.Emit(keyEvent("k"))
	})
	assert.Empty(t, w.keys())
	assert.Equal(t, 0, s1.pending())
}

// endingSession is a fakeSession that reports its end through Done.
type endingSession struct {
	*fakeSession
	done chan struct{}
}

func newEndingSession(id string) *endingSession {
	return &endingSession{fakeSession: newFakeSession(id), done: make(chan struct{})}
}

func (e *endingSession) Done() <-chan struct{} { return e.done }

func (e *endingSession) stop() {
	e.end()
	close(e.done)
}

func TestServer_Emit_EndedSessionWithPostedDeliveryDoesNotAccumulate(t *testing.T) {
	t.Parallel()

	srv := NewServer()
	s1 := newEndingSession("S1")
	rec := newRecorder()
	srv.Listen(s1, rec, "k")

	srv.Emit(keyEvent("k"))
	require.Equal(t, 1, s1.pending())
	s1.stop()

	for range 5 {
		srv.Emit(keyEvent("k"))
	}

	ch := srv.registry.channels["S1"]
	require.NotNil(t, ch)
	ch.mu.Lock()
	assert.Empty(t, ch.pending)
	ch.mu.Unlock()

	s1.run()
	assert.Empty(t, rec.keys())
}

func TestServer_CloseSession_ClosesOnlyThatSession(t *testing.T) {
	t.Parallel()

	srv := NewServer()
	s1 := newFakeSession("S1")
	s2 := newFakeSession("S2")
	w1 := srv.Listen(s1, newRecorder(), "a", "b")
	w2 := srv.Listen(s1, newRecorder(), "b")
	w3 := srv.Listen(s2, newRecorder(), "a")

	assert.Equal(t, 2, srv.CloseSession("S1"))
	assert.True(t, w1.Closed())
	assert.True(t, w2.Closed())
	assert.False(t, w3.Closed())
	assert.True(t, srv.Registry().Has("a"))
	assert.False(t, srv.Registry().Has("b"))
	assert.Equal(t, 0, srv.CloseSession("S1"))
}

func TestServer_Emit_UnknownKeyIsNoop(t *testing.T) {
	t.Parallel()

	srv := NewServer()
	assert.Equal(t, 0, srv.Emit(keyEvent("nobody")))
}

func TestServer_Deliver_SkipsWidgetClosedByEarlierWidget(t *testing.T) {
	t.Parallel()

	srv := NewServer()
	s1 := newFakeSession("S1")

	first := newRecorder()
	second := newRecorder()
	w1 := srv.Listen(s1, first, "delete")
	w2 := srv.Listen(s1, second, "delete")

	// Whichever runs first deletes both, like a parent removing its child.
	stop := func(Event) {
		w1.Close()
		w2.Close()
	}
	first.onEvent = stop
	second.onEvent = stop

	srv.Emit(keyEvent("delete"))
	s1.run()

	total := len(first.keys()) + len(second.keys())
	assert.Equal(t, 1, total, "a closed widget is never notified")
	assert.False(t, srv.Registry().Has("delete"))
}

func TestServer_Deliver_WidgetClosingItselfIsSafe(t *testing.T) {
	t.Parallel()

	srv := NewServer()
	s1 := newFakeSession("S1")
	rec := newRecorder()
	var w *Widget
	rec.onEvent = func(Event) { w.Close() }
	w = srv.Listen(s1, rec, "delete")

	srv.Emit(keyEvent("delete"))
	srv.Emit(keyEvent("delete"))
	s1.run()

	assert.Equal(t, []string{"delete"}, rec.keys())
	assert.Empty(t, srv.Registry().Stats().Keys)
}

func TestServer_Deliver_NoRefreshWhenNotNeeded(t *testing.T) {
	t.Parallel()

	srv := NewServer()
	s1 := newFakeSession("S1")
	quiet := newRecorder()
	quiet.updates = false
	srv.Listen(s1, quiet, "k")

	srv.Emit(keyEvent("k"))
	s1.run()

	assert.Equal(t, []string{"k"}, quiet.keys())
	assert.Equal(t, 0, s1.updateCount())
}

func TestServer_Deliver_NoRefreshWhenUpdatesDisabled(t *testing.T) {
	t.Parallel()

	srv := NewServer(WithUpdatesEnabled(false))
	s1 := newFakeSession("S1")
	srv.Listen(s1, newRecorder(), "k")

	srv.Emit(keyEvent("k"))
	s1.run()
	assert.Equal(t, 0, s1.updateCount())

	srv.SetUpdatesEnabled(true)
	srv.Emit(keyEvent("k"))
	s1.run()
	assert.Equal(t, 1, s1.updateCount())
}

func TestServer_Deliver_SingleRefreshForManyWidgets(t *testing.T) {
	t.Parallel()

	srv := NewServer()
	s1 := newFakeSession("S1")
	for i := 0; i < 4; i++ {
		srv.Listen(s1, newRecorder(), "k")
	}

	srv.Emit(keyEvent("k"))
	s1.run()

	assert.Equal(t, 1, s1.updateCount())
}

func TestServer_Deliver_RecoversSubscriberPanic(t *testing.T) {
	t.Parallel()

	srv := NewServer()
	s1 := newFakeSession("S1")
	srv.Listen(s1, SubscriberFunc(func(Event) { panic("boom") }), "k")
	ok := newRecorder()
	srv.Listen(s1, ok, "k")

	srv.Emit(keyEvent("k"))
	assert.NotPanics(t, s1.run)
	assert.Equal(t, []string{"k"}, ok.keys())
}

type journalFunc func(Event, string)

func (f journalFunc) Record(e Event, origin string) { f(e, origin) }

func TestServer_Emit_RecordsJournal(t *testing.T) {
	t.Parallel()

	var gotKey, gotOrigin string
	srv := NewServer(WithJournal(journalFunc(func(e Event, origin string) {
		gotKey, gotOrigin = e.Key(), origin
	})))

	srv.Emit(NewMessage("saved", json.RawMessage(`{"id":1}`)), FromSession("S9"))

	assert.Equal(t, "saved", gotKey)
	assert.Equal(t, "S9", gotOrigin)
}

func TestWidget_ListenAndStopListening(t *testing.T) {
	t.Parallel()

	srv := NewServer()
	s1 := newFakeSession("S1")
	rec := newRecorder()
	w := srv.Listen(s1, rec)

	w.Listen("b")
	w.Listen("a")
	w.Listen("a")
	assert.Equal(t, []string{"a", "b"}, w.Keys())

	srv.Emit(keyEvent("a"))
	s1.run()
	assert.Equal(t, []string{"a"}, rec.keys(), "duplicate Listen must not double-deliver")

	w.StopListening("a")
	w.StopListening("a")
	assert.Equal(t, []string{"b"}, w.Keys())
	assert.False(t, srv.Registry().Has("a"))
}

func TestWidget_ListenAfterCloseIsIgnored(t *testing.T) {
	t.Parallel()

	srv := NewServer()
	w := srv.Listen(newFakeSession("S1"), newRecorder(), "a")
	w.Close()
	w.Close()
	w.Listen("b")

	assert.True(t, w.Closed())
	assert.Empty(t, w.Keys())
	assert.Empty(t, srv.Registry().Stats().Keys)
}
