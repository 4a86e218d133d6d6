package planning

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/tidings/internal/notify"
	"github.com/btouchard/tidings/internal/store"
)

func newTestPlanner(t *testing.T, clock *manualClock, opts ...Option) (*Planner, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return NewPlanner(newTestServer(clock, opts...), st), st
}

func TestPlanner_Schedule_FiresAndMarksFired(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	ns := notify.NewServer()
	sess := &session{id: "S1"}

	var got []notify.Event
	ns.Listen(sess, notify.SubscriberFunc(func(e notify.Event) { got = append(got, e) }), "invoice.due")

	p, st := newTestPlanner(t, clock, WithNotifier(ns))
	r, err := p.Schedule("invoice.due", json.RawMessage(`{"id":42}`), clock.Now().Add(time.Minute), "")
	require.NoError(t, err)
	assert.Len(t, r.ID, 26)

	rec, err := st.GetReminder(r.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusScheduled, rec.Status)

	clock.Advance(time.Minute)
	sess.run()

	rec, err = st.GetReminder(r.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFired, rec.Status)

	require.Len(t, got, 1)
	assert.Equal(t, "invoice.due", got[0].Key())
	assert.JSONEq(t, `{"id":42}`, string(got[0].(notify.Payloader).Payload()))
}

func TestPlanner_Schedule_Validation(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	p, _ := newTestPlanner(t, clock)

	_, err := p.Schedule("", nil, clock.Now(), "")
	assert.ErrorIs(t, err, ErrKeyRequired)

	_, err = p.Schedule("k", nil, time.Time{}, "")
	assert.ErrorIs(t, err, ErrNoFireTime)

	_, err = p.Schedule("k", nil, time.Time{}, "not a cron")
	assert.ErrorIs(t, err, ErrInvalidCron)
}

func TestPlanner_Schedule_CronPlansSuccessor(t *testing.T) {
	t.Parallel()

	clock := newManualClock() // 10:02 UTC
	p, st := newTestPlanner(t, clock)

	r, err := p.Schedule("tick", nil, time.Time{}, "*/5 * * * *")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 5, 10, 5, 0, 0, time.UTC), r.FireAt)

	clock.Advance(3 * time.Minute)

	fired, err := st.ListReminders(store.ReminderFilter{Status: store.StatusFired})
	require.NoError(t, err)
	require.Len(t, fired, 1)
	assert.Equal(t, r.ID, fired[0].ID)

	scheduled, err := st.ListReminders(store.ReminderFilter{Status: store.StatusScheduled})
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.True(t, scheduled[0].FireAt.Equal(time.Date(2026, 1, 5, 10, 10, 0, 0, time.UTC)))
	assert.Equal(t, "*/5 * * * *", scheduled[0].Cron)
	assert.Equal(t, 1, p.server.Pending())
}

func TestPlanner_Restore_PlansScheduledReminders(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	p, st := newTestPlanner(t, clock)

	now := clock.Now()
	require.NoError(t, st.CreateReminder(&store.ReminderRecord{
		ID: "overdue", Key: "a", FireAt: now.Add(-time.Hour), CreatedAt: now,
	}))
	require.NoError(t, st.CreateReminder(&store.ReminderRecord{
		ID: "later", Key: "b", FireAt: now.Add(time.Hour), CreatedAt: now,
	}))
	require.NoError(t, st.CreateReminder(&store.ReminderRecord{
		ID: "broken", Key: "c", FireAt: now, Cron: "bogus", CreatedAt: now,
	}))
	require.NoError(t, st.CreateReminder(&store.ReminderRecord{
		ID: "done", Key: "d", FireAt: now, CreatedAt: now,
	}))
	require.NoError(t, st.MarkReminderFired("done", now))

	n, err := p.Restore()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	clock.Advance(0)
	overdue, err := st.GetReminder("overdue")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFired, overdue.Status)

	later, err := st.GetReminder("later")
	require.NoError(t, err)
	assert.Equal(t, store.StatusScheduled, later.Status)
}

func TestPlanner_List(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	p, _ := newTestPlanner(t, clock)

	_, err := p.Schedule("a", nil, clock.Now().Add(time.Hour), "")
	require.NoError(t, err)
	_, err = p.Schedule("b", nil, clock.Now().Add(time.Hour), "")
	require.NoError(t, err)

	recs, err := p.List(store.ReminderFilter{Key: "b"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "b", recs[0].Key)
}

func TestPlanner_Schedule_IDsSortByFireTime(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	p, _ := newTestPlanner(t, clock)

	late, err := p.Schedule("late", nil, clock.Now().Add(2*time.Hour), "")
	require.NoError(t, err)
	early, err := p.Schedule("early", nil, clock.Now().Add(time.Hour), "")
	require.NoError(t, err)

	assert.Less(t, early.ID, late.ID)
}

// Not parallel: same-millisecond ordering relies on no other NewID call
// landing in between.
func TestNewID_SortsByTime(t *testing.T) {
	base := time.Now()
	a := NewID(base)
	b := NewID(base)
	c := NewID(base.Add(time.Millisecond))

	assert.Less(t, a, b)
	assert.Less(t, b, c)
}
