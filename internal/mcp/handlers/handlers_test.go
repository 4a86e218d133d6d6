package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/tidings/internal/notify"
	"github.com/btouchard/tidings/internal/planning"
	"github.com/btouchard/tidings/internal/store"
)

// inlineSession runs posted callbacks immediately.
type inlineSession struct{ id string }

func (s inlineSession) ID() string          { return s.id }
func (s inlineSession) Post(fn func()) bool { fn(); return true }
func (s inlineSession) TriggerUpdate()      {}

func newTestDeps(t *testing.T) (*notify.Server, *planning.Planner, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ns := notify.NewServer(notify.WithJournal(store.Journal{Store: st}))
	ps := planning.NewServer(planning.WithNotifier(ns))
	t.Cleanup(ps.Stop)
	return ns, planning.NewPlanner(ps, st), st
}

func makeReq(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	return res.Content[0].(mcp.TextContent).Text
}

// --- EmitEvent tests ---

func TestEmitEvent_WhenListened_ReportsSessions(t *testing.T) {
	t.Parallel()
	ns, _, _ := newTestDeps(t)

	var got []notify.Event
	ns.Listen(inlineSession{id: "S1"}, notify.SubscriberFunc(func(e notify.Event) { got = append(got, e) }), "deploy")

	res, err := EmitEvent(ns)(context.Background(), makeReq(map[string]any{
		"key":  "deploy",
		"data": `{"env":"prod"}`,
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), "1 session")

	require.Len(t, got, 1)
	assert.JSONEq(t, `{"env":"prod"}`, string(got[0].(notify.Payloader).Payload()))
}

func TestEmitEvent_WhenPlainText_WrapsAsJSONString(t *testing.T) {
	t.Parallel()
	ns, _, st := newTestDeps(t)

	res, err := EmitEvent(ns)(context.Background(), makeReq(map[string]any{
		"key":  "note",
		"data": "hello world",
	}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "Nobody is listening")

	events, err := st.GetEvents("note", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, `"hello world"`, events[0].Data)
}

func TestEmitEvent_WhenMissingKey_ReturnsError(t *testing.T) {
	t.Parallel()
	ns, _, _ := newTestDeps(t)

	res, err := EmitEvent(ns)(context.Background(), makeReq(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "key is required")
}

// --- ScheduleReminder tests ---

func TestScheduleReminder_WithAt_Persists(t *testing.T) {
	t.Parallel()
	_, p, st := newTestDeps(t)

	at := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	res, err := ScheduleReminder(p)(context.Background(), makeReq(map[string]any{
		"key": "standup",
		"at":  at.Format(time.RFC3339),
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	assert.Contains(t, resultText(t, res), "standup")

	recs, err := st.ListReminders(store.ReminderFilter{Key: "standup"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, at.Equal(recs[0].FireAt))
}

func TestScheduleReminder_WithCron_ShowsRepeat(t *testing.T) {
	t.Parallel()
	_, p, _ := newTestDeps(t)

	res, err := ScheduleReminder(p)(context.Background(), makeReq(map[string]any{
		"key":  "weekly",
		"cron": "0 9 * * 1",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), "Repeats:** 0 9 * * 1")
}

func TestScheduleReminder_Validation(t *testing.T) {
	t.Parallel()
	_, p, _ := newTestDeps(t)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing key", map[string]any{"in": "1m"}, "key is required"},
		{"no time", map[string]any{"key": "k"}, "fire time"},
		{"bad at", map[string]any{"key": "k", "at": "tomorrow"}, "RFC 3339"},
		{"bad in", map[string]any{"key": "k", "in": "soon"}, "invalid 'in'"},
		{"bad cron", map[string]any{"key": "k", "cron": "nope"}, "invalid cron"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ScheduleReminder(p)(context.Background(), makeReq(tt.args))
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Contains(t, resultText(t, res), tt.want)
		})
	}
}

// --- ListReminders tests ---

func TestListReminders_FiltersByKey(t *testing.T) {
	t.Parallel()
	_, p, _ := newTestDeps(t)

	_, err := p.Schedule("a", nil, time.Now().Add(time.Hour), "")
	require.NoError(t, err)
	_, err = p.Schedule("b", nil, time.Now().Add(time.Hour), "*/10 * * * *")
	require.NoError(t, err)

	res, err := ListReminders(p)(context.Background(), makeReq(map[string]any{"key": "b"}))
	require.NoError(t, err)

	text := resultText(t, res)
	assert.Contains(t, text, "1 found")
	assert.Contains(t, text, "Cron: */10 * * * *")
}

func TestListReminders_WhenEmpty(t *testing.T) {
	t.Parallel()
	_, p, _ := newTestDeps(t)

	res, err := ListReminders(p)(context.Background(), makeReq(map[string]any{"status": "fired"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "No reminders found")
}

// --- ListKeys tests ---

func TestListKeys(t *testing.T) {
	t.Parallel()
	ns, _, _ := newTestDeps(t)

	res, err := ListKeys(ns)(context.Background(), makeReq(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "No keys")

	ns.Listen(inlineSession{id: "S1"}, notify.SubscriberFunc(func(notify.Event) {}), "alpha")
	res, err = ListKeys(ns)(context.Background(), makeReq(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "**alpha**: 1 session(s), 1 subscriber(s)")
}

// --- RecentEvents tests ---

func TestRecentEvents(t *testing.T) {
	t.Parallel()
	ns, _, st := newTestDeps(t)

	res, err := RecentEvents(st)(context.Background(), makeReq(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "No events")

	msg := notify.NewMessage("build", json.RawMessage(`{"ok":true}`))
	ns.Emit(msg, notify.FromSession("S9"))

	res, err = RecentEvents(st)(context.Background(), makeReq(map[string]any{"key": "build", "limit": float64(5)}))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "**build**")
	assert.Contains(t, text, `{"ok":true}`)
	assert.Contains(t, text, "from S9")
}

func TestToJSON(t *testing.T) {
	t.Parallel()

	assert.Nil(t, toJSON(""))
	assert.Equal(t, json.RawMessage(`[1,2]`), toJSON(`[1,2]`))
	assert.Equal(t, json.RawMessage(`"x y"`), toJSON("x y"))
}
