package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/tidings/internal/mcp/handlers"
)

func registerTools(s *server.MCPServer, deps *Deps) {
	// emit_event: Broadcast an event to every listener of a key
	s.AddTool(
		mcp.NewTool("emit_event",
			mcp.WithDescription("Broadcast an event to every session listening to its key. Returns the number of sessions reached."),
			mcp.WithString("key",
				mcp.Required(),
				mcp.Description("Event key, e.g. 'orders.created'"),
			),
			mcp.WithString("data",
				mcp.Description("Optional JSON payload. Plain text is sent as a JSON string."),
			),
		),
		handlers.EmitEvent(deps.Notifier),
	)

	// schedule_reminder: Plan a broadcast for later
	s.AddTool(
		mcp.NewTool("schedule_reminder",
			mcp.WithDescription("Schedule an event to be broadcast later. Give either 'at', 'in', or a 'cron' spec for a recurring reminder."),
			mcp.WithString("key",
				mcp.Required(),
				mcp.Description("Event key broadcast when the reminder fires"),
			),
			mcp.WithString("data",
				mcp.Description("Optional JSON payload"),
			),
			mcp.WithString("at",
				mcp.Description("Fire time in RFC 3339 format, e.g. 2026-01-02T15:04:05Z"),
			),
			mcp.WithString("in",
				mcp.Description("Fire after this duration, e.g. '10m' or '2h'"),
			),
			mcp.WithString("cron",
				mcp.Description("Standard 5-field cron spec for recurring reminders, e.g. '0 9 * * 1-5'"),
			),
		),
		handlers.ScheduleReminder(deps.Planner),
	)

	// list_reminders: List persisted reminders
	s.AddTool(
		mcp.NewTool("list_reminders",
			mcp.WithDescription("List reminders, soonest first."),
			mcp.WithString("status",
				mcp.Description("Filter by status"),
				mcp.Enum("scheduled", "fired", "all"),
			),
			mcp.WithString("key",
				mcp.Description("Filter by event key"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of reminders to return (default: 20)"),
			),
		),
		handlers.ListReminders(deps.Planner),
	)

	// list_keys: Show who listens to what
	s.AddTool(
		mcp.NewTool("list_keys",
			mcp.WithDescription("List event keys that currently have listeners, with session and subscriber counts."),
		),
		handlers.ListKeys(deps.Notifier),
	)

	// recent_events: Read the event journal
	if deps.Events != nil {
		s.AddTool(
			mcp.NewTool("recent_events",
				mcp.WithDescription("Show recently emitted events, newest first."),
				mcp.WithString("key",
					mcp.Description("Filter by event key"),
				),
				mcp.WithNumber("limit",
					mcp.Description("Maximum number of events to return (default: 20)"),
				),
			),
			handlers.RecentEvents(deps.Events),
		)
	}
}
