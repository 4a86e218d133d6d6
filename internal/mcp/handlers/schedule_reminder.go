package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/tidings/internal/planning"
)

// ScheduleReminder returns a handler that persists and plans a reminder.
func ScheduleReminder(p *planning.Planner) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		key, _ := args["key"].(string)
		if key == "" {
			return mcp.NewToolResultError("key is required"), nil
		}
		data, _ := args["data"].(string)
		cronSpec, _ := args["cron"].(string)

		var at time.Time
		if s, _ := args["at"].(string); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid 'at' time %q: use RFC 3339", s)), nil
			}
			at = t
		}
		if s, _ := args["in"].(string); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil || d < 0 {
				return mcp.NewToolResultError(fmt.Sprintf("invalid 'in' duration %q", s)), nil
			}
			at = time.Now().Add(d)
		}

		r, err := p.Schedule(key, toJSON(data), at, cronSpec)
		if err != nil {
			if errors.Is(err, planning.ErrKeyRequired) ||
				errors.Is(err, planning.ErrNoFireTime) ||
				errors.Is(err, planning.ErrInvalidCron) {
				return mcp.NewToolResultError(err.Error()), nil
			}
			slog.Error("failed to schedule reminder", "key", key, "error", err)
			return mcp.NewToolResultError("failed to schedule reminder"), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "⏰ Reminder scheduled\n\n")
		fmt.Fprintf(&sb, "- **ID:** %s\n", r.ID)
		fmt.Fprintf(&sb, "- **Key:** %s\n", r.Name)
		fmt.Fprintf(&sb, "- **Fires at:** %s\n", r.FireAt.Format(time.RFC3339))
		if r.Cron != "" {
			fmt.Fprintf(&sb, "- **Repeats:** %s\n", r.Cron)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}
