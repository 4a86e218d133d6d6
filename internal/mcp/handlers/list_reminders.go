package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/tidings/internal/planning"
	"github.com/btouchard/tidings/internal/store"
)

// ListReminders returns a handler that lists reminders with optional filters.
func ListReminders(p *planning.Planner) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		filter := store.ReminderFilter{
			Status: store.StatusScheduled,
			Limit:  20,
		}
		if status, ok := args["status"].(string); ok && status != "" {
			filter.Status = status
		}
		if key, ok := args["key"].(string); ok {
			filter.Key = key
		}
		if limit, ok := args["limit"].(float64); ok && limit > 0 {
			filter.Limit = int(limit)
		}

		recs, err := p.List(filter)
		if err != nil {
			slog.Error("failed to list reminders", "error", err)
			return mcp.NewToolResultError("failed to list reminders"), nil
		}

		if len(recs) == 0 {
			return mcp.NewToolResultText("No reminders found matching the given filters."), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "📋 Reminders (%d found)\n\n", len(recs))
		for _, r := range recs {
			fmt.Fprintf(&sb, "%s **%s** %s\n", statusIcon(r.Status), r.ID, r.Status)
			fmt.Fprintf(&sb, "  Key: %s | Fires: %s\n", r.Key, r.FireAt.Format(time.RFC3339))
			if r.Cron != "" {
				fmt.Fprintf(&sb, "  Cron: %s\n", r.Cron)
			}
			if !r.FiredAt.IsZero() {
				fmt.Fprintf(&sb, "  Fired: %s\n", r.FiredAt.Format(time.RFC3339))
			}
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func statusIcon(status string) string {
	switch status {
	case store.StatusScheduled:
		return "⏳"
	case store.StatusFired:
		return "✅"
	default:
		return "•"
	}
}
