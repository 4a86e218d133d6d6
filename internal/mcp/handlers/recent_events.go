package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/tidings/internal/store"
)

// EventReader reads the event journal.
type EventReader interface {
	GetEvents(key string, limit int) ([]store.EventRecord, error)
}

// RecentEvents returns a handler that shows the latest journaled events.
func RecentEvents(events EventReader) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		key, _ := args["key"].(string)
		limit := 20
		if l, ok := args["limit"].(float64); ok && l > 0 {
			limit = int(l)
		}

		recs, err := events.GetEvents(key, limit)
		if err != nil {
			slog.Error("failed to read events", "error", err)
			return mcp.NewToolResultError("failed to read events"), nil
		}
		if len(recs) == 0 {
			return mcp.NewToolResultText("No events recorded."), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "📜 Events (%d)\n\n", len(recs))
		for _, e := range recs {
			fmt.Fprintf(&sb, "- %s **%s**", e.CreatedAt.Format(time.RFC3339), e.Key)
			if e.Data != "" {
				fmt.Fprintf(&sb, " %s", e.Data)
			}
			if e.Origin != "" {
				fmt.Fprintf(&sb, " (from %s)", e.Origin)
			}
			sb.WriteString("\n")
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}
