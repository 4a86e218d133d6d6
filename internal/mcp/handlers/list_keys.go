package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/tidings/internal/notify"
)

// ListKeys returns a handler that reports the listened keys.
func ListKeys(n *notify.Server) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st := n.Registry().Stats()
		if len(st.Keys) == 0 {
			return mcp.NewToolResultText("No keys have listeners."), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "🔑 %d key(s) across %d session(s)\n\n", len(st.Keys), st.Sessions)
		for _, k := range st.Keys {
			fmt.Fprintf(&sb, "- **%s**: %d session(s), %d subscriber(s)\n", k.Key, k.Sessions, k.Subscribers)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}
