package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/tidings/internal/notify"
)

// EmitEvent returns a handler that broadcasts an event.
func EmitEvent(n *notify.Server) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		key, _ := args["key"].(string)
		if key == "" {
			return mcp.NewToolResultError("key is required"), nil
		}
		data, _ := args["data"].(string)

		sessions := n.Emit(notify.NewMessage(key, toJSON(data)))
		if sessions == 0 {
			return mcp.NewToolResultText(fmt.Sprintf("📣 Emitted %s. Nobody is listening right now.", key)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("📣 Emitted %s to %d session(s).", key, sessions)), nil
	}
}

// toJSON returns s unchanged when it is valid JSON, otherwise s as a JSON string.
func toJSON(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}
