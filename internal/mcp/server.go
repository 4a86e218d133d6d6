package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/tidings/internal/mcp/handlers"
	"github.com/btouchard/tidings/internal/notify"
	"github.com/btouchard/tidings/internal/planning"
)

// Deps holds shared dependencies injected into MCP handlers.
type Deps struct {
	Notifier *notify.Server
	Planner  *planning.Planner
	Events   handlers.EventReader
	Version  string
}

// NewServer creates and configures the MCP server with all tools registered.
func NewServer(deps *Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"Tidings",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)

	registerTools(s, deps)

	return s
}
