package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates an MCP server exposing intentrun's offline tools.
// Live browser runs are not exposed; replay is the only execution tool.
func NewServer(version string, h *Handlers) *server.MCPServer {
	if h == nil {
		h = &Handlers{}
	}
	s := server.NewMCPServer(
		"intentrun",
		version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(
		mcp.NewTool("intentrun/validate",
			mcp.WithDescription("Validate an intent spec YAML or JSON file"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the intent spec file")),
		),
		h.HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("intentrun/replay",
			mcp.WithDescription("Run an intent spec against a recorded scenario"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the intent spec file")),
			mcp.WithString("scenario", mcp.Required(), mcp.Description("Scenario name under scenarios/<spec>/")),
			mcp.WithObject("vars", mcp.Description("Parameter values overriding the scenario's vars")),
		),
		h.HandleReplay,
	)

	s.AddTool(
		mcp.NewTool("intentrun/test",
			mcp.WithDescription("Run scenario replay tests for an intent spec"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the intent spec file")),
			mcp.WithString("scenario", mcp.Description("Run only the named scenario (optional)")),
		),
		h.HandleTest,
	)

	s.AddTool(
		mcp.NewTool("intentrun/schema",
			mcp.WithDescription("Export the intent spec JSON Schema"),
		),
		h.HandleSchema,
	)

	s.AddTool(
		mcp.NewTool("intentrun/diagram",
			mcp.WithDescription("Render an intent spec as a flow diagram"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the intent spec file")),
			mcp.WithString("format", mcp.Description("mermaid (default) or ascii")),
		),
		h.HandleDiagram,
	)

	return s
}
