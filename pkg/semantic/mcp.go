package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPConfig describes an MCP server exposing a browser-agent tool.
type MCPConfig struct {
	Command string
	Args    []string
	Env     []string
	// Tool is the tool that accepts an instruction.
	Tool string
	// ArgName is the argument carrying the instruction (default "instruction").
	ArgName string
	Timeout time.Duration
}

// MCPExecutor runs instructions by calling a tool on an MCP server.
type MCPExecutor struct {
	client  *client.Client
	tool    string
	argName string
	timeout time.Duration
	logger  *slog.Logger
}

// DialMCP launches the configured MCP server over stdio, performs the
// initialization handshake and checks that the tool exists.
func DialMCP(ctx context.Context, cfg MCPConfig, logger *slog.Logger) (*MCPExecutor, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcp: command is required")
	}
	c, err := client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("start MCP server %q: %w", cfg.Command, err)
	}
	e := NewMCPExecutor(c, cfg, logger)
	if err := e.Initialize(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return e, nil
}

// NewMCPExecutor wraps an already started client. Call Initialize before
// Execute.
func NewMCPExecutor(c *client.Client, cfg MCPConfig, logger *slog.Logger) *MCPExecutor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	argName := cfg.ArgName
	if argName == "" {
		argName = "instruction"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &MCPExecutor{client: c, tool: cfg.Tool, argName: argName, timeout: timeout, logger: logger}
}

// Initialize performs the MCP handshake and verifies the tool is listed.
func (e *MCPExecutor) Initialize(ctx context.Context) error {
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.Capabilities = mcp.ClientCapabilities{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "intentrun",
		Version: "0.1.0",
	}
	if _, err := e.client.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("mcp initialize: %w", err)
	}

	listCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tools, err := e.client.ListTools(listCtx, mcp.ListToolsRequest{})
	if err != nil {
		// Non-fatal: the tool may still be callable by name.
		e.logger.Warn("mcp tools/list failed", "error", err)
		return nil
	}
	names := make([]string, 0, len(tools.Tools))
	for _, t := range tools.Tools {
		if t.Name == e.tool {
			e.logger.Debug("mcp semantic tool ready", "tool", e.tool)
			return nil
		}
		names = append(names, t.Name)
	}
	if e.tool == "" && len(names) == 1 {
		e.tool = names[0]
		return nil
	}
	return fmt.Errorf("mcp: tool %q not offered (have %s)", e.tool, strings.Join(names, ", "))
}

// Execute sends the instruction to the tool and interprets its reply.
func (e *MCPExecutor) Execute(ctx context.Context, instruction string) (Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	res, err := e.client.CallTool(callCtx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      e.tool,
			Arguments: map[string]any{e.argName: instruction},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("call %s: %w", e.tool, err)
	}
	return ParseReply(textOf(res.Content), res.IsError), nil
}

// Close terminates the MCP connection.
func (e *MCPExecutor) Close() error {
	return e.client.Close()
}

func textOf(contents []mcp.Content) string {
	var parts []string
	for _, c := range contents {
		switch tc := c.(type) {
		case mcp.TextContent:
			parts = append(parts, tc.Text)
		case *mcp.TextContent:
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
