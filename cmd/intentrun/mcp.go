package main

import (
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	imcp "github.com/ormasoftchile/intentrun/pkg/ecosystem/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve intentrun tools to AI agents over MCP stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := imcp.NewServer(version, &imcp.Handlers{
			Timeout: cfg.Engine.RunTimeout(),
			Logger:  logger,
			Cache:   cache,
		})
		return server.ServeStdio(s)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
