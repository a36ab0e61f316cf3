package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/schovi/qrun/internal/mcp"
	"github.com/schovi/qrun/internal/profile"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve qrun as MCP tools over stdio",
	Long: `Serve start, status, read, wait, stop and profiles as Model Context Protocol
tools on stdin/stdout. Runs go through the background daemon.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	catalog, err := profile.Load(profilesPath())
	if err != nil {
		return err
	}
	client, err := newClient()
	if err != nil {
		return err
	}

	server := mcp.NewServer(mcp.NewToolRegistry(client, catalog), buildVersion(), os.Stdin, os.Stdout, logger)
	return server.Run()
}
