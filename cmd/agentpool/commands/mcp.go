package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentpool/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the agent pool as MCP tools over stdio",
	Long: `Run an MCP server on stdin/stdout exposing agent_create, agent_destroy,
agent_send, agent_status and agent_cancel. Logs go to stderr or --log-file,
never stdout.`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	dir, err := GetWorkDir(workDir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, dir)
	if err != nil {
		return err
	}
	defer a.Close()

	a.log.Info().Str("version", Version).Msg("mcp server on stdio")
	return mcpserver.ServeStdio(ctx, mcpserver.NewServer(a.pool, Version), os.Stdin, os.Stdout)
}
