package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	guardmcp "github.com/ppiankov/rootguard/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs rootguard as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes rootguard_authorize and rootguard_inspect. Each call probes afresh.",
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	env, err := loadRuntime()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errOut := cmd.ErrOrStderr()
	fmt.Fprintln(errOut, "rootguard MCP server running on stdio")
	if env.cfg.AuditLog != "" {
		fmt.Fprintf(errOut, "Audit log: %s\n", env.cfg.AuditLog)
	}

	srv := guardmcp.New(env.gate, version)
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
