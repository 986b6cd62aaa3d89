// Package mcp exposes the guard as MCP tools over stdio, so an agent host
// can ask before enabling an unrestricted mode.
package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/rootguard/internal/guard"
)

// Server wraps the MCP SDK server around a guard gate.
type Server struct {
	mcpServer *mcpsdk.Server
	gate      *guard.Gate
}

// New creates an MCP server whose tools consult gate on every call.
func New(gate *guard.Gate, version string) *Server {
	s := &Server{gate: gate}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "rootguard",
			Version: version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all rootguard tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name: "rootguard_authorize",
		Description: "Decide whether the rootguard process is root-equivalent right now. " +
			"Call immediately before enabling an unrestricted mode; a privileged result is returned as an error with the reason.",
	}, s.handleAuthorize)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "rootguard_inspect",
		Description: "Report the raw privilege observations (identity, user namespace, capabilities) behind the current verdict.",
	}, s.handleInspect)
}
