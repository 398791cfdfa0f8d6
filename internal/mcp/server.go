// Package mcp exposes read-only compliance queries as MCP tools for AI
// agents.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/ziadkadry99/tracegraph/internal/compliance"
)

// Version is set via ldflags at build time.
var Version = "dev"

// Server wraps an MCP server that exposes compliance query tools.
type Server struct {
	svc *compliance.Service
	mcp *server.MCPServer
}

// NewServer creates a new MCP server over the given service.
func NewServer(svc *compliance.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"tracegraph",
		Version,
		server.WithToolCapabilities(false),
	)

	s.registerTools()

	return s
}

// registerTools adds all tool definitions and their handlers to the MCP server.
func (s *Server) registerTools() {
	s.mcp.AddTool(scoreOfTool, s.handleScoreOf)
	s.mcp.AddTool(frameworkRollupTool, s.handleFrameworkRollup)
	s.mcp.AddTool(policyMatrixTool, s.handlePolicyMatrix)
	s.mcp.AddTool(unmappedControlsTool, s.handleUnmappedControls)
	s.mcp.AddTool(staleEvidenceTool, s.handleStaleEvidence)
	s.mcp.AddTool(brokenChainsTool, s.handleBrokenChains)
}

// Serve starts the MCP server on stdio. Stdout is used for MCP protocol
// messages; all logging must go to stderr.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}
