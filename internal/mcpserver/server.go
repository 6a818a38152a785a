// Package mcpserver exposes the txguard API as MCP tools for LLM agents.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all txguard tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("txguard", "0.1.0")
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolSimulateTransaction, h.HandleSimulateTransaction)
	s.AddTool(ToolCheckURL, h.HandleCheckURL)
	s.AddTool(ToolWalletBalances, h.HandleWalletBalances)
	s.AddTool(ToolWalletActivity, h.HandleWalletActivity)

	return s
}
