package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all potionwatch tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("potionwatch", "1.0.0")
	client := NewPotionwatchClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolGetClock, h.HandleGetClock)
	s.AddTool(ToolSeekClock, h.HandleSeekClock)
	s.AddTool(ToolSetPlayback, h.HandleSetPlayback)
	s.AddTool(ToolListCauldrons, h.HandleListCauldrons)
	s.AddTool(ToolGetLevelsAt, h.HandleGetLevelsAt)
	s.AddTool(ToolAuditDay, h.HandleAuditDay)
	s.AddTool(ToolFindFlaggedTickets, h.HandleFindFlaggedTickets)
	s.AddTool(ToolGetTravelTime, h.HandleGetTravelTime)

	return s
}
