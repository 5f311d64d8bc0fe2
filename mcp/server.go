// Package mcp exposes the room's admin operations as MCP tools over
// streamable HTTP, so operator agents can inspect and moderate the chat.
package mcp

import (
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/elizastream/server/history"
	"github.com/elizastream/server/session"
)

// Room is the set of operations the tools act on.
type Room interface {
	Snapshot() []history.Event
	Viewers() int
	Sessions() []session.Info
	Clear()
	Announce(text string, mood history.Mood) (history.Event, error)
}

type Server struct {
	room Room
	mcp  *server.MCPServer
}

func NewServer(room Room, version string) *Server {
	s := &Server{
		room: room,
		mcp:  server.NewMCPServer("elizastream", version, server.WithToolCapabilities(false)),
	}
	s.registerTools()
	return s
}

// Handler returns the streamable HTTP transport for mounting on a mux.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("chat_history",
		mcp.WithDescription("Return the shared chat log since the last clear, oldest first. Optionally only the most recent entries."),
		mcp.WithNumber("limit", mcp.Description("Return at most this many of the most recent events")),
	), s.handleChatHistory)

	s.mcp.AddTool(mcp.NewTool("clear_history",
		mcp.WithDescription("Clear the shared chat log and every viewer's conversation context. Viewers are notified."),
	), s.handleClearHistory)

	s.mcp.AddTool(mcp.NewTool("viewer_count",
		mcp.WithDescription("Return the number of live chat connections."),
	), s.handleViewerCount)

	s.mcp.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List connected participants with their display name, join time and context size."),
	), s.handleListSessions)

	s.mcp.AddTool(mcp.NewTool("send_announcement",
		mcp.WithDescription("Post a message as the responder to every viewer. It does not reply to anyone."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Message text")),
		mcp.WithString("emotion", mcp.Description("Mood of the message"), mcp.Enum(string(history.MoodHappy), string(history.MoodSad))),
	), s.handleSendAnnouncement)
}
