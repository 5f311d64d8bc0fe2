package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/samber/lo"

	"github.com/elizastream/server/chat"
	"github.com/elizastream/server/history"
	"github.com/elizastream/server/session"
)

func (s *Server) handleChatHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	events := s.room.Snapshot()
	if events == nil {
		events = []history.Event{}
	}

	limit := req.GetInt("limit", 0)
	if limit < 0 {
		return ValidationError("limit must not be negative"), nil
	}
	if limit > 0 && len(events) > limit {
		events = lo.Subset(events, -limit, uint(limit))
	}
	return jsonResult(events)
}

func (s *Server) handleClearHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.room.Clear()
	return jsonResult(map[string]any{"success": true, "message": "Chat history cleared"})
}

func (s *Server) handleViewerCount(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]int{"count": s.room.Viewers()})
}

func (s *Server) handleListSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions := s.room.Sessions()
	if sessions == nil {
		sessions = []session.Info{}
	}
	return jsonResult(sessions)
}

func (s *Server) handleSendAnnouncement(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return ValidationError("text is required"), nil
	}
	mood := history.Mood(req.GetString("emotion", ""))

	event, err := s.room.Announce(text, mood)
	if errors.Is(err, chat.ErrEmptyMessage) || errors.Is(err, chat.ErrInvalidMood) {
		return ValidationError(err.Error()), nil
	}
	if err != nil {
		return InternalError(err), nil
	}
	return jsonResult(event)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(data)), nil
}
