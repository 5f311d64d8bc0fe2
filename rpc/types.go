// Package rpc defines the wire format types exchanged with clients.
// It covers the chat websocket frames, the JSON-RPC 2.0 admin methods and
// the HTTP API bodies.
package rpc

import (
	"encoding/json"

	"github.com/elizastream/server/history"
	"github.com/elizastream/server/session"
)

// Chat frame types, server → client.
const (
	TypeSyncHistory    = "sync_history"
	TypeUserMessage    = "user_message"
	TypeAIResponse     = "ai_response"
	TypeAITyping       = "ai_typing"
	TypeViewerCount    = "viewer_count_update"
	TypeHistoryCleared = "history_cleared"
)

// Chat frame types, client → server.
const (
	TypeChatMessage = "chat_message"
)

// ServerMessage is the envelope of every frame pushed to chat clients.
type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// ClientMessage is the envelope of every frame received from chat clients.
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type ChatMessageData struct {
	Content string `json:"content"`
}

type SyncHistoryData struct {
	ChatHistory     []history.Event `json:"chatHistory"`
	SessionID       string          `json:"sessionId"`
	Username        string          `json:"username"`
	ServerStartTime int64           `json:"serverStartTime"`
	CurrentTime     int64           `json:"currentTime"`
}

type TypingData struct {
	Username string `json:"username"`
}

type ViewerCountData struct {
	Count int `json:"count"`
}

// Admin JSON-RPC methods

const (
	MethodHistorySnapshot = "history.snapshot"
	MethodHistoryClear    = "history.clear"
	MethodViewersCount    = "viewers.count"
	MethodAnnounce        = "chat.announce"
	MethodSessionsList    = "sessions.list"
)

type HistorySnapshotResult struct {
	ChatHistory []history.Event `json:"chatHistory"`
	Viewers     int             `json:"viewers"`
}

type ClearResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ViewersCountResult struct {
	Count int `json:"count"`
}

type SessionsListResult struct {
	Sessions []session.Info `json:"sessions"`
}

type AnnounceParams struct {
	Text    string       `json:"text"`
	Emotion history.Mood `json:"emotion,omitempty"`
}

// HTTP API bodies

type ChatRequest struct {
	Message  string `json:"message"`
	Username string `json:"username,omitempty"`
}

type ChatResponse struct {
	Text    string       `json:"text"`
	Emotion history.Mood `json:"emotion"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
