// Package api implements the HTTP endpoints of the chat room.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/elizastream/server/chat"
	"github.com/elizastream/server/generator"
	"github.com/elizastream/server/history"
	"github.com/elizastream/server/logger"
	"github.com/elizastream/server/rpc"
)

const maxBodyBytes = 64 << 10

// Room is the subset of chat.Orchestrator the HTTP API needs.
type Room interface {
	ConverseAs(ctx context.Context, username, content string) (generator.Reply, string, error)
	Clear()
	Snapshot() []history.Event
	Viewers() int
}

type ChatHandler struct {
	room Room
}

func NewChatHandler(room Room) *ChatHandler {
	return &ChatHandler{room: room}
}

// HandleChat answers one message synchronously. Generator failures still
// produce a 200 with the fallback reply.
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	log := logger.NewRequestLogger()

	var req rpc.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, username, err := h.room.ConverseAs(r.Context(), req.Username, req.Message)
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "message is required")
		return
	case errors.Is(err, chat.ErrMessageTooLong):
		writeError(w, http.StatusRequestEntityTooLarge, "message is too long")
		return
	case errors.Is(err, chat.ErrSessionBusy):
		writeError(w, http.StatusConflict, "previous message is still awaiting a reply")
		return
	case errors.Is(err, chat.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	default:
		log.Error("chat request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	log.Info("chat request answered", "username", username, "emotion", reply.Mood)
	writeJSON(w, http.StatusOK, rpc.ChatResponse{Text: reply.Text, Emotion: reply.Mood})
}

func (h *ChatHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	h.room.Clear()
	logger.NewRequestLogger().Info("chat history cleared via api")
	writeJSON(w, http.StatusOK, rpc.ClearResult{Success: true, Message: "Chat history cleared"})
}

func (h *ChatHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rpc.HistorySnapshotResult{
		ChatHistory: h.room.Snapshot(),
		Viewers:     h.room.Viewers(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, rpc.ErrorResponse{Error: message})
}
