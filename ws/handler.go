package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/elizastream/server/chat"
	"github.com/elizastream/server/hub"
	"github.com/elizastream/server/logger"
	"github.com/elizastream/server/rpc"
)

const contentLogMaxLen = 50

// Room is the chat room a connection participates in.
type Room interface {
	Join(conn hub.Conn) (chat.Participant, error)
	Leave(p chat.Participant)
	Submit(ctx context.Context, sessionID, content string) error
}

// Handler serves the chat websocket endpoint.
type Handler struct {
	room    Room
	devMode bool
}

func NewHandler(room Room, devMode bool) *Handler {
	return &Handler{room: room, devMode: devMode}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: h.devMode,
	})
	if err != nil {
		slog.Error("failed to accept websocket", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	connID := uuid.Must(uuid.NewV7()).String()
	h.handleConnection(r.Context(), conn, connID)
}

// wsConn adapts a websocket connection to hub.Conn.
type wsConn struct {
	conn *websocket.Conn
}

func (c wsConn) Send(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Close ends the connection when the hub drops it. The read loop then
// fails and the participant leaves the room.
func (c wsConn) Close(reason string) error {
	return c.conn.Close(websocket.StatusPolicyViolation, reason)
}

func (h *Handler) handleConnection(ctx context.Context, conn *websocket.Conn, connID string) {
	log := slog.With("connId", connID)
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, "chat connection crashed", "connId", connID)
		}
	}()

	p, err := h.room.Join(wsConn{conn: conn})
	if err != nil {
		log.Error("failed to join room", "error", err)
		return
	}
	defer h.room.Leave(p)

	log = log.With("sessionId", p.SessionID, "username", p.Username)
	log.Info("viewer connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				log.Info("viewer disconnected")
			default:
				log.Debug("read error, closing", "error", err)
			}
			return
		}

		var msg rpc.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn("ignoring malformed frame", "error", err, "len", len(data))
			continue
		}

		switch msg.Type {
		case rpc.TypeChatMessage:
			h.handleChatMessage(ctx, log, p, msg)
		default:
			log.Debug("ignoring unknown frame type", "type", msg.Type)
		}
	}
}

func (h *Handler) handleChatMessage(ctx context.Context, log *slog.Logger, p chat.Participant, msg rpc.ClientMessage) {
	var data rpc.ChatMessageData
	if len(msg.Data) == 0 {
		log.Warn("chat_message without data")
		return
	}
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		log.Warn("ignoring malformed chat_message", "error", err)
		return
	}

	err := h.room.Submit(ctx, p.SessionID, data.Content)
	switch {
	case err == nil:
		log.Info("chat message accepted", "content", logger.Truncate(data.Content, contentLogMaxLen))
	case errors.Is(err, chat.ErrSessionBusy):
		log.Debug("chat message dropped, awaiting previous reply")
	case chat.IsRejection(err):
		log.Debug("chat message rejected", "reason", err)
	default:
		log.Error("failed to submit chat message", "error", err)
	}
}
