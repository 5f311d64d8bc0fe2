package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/elizastream/server/chat"
	"github.com/elizastream/server/history"
	"github.com/elizastream/server/logger"
	"github.com/elizastream/server/rpc"
	"github.com/elizastream/server/session"
)

// Admin is the set of room operations exposed to operators.
type Admin interface {
	Snapshot() []history.Event
	Viewers() int
	Sessions() []session.Info
	Clear()
	Announce(text string, mood history.Mood) (history.Event, error)
}

// RPCHandler serves the admin JSON-RPC 2.0 API over WebSocket.
// Authentication happens in HTTP middleware before the upgrade.
type RPCHandler struct {
	admin   Admin
	devMode bool
}

func NewRPCHandler(admin Admin, devMode bool) *RPCHandler {
	return &RPCHandler{admin: admin, devMode: devMode}
}

func (h *RPCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: h.devMode,
	})
	if err != nil {
		slog.Error("failed to accept websocket", "error", err)
		return
	}

	stream := newWebSocketStream(conn)
	connID := uuid.Must(uuid.NewV7()).String()
	h.HandleStream(r.Context(), stream, connID)
}

func (h *RPCHandler) HandleStream(ctx context.Context, stream jsonrpc2.ObjectStream, connID string) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, "admin connection crashed", "connId", connID)
		}
	}()

	log := slog.With("connId", connID)
	log.Info("admin connected")

	handler := &rpcMethodHandler{RPCHandler: h, log: log}
	rpcConn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.AsyncHandler(handler))

	select {
	case <-rpcConn.DisconnectNotify():
	case <-ctx.Done():
		rpcConn.Close()
	}
	log.Info("admin disconnected")
}

type rpcMethodHandler struct {
	*RPCHandler
	log *slog.Logger
}

func (h *rpcMethodHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, "rpc handler panic", "method", req.Method)
		}
	}()

	h.log.Debug("received request", "method", req.Method, "id", req.ID)

	switch req.Method {
	case rpc.MethodHistorySnapshot:
		h.reply(ctx, conn, req, rpc.HistorySnapshotResult{
			ChatHistory: h.admin.Snapshot(),
			Viewers:     h.admin.Viewers(),
		})
	case rpc.MethodHistoryClear:
		h.admin.Clear()
		h.log.Info("history cleared via rpc")
		h.reply(ctx, conn, req, rpc.ClearResult{Success: true, Message: "Chat history cleared"})
	case rpc.MethodViewersCount:
		h.reply(ctx, conn, req, rpc.ViewersCountResult{Count: h.admin.Viewers()})
	case rpc.MethodAnnounce:
		h.handleAnnounce(ctx, conn, req)
	case rpc.MethodSessionsList:
		h.reply(ctx, conn, req, rpc.SessionsListResult{Sessions: h.admin.Sessions()})
	default:
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeMethodNotFound, "method not found: "+req.Method)
	}
}

func (h *rpcMethodHandler) handleAnnounce(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.AnnounceParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	event, err := h.admin.Announce(params.Text, params.Emotion)
	if err != nil {
		code := int64(jsonrpc2.CodeInternalError)
		if errors.Is(err, chat.ErrEmptyMessage) || errors.Is(err, chat.ErrInvalidMood) {
			code = jsonrpc2.CodeInvalidParams
		}
		h.replyError(ctx, conn, req.ID, code, err.Error())
		return
	}
	h.reply(ctx, conn, req, event)
}

func (h *rpcMethodHandler) reply(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, result any) {
	if err := conn.Reply(ctx, req.ID, result); err != nil {
		h.log.Error("failed to send response", "method", req.Method, "error", err)
	}
}

func (h *rpcMethodHandler) replyError(ctx context.Context, conn *jsonrpc2.Conn, id jsonrpc2.ID, code int64, message string) {
	err := &jsonrpc2.Error{
		Code:    code,
		Message: message,
	}
	if replyErr := conn.ReplyWithError(ctx, id, err); replyErr != nil {
		h.log.Error("failed to send error response", "error", replyErr)
	}
}

func unmarshalParams(req *jsonrpc2.Request, v any) error {
	if req.Params == nil {
		return errors.New("params required")
	}
	return json.Unmarshal(*req.Params, v)
}

// webSocketStream adapts coder/websocket to jsonrpc2.ObjectStream.
type webSocketStream struct {
	conn *websocket.Conn
	mu   sync.Mutex // protects writes
}

func newWebSocketStream(conn *websocket.Conn) *webSocketStream {
	return &webSocketStream{conn: conn}
}

func (s *webSocketStream) ReadObject(v any) error {
	_, data, err := s.conn.Read(context.Background())
	if err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return io.EOF
		}
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *webSocketStream) WriteObject(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(context.Background(), websocket.MessageText, data)
}

func (s *webSocketStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

var _ jsonrpc2.ObjectStream = (*webSocketStream)(nil)
