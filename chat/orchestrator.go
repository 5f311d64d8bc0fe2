// Package chat coordinates the shared room: joins and leaves, inbound
// participant messages, responder replies and administrative operations.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/elizastream/server/clock"
	"github.com/elizastream/server/generator"
	"github.com/elizastream/server/history"
	"github.com/elizastream/server/hub"
	"github.com/elizastream/server/logger"
	"github.com/elizastream/server/rpc"
	"github.com/elizastream/server/session"
	"github.com/elizastream/server/telemetry"
)

const (
	DefaultResponderName    = "eliza"
	DefaultFallbackText     = "sorry, having some technical difficulties but still vibing"
	DefaultMaxMessageLength = 500
	DefaultGeneratorTimeout = 15 * time.Second
)

type Config struct {
	ResponderName    string
	FallbackText     string
	MaxMessageLength int
	GeneratorTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ResponderName == "" {
		c.ResponderName = DefaultResponderName
	}
	if c.FallbackText == "" {
		c.FallbackText = DefaultFallbackText
	}
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = DefaultMaxMessageLength
	}
	if c.GeneratorTimeout <= 0 {
		c.GeneratorTimeout = DefaultGeneratorTimeout
	}
}

// Participant is a joined chat connection.
type Participant struct {
	SessionID string
	Username  string
	Handle    hub.Handle
}

// Orchestrator is the single entry point for room operations.
type Orchestrator struct {
	cfg      Config
	sessions *session.Registry
	log      *history.Log
	hub      *hub.Hub
	gen      generator.Generator
	clock    *clock.Clock
	validate *validator.Validate

	// publishMu makes log append and broadcast one step, so broadcast order
	// equals identifier order and joins see each event exactly once.
	publishMu sync.Mutex

	busyMu sync.Mutex
	busy   map[string]struct{}
	closed bool

	inflight sync.WaitGroup
}

func NewOrchestrator(cfg Config, sessions *session.Registry, log *history.Log, h *hub.Hub, gen generator.Generator, clk *clock.Clock) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		cfg:      cfg,
		sessions: sessions,
		log:      log,
		hub:      h,
		gen:      gen,
		clock:    clk,
		validate: validator.New(),
		busy:     make(map[string]struct{}),
	}
}

// Join registers a session for conn and adds it to the hub. The new
// connection first receives the history snapshot and the playback epoch.
func (o *Orchestrator) Join(conn hub.Conn) (Participant, error) {
	id, name := o.sessions.Register()

	o.publishMu.Lock()
	defer o.publishMu.Unlock()

	frame, err := json.Marshal(rpc.ServerMessage{
		Type: rpc.TypeSyncHistory,
		Data: rpc.SyncHistoryData{
			ChatHistory:     o.log.Snapshot(),
			SessionID:       id,
			Username:        name,
			ServerStartTime: o.clock.EpochMillis(),
			CurrentTime:     o.clock.NowMillis(),
		},
	})
	if err != nil {
		o.sessions.Release(id)
		return Participant{}, fmt.Errorf("marshal sync history: %w", err)
	}

	handle := o.hub.Join(conn, frame)
	return Participant{SessionID: id, Username: name, Handle: handle}, nil
}

// Leave removes the connection and discards its session. A reply still in
// flight for the session is completed and broadcast to the others.
func (o *Orchestrator) Leave(p Participant) {
	o.hub.Leave(p.Handle)
	o.sessions.Release(p.SessionID)
}

// Submit accepts a participant message and runs the response sequence in
// the background. It fails fast when the message is rejected.
func (o *Orchestrator) Submit(ctx context.Context, sessionID, content string) error {
	t, err := o.accept(sessionID, content)
	if err != nil {
		return err
	}

	go func() {
		defer o.finish(t)
		defer func() {
			if r := recover(); r != nil {
				logger.LogPanic(r, "chat turn crashed", "sessionId", sessionID)
			}
		}()
		o.run(context.WithoutCancel(ctx), t)
	}()
	return nil
}

// Converse runs the response sequence synchronously and returns the reply
// that was broadcast, which is the fallback when generation failed.
func (o *Orchestrator) Converse(ctx context.Context, sessionID, content string) (generator.Reply, error) {
	t, err := o.accept(sessionID, content)
	if err != nil {
		return generator.Reply{}, err
	}
	defer o.finish(t)

	o.run(context.WithoutCancel(ctx), t)
	return t.final, nil
}

// ConverseAs converses on behalf of the live session named username, or of
// a temporary session released afterwards when no such session exists.
func (o *Orchestrator) ConverseAs(ctx context.Context, username, content string) (generator.Reply, string, error) {
	if id, ok := o.sessions.FindByName(username); ok {
		reply, err := o.Converse(ctx, id, content)
		return reply, username, err
	}

	id, name := o.sessions.Register()
	defer o.sessions.Release(id)
	reply, err := o.Converse(ctx, id, content)
	return reply, name, err
}

func (o *Orchestrator) accept(sessionID, content string) (*turn, error) {
	content = strings.TrimSpace(content)
	if err := o.validate.Var(content, "required"); err != nil {
		telemetry.IncRejected(telemetry.RejectEmpty)
		return nil, ErrEmptyMessage
	}
	if err := o.validate.Var(content, "max="+strconv.Itoa(o.cfg.MaxMessageLength)); err != nil {
		telemetry.IncRejected(telemetry.RejectTooLong)
		return nil, ErrMessageTooLong
	}

	name, err := o.sessions.Name(sessionID)
	if err != nil {
		return nil, fmt.Errorf("resolve session %s: %w", sessionID, err)
	}

	o.busyMu.Lock()
	defer o.busyMu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}
	if _, busy := o.busy[sessionID]; busy {
		telemetry.IncRejected(telemetry.RejectBusy)
		return nil, ErrSessionBusy
	}
	o.busy[sessionID] = struct{}{}
	o.inflight.Add(1)

	return &turn{sessionID: sessionID, username: name, input: content}, nil
}

func (o *Orchestrator) finish(t *turn) {
	o.busyMu.Lock()
	delete(o.busy, t.sessionID)
	o.busyMu.Unlock()
	o.inflight.Done()
}

// Busy reports whether the session has a message awaiting a response.
func (o *Orchestrator) Busy(sessionID string) bool {
	o.busyMu.Lock()
	defer o.busyMu.Unlock()
	_, ok := o.busy[sessionID]
	return ok
}

// Clear truncates the shared log, empties every session's context window
// and tells all clients.
func (o *Orchestrator) Clear() {
	o.publishMu.Lock()
	defer o.publishMu.Unlock()

	o.log.Clear()
	o.sessions.ResetAll()
	if err := o.hub.Broadcast(rpc.ServerMessage{Type: rpc.TypeHistoryCleared, Data: struct{}{}}); err != nil {
		slog.Error("failed to broadcast history clear", "error", err)
	}
	slog.Info("chat history cleared")
}

// Announce posts a responder message that replies to nobody.
func (o *Orchestrator) Announce(text string, mood history.Mood) (history.Event, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return history.Event{}, ErrEmptyMessage
	}
	if mood == "" {
		mood = history.MoodHappy
	}
	if !mood.IsValid() {
		return history.Event{}, fmt.Errorf("%w: %q", ErrInvalidMood, mood)
	}

	return o.publish(rpc.TypeAIResponse, history.Event{
		Kind:     history.KindResponder,
		Content:  text,
		Username: o.cfg.ResponderName,
		Mood:     mood,
	}), nil
}

func (o *Orchestrator) Snapshot() []history.Event { return o.log.Snapshot() }

func (o *Orchestrator) Viewers() int { return o.hub.LiveCount() }

func (o *Orchestrator) Sessions() []session.Info { return o.sessions.List() }

// Wait blocks until every accepted message has been answered.
func (o *Orchestrator) Wait() { o.inflight.Wait() }

// Shutdown stops accepting messages and waits for in-flight replies until
// ctx is done.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.busyMu.Lock()
	o.closed = true
	o.busyMu.Unlock()

	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight replies: %w", ctx.Err())
	}
}

// Close disconnects every viewer. Call it after Shutdown.
func (o *Orchestrator) Close() { o.hub.Close() }

func (o *Orchestrator) publish(frameType string, e history.Event) history.Event {
	o.publishMu.Lock()
	defer o.publishMu.Unlock()

	stored := o.log.Append(e)
	telemetry.IncChatEvent(string(stored.Kind))
	if err := o.hub.Broadcast(rpc.ServerMessage{Type: frameType, Data: stored}); err != nil {
		slog.Error("failed to broadcast chat event", "id", stored.ID, "error", err)
	}
	return stored
}

func (o *Orchestrator) signal(frameType string, data any) {
	o.publishMu.Lock()
	defer o.publishMu.Unlock()

	if err := o.hub.Broadcast(rpc.ServerMessage{Type: frameType, Data: data}); err != nil {
		slog.Error("failed to broadcast signal", "type", frameType, "error", err)
	}
}

// IsRejection reports whether err is an input rejection rather than a fault.
func IsRejection(err error) bool {
	return errors.Is(err, ErrEmptyMessage) ||
		errors.Is(err, ErrMessageTooLong) ||
		errors.Is(err, ErrSessionBusy)
}
