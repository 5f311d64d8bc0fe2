// Package hub fans serialized events out to every live chat connection and
// keeps the viewer count current.
//
// Each member owns a bounded outbound queue drained by its own goroutine.
// Frames are enqueued under the hub lock, so every member observes the same
// total order of broadcasts. A member whose queue overflows or whose write
// fails is removed as if it had left, and its connection is closed.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/elizastream/server/logger"
	"github.com/elizastream/server/rpc"
	"github.com/elizastream/server/telemetry"
)

const (
	DefaultQueueSize    = 256
	DefaultWriteTimeout = 10 * time.Second
)

// Reasons passed to Conn.Close when the hub drops a member on its own.
const (
	ReasonTooSlow     = "too slow"
	ReasonWriteFailed = "write failed"
)

// Conn is the write side of a client connection. Close must be safe to call
// more than once and concurrently with Send.
type Conn interface {
	Send(ctx context.Context, data []byte) error
	Close(reason string) error
}

// Handle identifies a membership returned by Join.
type Handle string

type Option func(*Hub)

func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

type member struct {
	handle Handle
	conn   Conn
	queue  chan []byte
	done   chan struct{}
}

// Hub is the live connection set.
type Hub struct {
	queueSize    int
	writeTimeout time.Duration

	mu      sync.Mutex
	members map[Handle]*member

	// workers tracks pumps and closers of dropped connections.
	workers sync.WaitGroup
}

func New(opts ...Option) *Hub {
	h := &Hub{
		queueSize:    DefaultQueueSize,
		writeTimeout: DefaultWriteTimeout,
		members:      make(map[Handle]*member),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Join adds conn to the live set. The frames in first are queued to conn
// before anything else, then the new viewer count is broadcast to every
// member including the new one.
func (h *Hub) Join(conn Conn, first ...[]byte) Handle {
	m := &member{
		handle: Handle(uuid.NewString()),
		conn:   conn,
		queue:  make(chan []byte, h.queueSize+len(first)+1),
		done:   make(chan struct{}),
	}
	for _, frame := range first {
		m.queue <- frame
	}

	h.mu.Lock()
	h.members[m.handle] = m
	h.workers.Add(1)
	go h.pump(m)
	h.evictLocked(h.enqueueLocked(h.countFrameLocked()))
	count := len(h.members)
	h.mu.Unlock()

	telemetry.SetViewers(count)
	slog.Debug("hub member joined", "handle", m.handle, "viewers", count)
	return m.handle
}

// Leave removes the member and broadcasts the new count to the rest.
// Unknown or already removed handles are ignored.
func (h *Hub) Leave(handle Handle) {
	h.mu.Lock()
	removed := h.removeLocked(handle)
	if removed {
		h.evictLocked(h.enqueueLocked(h.countFrameLocked()))
	}
	count := len(h.members)
	h.mu.Unlock()

	if removed {
		telemetry.SetViewers(count)
		slog.Debug("hub member left", "handle", handle, "viewers", count)
	}
}

// Broadcast serializes msg once and queues it to every live member.
func (h *Hub) Broadcast(msg rpc.ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}
	h.BroadcastRaw(data)
	return nil
}

// BroadcastRaw queues an already serialized frame to every live member.
func (h *Hub) BroadcastRaw(data []byte) {
	h.mu.Lock()
	overflow := h.enqueueLocked(data)
	h.evictLocked(overflow)
	count := len(h.members)
	h.mu.Unlock()

	if len(overflow) > 0 {
		telemetry.SetViewers(count)
	}
}

// LiveCount returns the size of the live set.
func (h *Hub) LiveCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.members)
}

// Close drops every member without a count broadcast and waits for their
// writers to stop. Connections are left for their owners to close.
func (h *Hub) Close() {
	h.mu.Lock()
	for handle := range h.members {
		h.removeLocked(handle)
	}
	h.mu.Unlock()

	telemetry.SetViewers(0)
	h.workers.Wait()
}

func (h *Hub) removeLocked(handle Handle) bool {
	m, ok := h.members[handle]
	if !ok {
		return false
	}
	delete(h.members, handle)
	close(m.done)
	return true
}

// enqueueLocked queues data to every member without blocking and returns the
// members whose queue was full.
func (h *Hub) enqueueLocked(data []byte) []Handle {
	var overflow []Handle
	for handle, m := range h.members {
		select {
		case m.queue <- data:
		default:
			overflow = append(overflow, handle)
		}
	}
	return overflow
}

// evictLocked removes overflowing members, closes their connections and
// republishes the count until a round of delivery succeeds everywhere.
func (h *Hub) evictLocked(handles []Handle) {
	for len(handles) > 0 {
		for _, handle := range handles {
			m, ok := h.members[handle]
			if !ok {
				continue
			}
			slog.Warn("evicting slow hub member", "handle", handle)
			h.removeLocked(handle)
			h.closeConnLocked(m, ReasonTooSlow)
		}
		handles = h.enqueueLocked(h.countFrameLocked())
	}
}

// closeConnLocked closes m's connection without holding up the hub. A close
// handshake may block on a stalled peer.
func (h *Hub) closeConnLocked(m *member, reason string) {
	h.workers.Add(1)
	go func() {
		defer h.workers.Done()
		if err := m.conn.Close(reason); err != nil {
			slog.Debug("closing dropped hub member", "handle", m.handle, "error", err)
		}
	}()
}

func (h *Hub) countFrameLocked() []byte {
	data, _ := json.Marshal(rpc.ServerMessage{
		Type: rpc.TypeViewerCount,
		Data: rpc.ViewerCountData{Count: len(h.members)},
	})
	return data
}

func (h *Hub) pump(m *member) {
	defer h.workers.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, "hub writer crashed", "handle", m.handle)
			h.drop(m, ReasonWriteFailed)
		}
	}()

	for {
		// A removed member gets no further writes, even with frames queued.
		select {
		case <-m.done:
			return
		default:
		}

		select {
		case <-m.done:
			return
		case data := <-m.queue:
			ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
			err := m.conn.Send(ctx, data)
			cancel()
			if err != nil {
				slog.Debug("hub write failed, removing member", "handle", m.handle, "error", err)
				h.drop(m, ReasonWriteFailed)
				return
			}
		}
	}
}

// drop removes m as if it had left and closes its connection.
func (h *Hub) drop(m *member, reason string) {
	h.Leave(m.handle)
	if err := m.conn.Close(reason); err != nil {
		slog.Debug("closing dropped hub member", "handle", m.handle, "error", err)
	}
}
