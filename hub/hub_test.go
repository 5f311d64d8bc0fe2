package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/elizastream/server/rpc"
)

type recordingConn struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
	block  chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
	reason    string
}

func newRecordingConn() *recordingConn {
	return &recordingConn{closed: make(chan struct{})}
}

func (c *recordingConn) Send(ctx context.Context, data []byte) error {
	if c.block != nil {
		select {
		case <-c.block:
		case <-c.closed:
			return errors.New("connection closed")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("connection closed")
	}
	c.frames = append(c.frames, data)
	return nil
}

func (c *recordingConn) Close(reason string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

func (c *recordingConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *recordingConn) closeReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *recordingConn) messages() []rpc.ServerMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]rpc.ServerMessage, 0, len(c.frames))
	for _, f := range c.frames {
		var msg rpc.ServerMessage
		_ = json.Unmarshal(f, &msg)
		result = append(result, msg)
	}
	return result
}

func (c *recordingConn) lastCount() (int, bool) {
	msgs := c.messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Type != rpc.TypeViewerCount {
			continue
		}
		data, _ := msgs[i].Data.(map[string]any)
		n, _ := data["count"].(float64)
		return int(n), true
	}
	return 0, false
}

func TestJoin_SendsFirstFramesThenCount(t *testing.T) {
	h := New()
	defer h.Close()
	conn := newRecordingConn()

	first, _ := json.Marshal(rpc.ServerMessage{Type: rpc.TypeSyncHistory})
	h.Join(conn, first)

	require.Eventually(t, func() bool { return len(conn.messages()) == 2 }, time.Second, 5*time.Millisecond)
	msgs := conn.messages()
	require.Equal(t, rpc.TypeSyncHistory, msgs[0].Type)
	require.Equal(t, rpc.TypeViewerCount, msgs[1].Type)

	n, ok := conn.lastCount()
	require.True(t, ok)
	require.Equal(t, 1, n)
}

func TestLeave_IsIdempotentAndUpdatesOthers(t *testing.T) {
	h := New()
	defer h.Close()
	a := newRecordingConn()
	b := newRecordingConn()

	ha := h.Join(a)
	h.Join(b)
	require.Equal(t, 2, h.LiveCount())

	h.Leave(ha)
	h.Leave(ha)
	h.Leave("never-joined")

	require.Equal(t, 1, h.LiveCount())
	require.Eventually(t, func() bool {
		n, ok := b.lastCount()
		return ok && n == 1
	}, time.Second, 5*time.Millisecond)
}

func TestBroadcast_DeliversInOrderToAll(t *testing.T) {
	h := New()
	defer h.Close()
	conns := []*recordingConn{newRecordingConn(), newRecordingConn(), newRecordingConn()}
	for _, c := range conns {
		h.Join(c)
	}

	for i := 0; i < 20; i++ {
		require.NoError(t, h.Broadcast(rpc.ServerMessage{Type: rpc.TypeUserMessage, Data: i}))
	}

	for _, c := range conns {
		require.Eventually(t, func() bool {
			var n int
			for _, m := range c.messages() {
				if m.Type == rpc.TypeUserMessage {
					n++
				}
			}
			return n == 20
		}, time.Second, 5*time.Millisecond)

		want := 0
		for _, m := range c.messages() {
			if m.Type != rpc.TypeUserMessage {
				continue
			}
			require.Equal(t, float64(want), m.Data)
			want++
		}
	}
}

func TestBroadcast_FailingConnIsRemoved(t *testing.T) {
	h := New()
	defer h.Close()
	good := newRecordingConn()
	bad := newRecordingConn()
	bad.fail = true

	h.Join(good)
	h.Join(bad)

	require.NoError(t, h.Broadcast(rpc.ServerMessage{Type: rpc.TypeAITyping}))

	require.Eventually(t, func() bool { return h.LiveCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		n, ok := good.lastCount()
		return ok && n == 1
	}, time.Second, 5*time.Millisecond)

	var typing int
	for _, m := range good.messages() {
		if m.Type == rpc.TypeAITyping {
			typing++
		}
	}
	require.Equal(t, 1, typing)
	require.Eventually(t, bad.isClosed, time.Second, 5*time.Millisecond)
	require.Equal(t, ReasonWriteFailed, bad.closeReason())
	require.False(t, good.isClosed())
}

func TestBroadcast_SlowConnIsEvicted(t *testing.T) {
	h := New(WithQueueSize(2))
	defer h.Close()
	slow := newRecordingConn()
	slow.block = make(chan struct{})
	defer close(slow.block)
	fast := newRecordingConn()

	h.Join(slow)
	h.Join(fast)

	for i := 0; i < 10; i++ {
		require.NoError(t, h.Broadcast(rpc.ServerMessage{Type: rpc.TypeUserMessage, Data: i}))
	}

	require.Equal(t, 1, h.LiveCount())
	require.Eventually(t, slow.isClosed, time.Second, 5*time.Millisecond)
	require.Equal(t, ReasonTooSlow, slow.closeReason())
	require.False(t, fast.isClosed())
	require.Eventually(t, func() bool {
		n, ok := fast.lastCount()
		return ok && n == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRemovedMemberGetsNoFurtherWrites(t *testing.T) {
	h := New(WithQueueSize(8))
	defer h.Close()
	conn := newRecordingConn()
	conn.block = make(chan struct{})

	handle := h.Join(conn)
	for i := 0; i < 5; i++ {
		require.NoError(t, h.Broadcast(rpc.ServerMessage{Type: rpc.TypeUserMessage, Data: i}))
	}

	// The pump is parked on the first frame; the rest are still queued.
	h.Leave(handle)
	close(conn.block)

	time.Sleep(50 * time.Millisecond)
	require.LessOrEqual(t, len(conn.messages()), 1)
	require.False(t, conn.isClosed())
}

func TestViewerCount_ConcurrentJoinLeave(t *testing.T) {
	h := New()
	defer h.Close()
	const n, m = 40, 15

	observer := newRecordingConn()
	h.Join(observer)

	handles := make([]Handle, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i] = h.Join(newRecordingConn())
		}(i)
	}
	wg.Wait()

	for i := 0; i < m; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.Leave(handles[i])
		}(i)
	}
	wg.Wait()

	want := 1 + n - m
	require.Equal(t, want, h.LiveCount())
	require.Eventually(t, func() bool {
		got, ok := observer.lastCount()
		return ok && got == want
	}, time.Second, 5*time.Millisecond)
}

func TestClose_StopsAllMembers(t *testing.T) {
	h := New()
	h.Join(newRecordingConn())
	h.Join(newRecordingConn())

	h.Close()

	require.Equal(t, 0, h.LiveCount())
}
