package history

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppend_AssignsIncreasingIDs(t *testing.T) {
	l := NewLog()

	first := l.Append(Event{Kind: KindParticipant, Content: "hi", Username: "a1b2c3d4"})
	second := l.Append(Event{Kind: KindResponder, Content: "sup", Mood: MoodHappy, RespondingTo: "a1b2c3d4"})

	require.Equal(t, int64(1), first.ID)
	require.Equal(t, first.ID+1, second.ID)
	require.NotZero(t, first.Timestamp)
}

func TestAppend_KeepsExplicitTimestamp(t *testing.T) {
	l := NewLog()
	l.now = func() time.Time { return time.UnixMilli(42) }

	stamped := l.Append(Event{Content: "kept", Timestamp: 7})
	assigned := l.Append(Event{Content: "assigned"})

	require.Equal(t, int64(7), stamped.Timestamp)
	require.Equal(t, int64(42), assigned.Timestamp)
}

func TestAppend_ConcurrentCallersGetUniqueOrderedIDs(t *testing.T) {
	l := NewLog()
	const workers, perWorker = 16, 50

	var mu sync.Mutex
	var ids []int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				e := l.Append(Event{Kind: KindParticipant, Content: "x"})
				mu.Lock()
				ids = append(ids, e.ID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, ids, workers*perWorker)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i := 1; i < len(ids); i++ {
		require.Less(t, ids[i-1], ids[i], "duplicate id %d", ids[i])
	}

	snap := l.Snapshot()
	require.Len(t, snap, len(ids))
	for i := 1; i < len(snap); i++ {
		require.Less(t, snap[i-1].ID, snap[i].ID)
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	l := NewLog()
	l.Append(Event{Content: "one"})

	snap := l.Snapshot()
	snap[0].Content = "mutated"

	require.Equal(t, "one", l.Snapshot()[0].Content)
}

func TestClear(t *testing.T) {
	l := NewLog()
	l.Append(Event{Content: "one"})
	l.Append(Event{Content: "two"})

	l.Clear()

	require.Empty(t, l.Snapshot())
	require.Equal(t, 0, l.Len())

	next := l.Append(Event{Content: "three"})
	require.Equal(t, int64(3), next.ID, "ids must not be reused after clear")
}
