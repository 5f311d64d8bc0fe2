package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClock_EpochIsFixed(t *testing.T) {
	epoch := time.UnixMilli(1_700_000_000_000)
	current := epoch
	c := NewAt(epoch, func() time.Time { return current })

	first := c.EpochMillis()
	current = current.Add(time.Hour)

	require.Equal(t, first, c.EpochMillis())
	require.Equal(t, epoch.Add(time.Hour).UnixMilli(), c.NowMillis())
}

func TestOffset(t *testing.T) {
	epoch := time.UnixMilli(1_000_000)
	d := 3 * time.Minute

	tests := []struct {
		name string
		now  time.Time
		want time.Duration
	}{
		{"at epoch", epoch, 0},
		{"inside first loop", epoch.Add(90 * time.Second), 90 * time.Second},
		{"exactly one loop", epoch.Add(d), 0},
		{"after several loops", epoch.Add(5*d + 7*time.Second), 7 * time.Second},
		{"before epoch wraps", epoch.Add(-10 * time.Second), d - 10*time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Offset(tt.now, epoch, d)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.GreaterOrEqual(t, got, time.Duration(0))
			require.Less(t, got, d)
		})
	}
}

func TestOffset_Periodic(t *testing.T) {
	epoch := time.UnixMilli(1_700_000_000_000)
	d := 217 * time.Second
	t1 := epoch.Add(13*time.Hour + 123*time.Millisecond)

	a, err := Offset(t1, epoch, d)
	require.NoError(t, err)
	b, err := Offset(t1.Add(d), epoch, d)
	require.NoError(t, err)

	require.Equal(t, a, b)
}

func TestOffset_InvalidDuration(t *testing.T) {
	_, err := Offset(time.Now(), time.Now(), 0)
	require.ErrorIs(t, err, ErrInvalidDuration)

	_, err = OffsetMillis(10, 0, -1)
	require.ErrorIs(t, err, ErrInvalidDuration)
}

func TestOffsetMillis(t *testing.T) {
	got, err := OffsetMillis(25_500, 10_000, 5_000)
	require.NoError(t, err)
	require.Equal(t, int64(500), got)

	got, err = OffsetMillis(9_000, 10_000, 5_000)
	require.NoError(t, err)
	require.Equal(t, int64(4_000), got)
}
