// Package clock implements the epoch-based playback synchronization.
//
// The server fixes one epoch at startup and hands it to every client on join.
// Clients compute their own playback position locally with Offset; there is
// no periodic tick or resync message.
package clock

import (
	"errors"
	"time"
)

var ErrInvalidDuration = errors.New("media duration must be positive")

// Clock holds the immutable playback epoch.
type Clock struct {
	epoch time.Time
	now   func() time.Time
}

// New fixes the epoch at the current time.
func New() *Clock {
	return NewAt(time.Now(), time.Now)
}

// NewAt creates a clock with an explicit epoch and time source.
func NewAt(epoch time.Time, now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{epoch: epoch, now: now}
}

// EpochMillis returns the epoch as unix milliseconds, the wire representation.
func (c *Clock) EpochMillis() int64 { return c.epoch.UnixMilli() }

// NowMillis returns the server's current time as unix milliseconds.
func (c *Clock) NowMillis() int64 { return c.now().UnixMilli() }

// Offset returns (now - epoch) mod duration, normalized into [0, duration).
// Times before the epoch wrap around rather than going negative.
func Offset(now, epoch time.Time, duration time.Duration) (time.Duration, error) {
	if duration <= 0 {
		return 0, ErrInvalidDuration
	}
	off := now.Sub(epoch) % duration
	if off < 0 {
		off += duration
	}
	return off, nil
}

// OffsetMillis is Offset over unix-millisecond values as exchanged on the wire.
func OffsetMillis(nowMs, epochMs, durationMs int64) (int64, error) {
	if durationMs <= 0 {
		return 0, ErrInvalidDuration
	}
	off := (nowMs - epochMs) % durationMs
	if off < 0 {
		off += durationMs
	}
	return off, nil
}
