// Package history holds the shared, globally ordered chat log.
// The log lives in memory only and is lost on restart.
package history

import (
	"sync"
	"time"
)

// Log is an append-only sequence of chat events.
// Identifiers are hub-wide and never reused, including across Clear.
type Log struct {
	mu     sync.Mutex
	lastID int64
	events []Event
	now    func() time.Time
}

func NewLog() *Log {
	return &Log{now: time.Now}
}

// Append assigns the next identifier and a creation timestamp, stores the
// event and returns the stored copy. Assignment and storage happen under the
// same lock, so stored order always equals identifier order.
func (l *Log) Append(e Event) Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastID++
	e.ID = l.lastID
	if e.Timestamp == 0 {
		e.Timestamp = l.now().UnixMilli()
	}
	l.events = append(l.events, e)
	return e
}

// Snapshot returns all events since the last Clear, oldest first.
func (l *Log) Snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make([]Event, len(l.events))
	copy(result, l.events)
	return result
}

// Clear truncates the log. The identifier counter keeps running.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}
