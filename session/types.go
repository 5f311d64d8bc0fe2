package session

import (
	"errors"
	"time"
)

var ErrSessionNotFound = errors.New("session not found")

// Role marks who authored a context entry.
type Role string

const (
	RoleParticipant Role = "participant"
	RoleResponder   Role = "responder"
)

// IsValid returns true if the role is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleParticipant, RoleResponder:
		return true
	default:
		return false
	}
}

// Entry is one line of a session's private conversational context.
type Entry struct {
	Text string    `json:"text"`
	Role Role      `json:"role"`
	At   time.Time `json:"at"`
}

// Info describes a live session.
type Info struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	Entries   int       `json:"entries"`
}
