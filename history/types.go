package history

// Kind identifies who produced a chat event. The values are the wire names.
type Kind string

const (
	KindParticipant Kind = "user"
	KindResponder   Kind = "ai"
)

// Mood tags a responder message.
type Mood string

const (
	MoodHappy Mood = "happy"
	MoodSad   Mood = "sad"
)

// IsValid returns true if the mood is one the clients know how to render.
func (m Mood) IsValid() bool {
	switch m {
	case MoodHappy, MoodSad:
		return true
	default:
		return false
	}
}

// Event is one immutable entry of the shared chat log.
// ID and Timestamp are assigned by Log.Append.
type Event struct {
	ID           int64  `json:"id"`
	Kind         Kind   `json:"type"`
	Content      string `json:"content"`
	Username     string `json:"username,omitempty"`
	Mood         Mood   `json:"emotion,omitempty"`
	RespondingTo string `json:"respondingTo,omitempty"`
	Timestamp    int64  `json:"timestamp"` // unix milliseconds
}
