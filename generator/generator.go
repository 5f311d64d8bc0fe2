// Package generator is the boundary to the external response generator.
package generator

//go:generate mockgen -destination=../mocks/mock_generator.go -package=mocks github.com/elizastream/server/generator Generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/elizastream/server/history"
	"github.com/elizastream/server/session"
)

var (
	ErrMalformedReply = errors.New("malformed generator reply")
	ErrEmptyReply     = errors.New("empty generator reply")
)

// Request is one generation call: the new input, the participant's context
// window before that input, and the participant's display name.
type Request struct {
	Input    string
	Context  []session.Entry
	Username string
}

type Reply struct {
	Text string       `json:"text"`
	Mood history.Mood `json:"emotion"`
}

// Generator produces the responder's reply. Implementations may be slow and
// may fail; callers bound the call with ctx.
type Generator interface {
	Generate(ctx context.Context, req Request) (Reply, error)
}

// ParseReply decodes a {"text", "emotion"} object. A surrounding markdown
// code fence is tolerated.
func ParseReply(content string) (Reply, error) {
	content = stripFence(strings.TrimSpace(content))
	if content == "" {
		return Reply{}, ErrEmptyReply
	}

	var raw struct {
		Text    string `json:"text"`
		Emotion string `json:"emotion"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}

	text := strings.TrimSpace(raw.Text)
	if text == "" {
		return Reply{}, fmt.Errorf("%w: missing text", ErrMalformedReply)
	}
	mood := history.Mood(strings.ToLower(strings.TrimSpace(raw.Emotion)))
	if !mood.IsValid() {
		return Reply{}, fmt.Errorf("%w: unknown emotion %q", ErrMalformedReply, raw.Emotion)
	}
	return Reply{Text: text, Mood: mood}, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
