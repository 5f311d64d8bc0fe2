// Package session tracks connected participants and the bounded private
// context each one accumulates with the responder.
package session

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultWindow is the number of context entries kept per session.
	DefaultWindow = 10
	nameLength    = 8
)

type record struct {
	id        string
	name      string
	createdAt time.Time
	entries   []Entry
}

// Registry maps session ids to their identity and context window.
// All methods are safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	window int
	byID   map[string]*record
	// issued holds every display name handed out, live or released,
	// so a name is never reassigned to a different session. It grows by
	// one entry per session registered over the process lifetime.
	issued map[string]struct{}
	newID  func() string
	now    func() time.Time
}

// NewRegistry creates a registry keeping at most window entries per session.
// A non-positive window falls back to DefaultWindow.
func NewRegistry(window int) *Registry {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Registry{
		window: window,
		byID:   make(map[string]*record),
		issued: make(map[string]struct{}),
		newID:  newSessionID,
		now:    time.Now,
	}
}

func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Register creates a session with an empty context and returns its id and
// display name. The name is the id's first eight characters.
func (r *Registry) Register() (id, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		id = r.newID()
		if len(id) < nameLength {
			continue
		}
		name = id[:nameLength]
		if _, taken := r.issued[name]; taken {
			continue
		}
		break
	}

	r.issued[name] = struct{}{}
	r.byID[id] = &record{id: id, name: name, createdAt: r.now()}
	return id, name
}

// Append adds an entry to the session's context, evicting the oldest entries
// beyond the window. Appending to an unknown session is a no-op.
func (r *Registry) Append(id, text string, role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return
	}
	rec.entries = append(rec.entries, Entry{Text: text, Role: role, At: r.now()})
	if over := len(rec.entries) - r.window; over > 0 {
		rec.entries = slices.Delete(rec.entries, 0, over)
	}
}

// Context returns a copy of the session's context, oldest first.
func (r *Registry) Context(id string) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return slices.Clone(rec.entries), nil
}

func (r *Registry) Name(id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return "", ErrSessionNotFound
	}
	return rec.name, nil
}

// FindByName returns the id of the live session with the given display name.
func (r *Registry) FindByName(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, rec := range r.byID {
		if rec.name == name {
			return id, true
		}
	}
	return "", false
}

// Release discards the session and its context. The display name stays
// reserved. Releasing an unknown session is a no-op.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// ResetAll empties every live session's context while keeping identities.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.byID {
		rec.entries = nil
	}
}

// List returns the live sessions ordered by creation time.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]Info, 0, len(r.byID))
	for _, rec := range r.byID {
		result = append(result, Info{
			ID:        rec.id,
			Name:      rec.name,
			CreatedAt: rec.createdAt,
			Entries:   len(rec.entries),
		})
	}
	slices.SortFunc(result, func(a, b Info) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
