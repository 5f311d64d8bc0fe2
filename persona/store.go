// Package persona supplies the responder's system prompt, optionally loaded
// from a file that is reloaded when it changes on disk.
package persona

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const usernamePlaceholder = "{{username}}"

const DefaultPrompt = `You are Eliza, a chill AI in a lofi stream chat. Keep responses short, casual, and in lowercase. No greetings like "hey" or "hello" unless directly asked. No emojis. Just vibe and chat. Sometimes be sarcastic or witty. Keep it brief - max 2 sentences.

You're chatting with {{username}}. You have access to their recent chat history to maintain context. IMPORTANT: Actually use the conversation history to provide relevant, contextual responses. If they ask about previous messages, refer to the actual history.

Also determine the emotion of your response:
- "happy" for positive, upbeat responses
- "sad" for empathetic, melancholic responses

NEVER give the same response twice in a row. Be varied and creative.

Respond in JSON format: {"text": "your response", "emotion": "emotion"}`

// Store holds the current prompt template.
type Store struct {
	path string

	mu       sync.RWMutex
	template string

	watcher    *fsnotify.Watcher
	debounce   *time.Timer
	debounceMu sync.Mutex
}

// NewStore loads the template from path. An empty path uses DefaultPrompt.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, template: DefaultPrompt}
	if path == "" {
		return s, nil
	}

	tmpl, err := readTemplate(path)
	if err != nil {
		return nil, err
	}
	s.template = tmpl
	return s, nil
}

func readTemplate(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read persona file: %w", err)
	}
	tmpl := strings.TrimSpace(string(data))
	if tmpl == "" {
		return "", fmt.Errorf("persona file %s is empty", path)
	}
	return tmpl, nil
}

// Prompt renders the template for the given participant.
func (s *Store) Prompt(username string) string {
	s.mu.RLock()
	tmpl := s.template
	s.mu.RUnlock()
	return strings.ReplaceAll(tmpl, usernamePlaceholder, username)
}

// Template returns the raw template.
func (s *Store) Template() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.template
}

// StartWatching reloads the template whenever the file changes.
// It does nothing for a store without a file.
func (s *Store) StartWatching() error {
	if s.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.watcher = watcher

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return err
	}

	go s.watchLoop()
	slog.Info("persona store watching for changes", "path", s.path)
	return nil
}

func (s *Store) StopWatching() {
	s.debounceMu.Lock()
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounceMu.Unlock()

	if s.watcher != nil {
		s.watcher.Close()
	}
}

func (s *Store) watchLoop() {
	name := filepath.Base(s.path)
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			s.scheduleReload()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("persona store fsnotify error", "error", err)
		}
	}
}

const reloadDebounce = 100 * time.Millisecond

func (s *Store) scheduleReload() {
	s.debounceMu.Lock()
	defer s.debounceMu.Unlock()

	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(reloadDebounce, s.reloadFromDisk)
}

// reloadFromDisk keeps the previous template when the file is unreadable.
func (s *Store) reloadFromDisk() {
	tmpl, err := readTemplate(s.path)
	if err != nil {
		slog.Error("failed to reload persona, keeping previous", "path", s.path, "error", err)
		return
	}

	s.mu.Lock()
	s.template = tmpl
	s.mu.Unlock()
	slog.Info("persona reloaded", "path", s.path)
}
