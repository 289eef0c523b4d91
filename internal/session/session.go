// Package session persists conversational context per session as JSON files.
// Sessions scope cache entries and let clients review prior turns; losing
// one costs history, never correctness, so plain files are enough.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	sibylerr "github.com/sibyl-search/sibyl/internal/errors"
)

// Turn is one query/response exchange.
type Turn struct {
	Query    string    `json:"query"`
	TopChunk string    `json:"top_chunk,omitempty"`
	Degraded bool      `json:"degraded,omitempty"`
	At       time.Time `json:"at"`
}

// Session is a conversational scope.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Turns     []Turn    `json:"turns"`
}

// Manager stores sessions as one JSON file per session.
type Manager struct {
	dir      string
	maxTurns int
	mu       sync.Mutex
}

var validSessionID = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// NewManager creates a session manager rooted at dir.
func NewManager(dir string, maxTurns int) (*Manager, error) {
	if maxTurns <= 0 {
		maxTurns = 20
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "create session directory", err)
	}
	return &Manager{dir: dir, maxTurns: maxTurns}, nil
}

// NewID generates a fresh session identifier.
func NewID() string {
	return uuid.NewString()
}

func (m *Manager) path(id string) (string, error) {
	if !validSessionID.MatchString(id) {
		return "", sibylerr.New(sibylerr.ErrCodeInvalidQuery,
			fmt.Sprintf("invalid session id %q", id), nil)
	}
	return filepath.Join(m.dir, id+".json"), nil
}

// Get loads a session, creating an empty one if missing.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(id)
}

func (m *Manager) load(id string) (*Session, error) {
	path, err := m.path(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			now := time.Now().UTC()
			return &Session{ID: id, CreatedAt: now, UpdatedAt: now}, nil
		}
		return nil, sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "read session", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "decode session", err)
	}
	return &s, nil
}

// Append records a turn, trimming history to the configured bound, and
// persists the session atomically.
func (m *Manager) Append(id string, turn Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.load(id)
	if err != nil {
		return err
	}

	if turn.At.IsZero() {
		turn.At = time.Now().UTC()
	}
	s.Turns = append(s.Turns, turn)
	if len(s.Turns) > m.maxTurns {
		s.Turns = s.Turns[len(s.Turns)-m.maxTurns:]
	}
	s.UpdatedAt = time.Now().UTC()

	return m.save(s)
}

func (m *Manager) save(s *Session) error {
	path, err := m.path(s.ID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return sibylerr.New(sibylerr.ErrCodeInternal, "encode session", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "write session", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "rename session", err)
	}
	return nil
}

// List returns known session IDs, most recently updated first.
func (m *Manager) List() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "list sessions", err)
	}

	type entry struct {
		id  string
		mod time.Time
	}
	var found []entry
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, entry{id: strings.TrimSuffix(name, ".json"), mod: info.ModTime()})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].mod.After(found[j].mod) })

	ids := make([]string, len(found))
	for i, e := range found {
		ids[i] = e.id
	}
	return ids, nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path, err := m.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return sibylerr.New(sibylerr.ErrCodeCorpusUnavailable, "delete session", err)
	}
	return nil
}
