package presentation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Prefs are the only presentation flags persisted between runs.
type Prefs struct {
	Open      bool `json:"open"`
	Minimized bool `json:"minimized"`
}

// PrefsStore keeps Prefs in a small JSON file.
type PrefsStore struct {
	mu   sync.Mutex
	path string
}

// NewPrefsStore creates a store at path. An empty path gives a store that
// never persists anything.
func NewPrefsStore(path string) *PrefsStore {
	return &PrefsStore{path: path}
}

// Load reads the stored flags. A missing file yields zero Prefs.
func (s *PrefsStore) Load() (Prefs, error) {
	if s == nil || s.path == "" {
		return Prefs{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Prefs{}, nil
		}
		return Prefs{}, fmt.Errorf("failed to read prefs: %w", err)
	}

	var p Prefs
	if err := json.Unmarshal(data, &p); err != nil {
		return Prefs{}, fmt.Errorf("failed to parse prefs: %w", err)
	}
	return p, nil
}

// Save writes the flags.
func (s *PrefsStore) Save(p Prefs) error {
	if s == nil || s.path == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create prefs directory: %w", err)
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal prefs: %w", err)
	}

	// Write to temp file first, then rename for atomicity
	tmpFile := s.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write prefs: %w", err)
	}
	if err := os.Rename(tmpFile, s.path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename prefs: %w", err)
	}
	return nil
}

// Clear removes the stored flags.
func (s *PrefsStore) Clear() error {
	if s == nil || s.path == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear prefs: %w", err)
	}
	return nil
}

// Restore decides what to do with cached flags once a session is known.
//
// Flags are applied only when live is true, meaning a session was independently
// verified as active and has produced data. Otherwise they are stale: the file
// is cleared and nothing is applied, so a widget never reappears for a job that
// is gone.
func Restore(store *PrefsStore, m *Machine, live bool) (bool, error) {
	p, err := store.Load()
	if err != nil {
		// Unreadable prefs are as good as stale
		return false, store.Clear()
	}

	if !live || !m.Active() || m.Starting() || !p.Open {
		return false, store.Clear()
	}

	v := Expanded
	if p.Minimized {
		v = Minimized
	}
	return m.Restore(v), nil
}
