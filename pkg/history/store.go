// Package history records finished executions in a local JSON file. The
// store is a cache over that file: submitting a new execution marks it stale
// through the invalidation hook, and the next read reloads from disk.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/stepwatch/stepwatch/pkg/run"
)

// Entry is one recorded execution.
type Entry struct {
	ExecutionID string      `json:"execution_id"`
	Plan        string      `json:"plan"`
	Branch      string      `json:"branch,omitempty"`
	Commit      string      `json:"commit,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	Status      string      `json:"status"`
	Summary     run.Summary `json:"summary"`
}

// Store is a file-backed execution history. Safe for concurrent use.
type Store struct {
	path string

	mu      sync.Mutex
	entries []Entry
	loaded  bool
	stale   bool
}

// NewStore creates a store over the given file. The file does not need to
// exist; empty path uses the default location under the user state directory.
func NewStore(path string) (*Store, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		path = filepath.Join(home, ".local", "state", "stepwatch", "history.json")
	}
	return &Store{path: path}, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Invalidate marks the cached entries stale. This is the submitter's
// invalidation hook target: it flips staleness and nothing else.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.stale = true
	s.mu.Unlock()
}

// List returns all recorded entries, newest last. Reloads from disk when the
// cache is stale or was never loaded.
func (s *Store) List() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded || s.stale {
		if err := s.reload(); err != nil {
			return nil, err
		}
	}
	return append([]Entry(nil), s.entries...), nil
}

// Append records one finished execution and persists immediately.
func (s *Store) Append(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded || s.stale {
		if err := s.reload(); err != nil {
			return err
		}
	}

	s.entries = append(s.entries, e)
	return s.persist()
}

// reload reads the backing file. a missing file means an empty history.
// caller must hold the lock.
func (s *Store) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.entries = nil
			s.loaded = true
			s.stale = false
			return nil
		}
		return fmt.Errorf("read history: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("decode history %s: %w", s.path, err)
	}

	s.entries = entries
	s.loaded = true
	s.stale = false
	return nil
}

// persist writes entries atomically: temp file in the same dir, then rename.
// caller must hold the lock.
func (s *Store) persist() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}

	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".history-*")
	if err != nil {
		return fmt.Errorf("create temp history: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp history: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace history: %w", err)
	}
	return nil
}
