// Package catalog orchestrates sync runs: it resolves the current batch per
// entity type, drives extraction in resolved order, records Full baselines,
// and removes pre-baseline chunks once a newer baseline has landed.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/omicslake/sra-mirror-lake/logging"
	"github.com/omicslake/sra-mirror-lake/mirror"
)

// Baseline records the last Full dump landed for one entity type.
type Baseline struct {
	Date       string    `json:"date"`
	SourceURL  string    `json:"source_url"`
	RecordedAt time.Time `json:"recorded_at"`
}

// State is the persisted catalog state across runs.
type State struct {
	Baselines map[string]Baseline `json:"baselines"`
	LastRun   time.Time           `json:"last_run,omitempty"`
}

// Baseline returns the recorded baseline for an entity type, if any.
func (s State) Baseline(entity mirror.EntityType) (Baseline, bool) {
	b, ok := s.Baselines[string(entity)]
	return b, ok
}

// StateStore persists catalog state as a JSON file. Saves go through a
// temporary file and a rename so a crash never leaves a torn state file.
type StateStore struct {
	path   string
	logger *logging.ComponentLogger
	mu     sync.Mutex
}

// NewStateStore opens a state store at the given file path, creating the
// parent directory if needed.
func NewStateStore(path string, logger *logging.ComponentLogger) (*StateStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &StateStore{path: path, logger: logger}, nil
}

// Load reads the persisted state. A missing file yields an empty state.
func (ss *StateStore) Load() (State, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	data, err := os.ReadFile(ss.path)
	if errors.Is(err, fs.ErrNotExist) {
		return State{Baselines: map[string]Baseline{}}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to read state file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("failed to parse state file %s: %w", ss.path, err)
	}
	if state.Baselines == nil {
		state.Baselines = map[string]Baseline{}
	}
	return state, nil
}

// Save persists the state atomically.
func (ss *StateStore) Save(state State) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tempFile := ss.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tempFile, ss.path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	ss.logger.Debug().
		Str("path", ss.path).
		Int("entities", len(state.Baselines)).
		Msg("Saved catalog state")
	return nil
}
