// Package state implements a persistent state store: an atomically-replaced
// JSON snapshot of the queue, positions, cooldowns and outstanding order
// identifiers, with forward schema migration and write-to-temp-then-rename
// durability.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mwhartley/execution-core/models"
)

// CurrentSchemaVersion is bumped whenever State's shape changes in a way
// that requires forward migration.
const CurrentSchemaVersion = "1"

// State is the full persisted snapshot of engine-owned data.
type State struct {
	SchemaVersion     string                   `json:"schema_version"`
	Checkpoint        time.Time                `json:"checkpoint"`
	Signals           []models.PendingSignal   `json:"signals"`
	Positions         []models.TrackedPosition `json:"positions"`
	Cooldowns         []models.Cooldown        `json:"cooldowns"`
	OutstandingOrders map[string]string        `json:"outstanding_orders"`
}

// Empty returns a fresh, zero-value state stamped with the current schema
// version.
func Empty() State {
	return State{SchemaVersion: CurrentSchemaVersion, OutstandingOrders: make(map[string]string)}
}

// Store persists State to disk atomically.
type Store struct {
	path string
}

// New creates a Store backed by the file at path.
func New(path string) *Store {
	return &Store{path: path}
}

// Save writes state atomically: marshal to a temp file in the same
// directory, then rename over the target path.
func (s *Store) Save(st State) error {
	st.Checkpoint = time.Now().UTC()
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Load returns the stored state, or a fresh empty state if none exists. On
// a schema mismatch it attempts forward migration; if migration fails it
// backs up the incompatible file and starts empty.
func (s *Store) Load() (State, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Empty(), nil
	}
	if err != nil {
		return Empty(), fmt.Errorf("read state file: %w", err)
	}

	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		s.quarantine(raw)
		return Empty(), nil
	}

	if st.SchemaVersion != CurrentSchemaVersion {
		migrated, ok := migrate(st)
		if !ok {
			s.quarantine(raw)
			return Empty(), nil
		}
		st = migrated
	}
	if st.OutstandingOrders == nil {
		st.OutstandingOrders = make(map[string]string)
	}
	return st, nil
}

// Reset deletes the state file so the next Load starts empty.
func (s *Store) Reset() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reset state: %w", err)
	}
	return nil
}

func (s *Store) quarantine(raw []byte) {
	backupPath := s.path + ".incompatible." + time.Now().UTC().Format("20060102T150405")
	if err := os.WriteFile(backupPath, raw, 0o644); err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("failed to back up incompatible state file")
		return
	}
	log.Warn().Str("backup", backupPath).Msg("incompatible state file backed up, starting empty")
}

// migrate attempts to forward-migrate an older schema version to current.
// There is only one schema version so far; this is the seam future
// migrations hang off.
func migrate(st State) (State, bool) {
	if st.SchemaVersion == "" {
		st.SchemaVersion = CurrentSchemaVersion
		return st, true
	}
	return State{}, false
}
