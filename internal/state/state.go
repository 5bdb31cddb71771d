// Package state implements the process-wide mapping state store: one JSON
// document at <base>/.bridge/state/sync_state.json mapping each mapping name
// to its runtime state (running flag, counters, last error). A single mutex
// guards the in-memory map and the file; every write is an atomic rewrite of
// the whole document, so readers see either the prior or the new version,
// never a torn write.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/datasnap/bridge-go/internal/bridgepath"
	"github.com/datasnap/bridge-go/internal/clock"
)

// MappingState is the runtime state of one mapping. On start, only IsRunning
// and UpdatedAt change; on success, counters advance and LastError clears;
// on error, counters are untouched.
type MappingState struct {
	MappingName           string  `json:"mapping_name"`
	LastSyncTimestamp     *int64  `json:"last_sync_timestamp"`
	LastSyncISO           *string `json:"last_sync_iso"`
	TotalRecordsProcessed int64   `json:"total_records_processed"`
	LastBatchRecords      int64   `json:"last_batch_records"`
	LastError             *string `json:"last_error"`
	LastErrorTimestamp    *int64  `json:"last_error_timestamp"`
	SyncCount             int64   `json:"sync_count"`
	IsRunning             bool    `json:"is_running"`
	CreatedAt             int64   `json:"created_at"`
	UpdatedAt             int64   `json:"updated_at"`
}

// Store manages the state document. Writers hold the mutex across in-memory
// mutation plus file rewrite; readers take it briefly and return copies.
type Store struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	states map[string]*MappingState
}

// NewStore opens (or lazily creates) the state document at path.
// A corrupt document is logged and treated as empty rather than blocking
// every future sync.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		path:   path,
		logger: logger,
		states: make(map[string]*MappingState),
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("state: reading %s: %w", s.path, err)
	}

	var doc map[string]*MappingState
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("state file corrupt, starting empty",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)

		return nil
	}

	s.states = doc

	return nil
}

// save rewrites the full document atomically. Caller must hold s.mu.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.states, "", "  ")
	if err != nil {
		return fmt.Errorf("state: encoding: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, bridgepath.DirPerms); err != nil {
		return fmt.Errorf("state: creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".sync_state-*")
	if err != nil {
		return fmt.Errorf("state: creating tempfile: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("state: writing tempfile: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("state: closing tempfile: %w", err)
	}

	bridgepath.SecureFile(tmpName)

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("state: renaming into place: %w", err)
	}

	return nil
}

// getOrCreate returns the state for name, creating it lazily.
// Caller must hold s.mu.
func (s *Store) getOrCreate(name string) *MappingState {
	st, ok := s.states[name]
	if !ok {
		now := clock.UnixSeconds()
		st = &MappingState{MappingName: name, CreatedAt: now, UpdatedAt: now}
		s.states[name] = st
	}

	return st
}

// Get returns a copy of the state for name, creating an empty record if the
// mapping has never run.
func (s *Store) Get(name string) MappingState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return *s.getOrCreate(name)
}

// StartSync marks the mapping as running and persists the document.
func (s *Store) StartSync(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.getOrCreate(name)
	st.IsRunning = true
	st.UpdatedAt = clock.UnixSeconds()

	return s.save()
}

// FinishSyncSuccess records a successful run: counters advance, the error
// fields clear, and the running flag drops.
func (s *Store) FinishSyncSuccess(name string, records int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.getOrCreate(name)
	now := clock.UnixSeconds()
	iso := clock.RFC3339(clock.Now())

	st.LastSyncTimestamp = &now
	st.LastSyncISO = &iso
	st.LastBatchRecords = records
	st.TotalRecordsProcessed += records
	st.SyncCount++
	st.LastError = nil
	st.LastErrorTimestamp = nil
	st.IsRunning = false
	st.UpdatedAt = now

	return s.save()
}

// FinishSyncError records a failed run: the error fields are set, counters
// are untouched, and the running flag drops.
func (s *Store) FinishSyncError(name, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.getOrCreate(name)
	now := clock.UnixSeconds()

	st.LastError = &errMsg
	st.LastErrorTimestamp = &now
	st.IsRunning = false
	st.UpdatedAt = now

	return s.save()
}

// RunningNames returns the mappings currently flagged as running.
// After a crash this may include stale entries; the in-process running set
// is the authority within one process, and operators may Clear stale flags.
func (s *Store) RunningNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var names []string

	for name, st := range s.states {
		if st.IsRunning {
			names = append(names, name)
		}
	}

	return names
}

// Clear removes a mapping's state entirely.
func (s *Store) Clear(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.states[name]; !ok {
		return nil
	}

	delete(s.states, name)

	return s.save()
}

// All returns a copy of every mapping state.
func (s *Store) All() map[string]MappingState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]MappingState, len(s.states))
	for name, st := range s.states {
		out[name] = *st
	}

	return out
}

// Summary aggregates counters across all mappings for the status command.
type Summary struct {
	TotalMappings      int   `json:"total_mappings"`
	RunningMappings    int   `json:"running_mappings"`
	TotalRecords       int64 `json:"total_records_processed"`
	TotalSyncs         int64 `json:"total_syncs"`
	MappingsWithErrors int   `json:"mappings_with_errors"`
}

// Summarize computes aggregate totals over the current document.
func (s *Store) Summarize() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum Summary
	sum.TotalMappings = len(s.states)

	for _, st := range s.states {
		if st.IsRunning {
			sum.RunningMappings++
		}

		if st.LastError != nil {
			sum.MappingsWithErrors++
		}

		sum.TotalRecords += st.TotalRecordsProcessed
		sum.TotalSyncs += st.SyncCount
	}

	return sum
}
