package mapping

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/datasnap/bridge-go/internal/bridgepath"
	"github.com/datasnap/bridge-go/internal/clock"
)

// Store reads and writes mapping config files and their history sidecars.
// Configs are user-owned; the store mutates only transfer.initial_watermark
// (on successful incremental runs) and the sidecar history document.
type Store struct {
	layout *bridgepath.Layout
	logger *slog.Logger
}

// NewStore creates a mapping config store over the given layout.
func NewStore(layout *bridgepath.Layout, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{layout: layout, logger: logger}
}

// Load reads and validates one mapping config by name.
// A missing file returns ErrNotFound wrapped with the list of available
// mapping names, so the operator can spot typos immediately.
func (s *Store) Load(name string) (*Config, error) {
	path := s.layout.MappingFile(name)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		available, listErr := s.List()
		if listErr != nil || len(available) == 0 {
			return nil, fmt.Errorf("%w: %s (no mappings configured)", ErrNotFound, name)
		}

		return nil, fmt.Errorf("%w: %s (available: %s)", ErrNotFound, name, strings.Join(available, ", "))
	}

	if err != nil {
		return nil, fmt.Errorf("mapping: reading %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("mapping: decoding %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("mapping %s: %w", name, err)
	}

	return &cfg, nil
}

// List returns the names of all configured mappings, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.layout.MappingsDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("mapping: listing %s: %w", s.layout.MappingsDir(), err)
	}

	var names []string

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}

		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}

	sort.Strings(names)

	return names, nil
}

// Save writes a mapping config atomically (write-to-temp + rename) with
// owner-only permissions, and initialises the history sidecar on first save.
func (s *Store) Save(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	name := cfg.Name()

	if err := writeJSONAtomic(s.layout.MappingFile(name), cfg); err != nil {
		return fmt.Errorf("mapping: saving %s: %w", name, err)
	}

	return s.EnsureSidecar(name, cfg.Transfer.InitialWatermark)
}

// UpdateWatermark rewrites transfer.initial_watermark in the config file.
// The rewrite is read-modify-write-rename on the raw JSON document so that
// unknown fields written by other tooling survive untouched. No lock is held:
// only one runner per mapping can be active, enforced by the running set.
func (s *Store) UpdateWatermark(name, watermark string) error {
	path := s.layout.MappingFile(name)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("mapping: reading %s for watermark update: %w", path, err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("mapping: decoding %s for watermark update: %w", path, err)
	}

	var transfer map[string]any
	if raw, ok := doc["transfer"]; ok {
		if err := json.Unmarshal(raw, &transfer); err != nil {
			return fmt.Errorf("mapping: decoding transfer section of %s: %w", path, err)
		}
	} else {
		transfer = map[string]any{}
	}

	old, _ := transfer["initial_watermark"].(string)
	transfer["initial_watermark"] = watermark

	rawTransfer, err := json.Marshal(transfer)
	if err != nil {
		return fmt.Errorf("mapping: encoding transfer section: %w", err)
	}

	doc["transfer"] = rawTransfer

	if err := writeJSONAtomic(path, doc); err != nil {
		return fmt.Errorf("mapping: rewriting %s: %w", path, err)
	}

	s.logger.Info("watermark advanced",
		slog.String("mapping", name),
		slog.String("old", old),
		slog.String("new", watermark),
	)

	return nil
}

// writeJSONAtomic marshals v with two-space indentation and writes it via
// tempfile + rename so readers never observe a torn document.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, bridgepath.DirPerms); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating tempfile: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("writing tempfile: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("closing tempfile: %w", err)
	}

	bridgepath.SecureFile(tmpName)

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("renaming into place: %w", err)
	}

	return nil
}

// Sidecar history document, one per mapping, under mappings_state/.

// SidecarState records the per-mapping sync history visible to operators and
// setup tooling. Distinct from the process-wide state store: this file is a
// long-lived audit trail, not runtime coordination state.
type SidecarState struct {
	LastSynced SidecarWatermark `json:"last_synced"`
	Counters   SidecarCounters  `json:"counters"`
	LastRun    SidecarRun       `json:"last_run"`
}

// SidecarWatermark is the most recently committed watermark.
type SidecarWatermark struct {
	Watermark string  `json:"watermark"`
	At        *string `json:"at"`
}

// SidecarCounters accumulate across all runs of the mapping.
type SidecarCounters struct {
	TotalRuns    int64 `json:"total_runs"`
	TotalRecords int64 `json:"total_records"`
	TotalFiles   int64 `json:"total_files"`
	TotalBytes   int64 `json:"total_bytes"`
}

// SidecarRun describes the most recent run.
type SidecarRun struct {
	StartedAt  *string `json:"started_at"`
	FinishedAt *string `json:"finished_at"`
	Records    int64   `json:"records"`
	Status     string  `json:"status"`
}

// EnsureSidecar creates the history sidecar if absent, initialised to the
// never-run state with the given watermark.
func (s *Store) EnsureSidecar(name, watermark string) error {
	path := s.layout.MappingStateFile(name)

	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if watermark == "" {
		watermark = "0"
	}

	initial := SidecarState{
		LastSynced: SidecarWatermark{Watermark: watermark},
		LastRun:    SidecarRun{Status: "never_run"},
	}

	if err := writeJSONAtomic(path, &initial); err != nil {
		return fmt.Errorf("mapping: initialising sidecar for %s: %w", name, err)
	}

	return nil
}

// LoadSidecar reads a mapping's history sidecar. Returns the never-run
// document if the file does not exist.
func (s *Store) LoadSidecar(name string) (*SidecarState, error) {
	data, err := os.ReadFile(s.layout.MappingStateFile(name))
	if errors.Is(err, fs.ErrNotExist) {
		return &SidecarState{
			LastSynced: SidecarWatermark{Watermark: "0"},
			LastRun:    SidecarRun{Status: "never_run"},
		}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("mapping: reading sidecar for %s: %w", name, err)
	}

	var st SidecarState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("mapping: decoding sidecar for %s: %w", name, err)
	}

	return &st, nil
}

// RecordRun folds a finished run into the sidecar history. Failures are
// logged by callers; the sidecar is advisory and never blocks a run.
func (s *Store) RecordRun(name string, startedAt, finishedAt string, records, files, bytes int64, status, watermark string) error {
	st, err := s.LoadSidecar(name)
	if err != nil {
		return err
	}

	st.Counters.TotalRuns++
	st.Counters.TotalRecords += records
	st.Counters.TotalFiles += files
	st.Counters.TotalBytes += bytes
	st.LastRun = SidecarRun{
		StartedAt:  &startedAt,
		FinishedAt: &finishedAt,
		Records:    records,
		Status:     status,
	}

	if watermark != "" {
		now := clock.RFC3339(clock.Now())
		st.LastSynced = SidecarWatermark{Watermark: watermark, At: &now}
	}

	return writeJSONAtomic(s.layout.MappingStateFile(name), st)
}
