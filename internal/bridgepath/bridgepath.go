// Package bridgepath resolves the on-disk directory tree used by the bridge.
// Everything lives under a .bridge directory next to the executable — not
// under the user's home — so that a bridge deployment is self-contained and
// relocatable. This is a leaf package imported by config, state, cache, and
// sync code.
package bridgepath

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirPerms restricts bridge directories to owner-only access.
const DirPerms = 0o700

// FilePerms restricts bridge files to owner-only read/write.
const FilePerms = 0o600

// bridgeDirName is the root directory created next to the executable.
const bridgeDirName = ".bridge"

// Layout holds the resolved absolute paths for every directory the bridge
// uses. Construct with Resolve or ResolveAt; call EnsureDirs before writing.
type Layout struct {
	Base string // <base>/.bridge
}

// Resolve locates the bridge directory next to the running executable.
func Resolve() (*Layout, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("bridgepath: locating executable: %w", err)
	}

	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return nil, fmt.Errorf("bridgepath: resolving executable symlink: %w", err)
	}

	return ResolveAt(filepath.Dir(exe)), nil
}

// ResolveAt builds a Layout rooted at the given directory. Used directly by
// tests and by the --base CLI flag.
func ResolveAt(root string) *Layout {
	return &Layout{Base: filepath.Join(root, bridgeDirName)}
}

// ConfigDir returns <base>/.bridge/config.
func (l *Layout) ConfigDir() string { return filepath.Join(l.Base, "config") }

// MappingsDir returns the directory holding per-mapping JSON configs.
func (l *Layout) MappingsDir() string { return filepath.Join(l.ConfigDir(), "mappings") }

// DatasourcesDir returns the directory holding datasource connection files.
func (l *Layout) DatasourcesDir() string { return filepath.Join(l.ConfigDir(), "datasources") }

// MappingsStateDir returns the directory holding per-mapping history sidecars.
func (l *Layout) MappingsStateDir() string { return filepath.Join(l.Base, "mappings_state") }

// StateDir returns <base>/.bridge/state.
func (l *Layout) StateDir() string { return filepath.Join(l.Base, "state") }

// CacheDir returns <base>/.bridge/cache.
func (l *Layout) CacheDir() string { return filepath.Join(l.Base, "cache") }

// UploadsDir returns the transient JSONL output directory.
func (l *Layout) UploadsDir() string { return filepath.Join(l.Base, "tmp", "uploads") }

// LogsDir returns <base>/.bridge/logs.
func (l *Layout) LogsDir() string { return filepath.Join(l.Base, "logs") }

// BridgeConfigFile returns the agent-level TOML config path.
func (l *Layout) BridgeConfigFile() string { return filepath.Join(l.ConfigDir(), "bridge.toml") }

// APIKeysFile returns the plaintext API key fallback file.
func (l *Layout) APIKeysFile() string { return filepath.Join(l.ConfigDir(), "api_keys.json") }

// SyncStateFile returns the process-wide mapping state document.
func (l *Layout) SyncStateFile() string { return filepath.Join(l.StateDir(), "sync_state.json") }

// TokenCacheFile returns the upload token cache document.
func (l *Layout) TokenCacheFile() string { return filepath.Join(l.CacheDir(), "upload_tokens.json") }

// RunLedgerFile returns the sqlite run-history database.
func (l *Layout) RunLedgerFile() string { return filepath.Join(l.StateDir(), "runs.db") }

// MappingFile returns the JSON config path for a mapping name
// (<source_name>.<table>).
func (l *Layout) MappingFile(name string) string {
	return filepath.Join(l.MappingsDir(), name+".json")
}

// MappingStateFile returns the per-mapping history sidecar path.
func (l *Layout) MappingStateFile(name string) string {
	return filepath.Join(l.MappingsStateDir(), name+".state.json")
}

// EnsureDirs creates every bridge directory with owner-only permissions.
// chmod failures on filesystems without POSIX permissions are ignored.
func (l *Layout) EnsureDirs() error {
	dirs := []string{
		l.ConfigDir(),
		l.MappingsDir(),
		l.DatasourcesDir(),
		l.MappingsStateDir(),
		l.StateDir(),
		l.CacheDir(),
		l.UploadsDir(),
		l.LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, DirPerms); err != nil {
			return fmt.Errorf("bridgepath: creating %s: %w", dir, err)
		}

		_ = os.Chmod(dir, DirPerms) //nolint:errcheck // best-effort on non-POSIX filesystems
	}

	return nil
}

// SecureFile tightens a file to owner-only read/write. Best-effort.
func SecureFile(path string) {
	_ = os.Chmod(path, FilePerms) //nolint:errcheck // best-effort on non-POSIX filesystems
}
