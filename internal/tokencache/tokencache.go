// Package tokencache persists upload tokens across runs so consecutive
// syncs of the same mapping reuse one grant instead of hitting the token
// endpoint every time. Entries are keyed by "<schema_slug>:<mapping_name>"
// and considered valid only while they have a comfortable margin left
// before expiry; stale entries are evicted on access and swept wholesale
// by CleanupExpired.
package tokencache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/datasnap/bridge-go/internal/api"
	"github.com/datasnap/bridge-go/internal/bridgepath"
	"github.com/datasnap/bridge-go/internal/clock"
)

// expiryMargin is how much validity a token must have left to be served
// from cache. Tokens closer to expiry than this are treated as expired so
// an upload never starts with a token about to lapse mid-transfer.
const expiryMargin = 5 * time.Minute

// entry is one cached token with the time it was stored.
type entry struct {
	Token    api.UploadToken `json:"token"`
	CachedAt time.Time       `json:"cached_at"`
}

// Cache is the persistent token cache. Safe for concurrent use.
type Cache struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]entry
}

// Key builds the cache key for a schema slug and mapping name.
func Key(slug, mappingName string) string {
	return slug + ":" + mappingName
}

// New opens (or lazily creates) the cache document at path. A corrupt
// document is logged and discarded; the cache is an optimisation, never a
// source of truth.
func New(path string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Cache{path: path, logger: logger, entries: map[string]entry{}}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c
	}

	if err != nil {
		logger.Warn("token cache unreadable, starting empty",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return c
	}

	if err := json.Unmarshal(data, &c.entries); err != nil {
		logger.Warn("token cache corrupt, starting empty",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		c.entries = map[string]entry{}
	}

	return c
}

// expired reports whether an entry is past the validity margin.
func expired(e entry) bool {
	return !clock.Now().Add(expiryMargin).Before(e.Token.ExpiresAt)
}

// Get returns the cached token for the key if it is still comfortably
// valid. Expired entries are evicted and persisted out.
func (c *Cache) Get(key string) (*api.UploadToken, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	if expired(e) {
		delete(c.entries, key)

		if err := c.save(); err != nil {
			c.logger.Warn("persisting token cache eviction failed", slog.String("error", err.Error()))
		}

		return nil, false
	}

	token := e.Token

	return &token, true
}

// Put stores a token under the key and persists the cache.
func (c *Cache) Put(key string, token *api.UploadToken) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry{Token: *token, CachedAt: clock.Now()}

	return c.save()
}

// CleanupExpired sweeps every expired entry, not just ones that happen to
// be read again, and persists the document once when anything was dropped.
// Returns the number of entries removed.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0

	for key, e := range c.entries {
		if expired(e) {
			delete(c.entries, key)
			removed++
		}
	}

	if removed > 0 {
		if err := c.save(); err != nil {
			c.logger.Warn("persisting token cache sweep failed", slog.String("error", err.Error()))
		}
	}

	return removed
}

// Invalidate drops a key, used when the server rejects a cached token.
func (c *Cache) Invalidate(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return nil
	}

	delete(c.entries, key)

	return c.save()
}

// Clear drops every entry.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = map[string]entry{}

	return c.save()
}

// Len returns the number of entries, including any not yet evicted.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// save rewrites the full document atomically. Caller must hold c.mu.
func (c *Cache) save() error {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("tokencache: encoding: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, bridgepath.DirPerms); err != nil {
		return fmt.Errorf("tokencache: creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tokens-*")
	if err != nil {
		return fmt.Errorf("tokencache: creating tempfile: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("tokencache: writing tempfile: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("tokencache: closing tempfile: %w", err)
	}

	bridgepath.SecureFile(tmpName)

	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("tokencache: renaming into place: %w", err)
	}

	return nil
}
