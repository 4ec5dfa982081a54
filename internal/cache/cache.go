// Package cache is a small JSON-file key/value store with per-entry expiry.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileName is the cache's name inside the target directory.
const FileName = ".biblionamer-cache.json"

// DefaultTTL is how long an entry stays valid.
const DefaultTTL = 24 * time.Hour

// contentPrefix bounds how much of a file is hashed for its key.
const contentPrefix = 4 << 20

type entry struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Cache is safe for concurrent use. Changes are held in memory until Save.
type Cache struct {
	path    string
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]entry
	dirty   bool
}

// Open loads the cache stored in dir, dropping expired entries. A missing or
// corrupt file starts an empty cache.
func Open(dir string, ttl time.Duration, logger *zap.Logger) *Cache {
	return openAt(dir, ttl, logger, time.Now)
}

func openAt(dir string, ttl time.Duration, logger *zap.Logger, now func() time.Time) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		path:    filepath.Join(dir, FileName),
		ttl:     ttl,
		logger:  logger,
		now:     now,
		entries: make(map[string]entry),
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("cache unreadable, starting empty", zap.String("path", c.path), zap.Error(err))
		}
		return c
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		logger.Warn("cache corrupt, starting empty", zap.String("path", c.path), zap.Error(err))
		c.entries = make(map[string]entry)
		return c
	}
	for k, e := range c.entries {
		if !c.now().Before(e.ExpiresAt) {
			delete(c.entries, k)
			c.dirty = true
		}
	}
	return c
}

// Path returns the cache file path.
func (c *Cache) Path() string { return c.path }

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Get decodes the value stored under key into v. It reports false for a
// missing, expired or undecodable entry.
func (c *Cache) Get(key string, v any) bool {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && !c.now().Before(e.ExpiresAt) {
		delete(c.entries, key)
		c.dirty = true
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	if err := json.Unmarshal(e.Value, v); err != nil {
		c.logger.Warn("cache entry undecodable", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Set stores v under key for the cache TTL.
func (c *Cache) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding cache value: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{Value: raw, ExpiresAt: c.now().Add(c.ttl)}
	c.dirty = true
	return nil
}

// Save writes the cache if it changed, replacing the file atomically.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}

	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cache: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing cache: %w", err)
	}
	c.dirty = false
	return nil
}

// ContentKey derives a key from a file's size and leading bytes, so a
// renamed file keeps its key.
func ContentKey(prefix, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%d:", info.Size())
	if _, err := io.CopyN(h, f, contentPrefix); err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return prefix + hex.EncodeToString(h.Sum(nil)), nil
}
