package indexer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type smoketestEntry struct {
	Pass bool      `json:"pass"`
	At   time.Time `json:"at"`
}

// SmoketestCache maps a stream URL to its last probe result, letting a
// refresh skip re-probing channels that were checked recently.
type SmoketestCache map[string]smoketestEntry

// LoadSmoketestCache loads a cache from path, returning an empty (non-nil)
// cache if path is "" or the file is absent/invalid — a missing or corrupt
// cache just means everything re-probes on this run, not a hard failure.
func LoadSmoketestCache(path string) SmoketestCache {
	cache := make(SmoketestCache)
	if path == "" {
		return cache
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cache
	}
	_ = json.Unmarshal(data, &cache)
	return cache
}

// Save writes the cache to path atomically (temp file + rename). A no-op
// when path is "".
func (c SmoketestCache) Save(path string) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(filepath.Clean(path))
	tmp, err := os.CreateTemp(dir, ".smoketest-*.json.tmp")
	if err != nil {
		return fmt.Errorf("smoketest cache: create temp: %w", err)
	}
	if err := writeCloseRename(tmp, data, path); err != nil {
		return err
	}
	return nil
}

func writeCloseRename(tmp *os.File, data []byte, destPath string) error {
	name := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(name)
		if writeErr != nil {
			return fmt.Errorf("smoketest cache: write: %w", writeErr)
		}
		return fmt.Errorf("smoketest cache: close: %w", closeErr)
	}
	if err := os.Rename(name, destPath); err != nil {
		os.Remove(name)
		return fmt.Errorf("smoketest cache: rename: %w", err)
	}
	return nil
}

// IsFresh reports whether url has a cached result still within ttl.
// Returns (pass, true) when fresh, (false, false) when absent or expired.
func (c SmoketestCache) IsFresh(url string, ttl time.Duration) (pass, fresh bool) {
	e, ok := c[url]
	if !ok {
		return false, false
	}
	if time.Since(e.At) > ttl {
		return false, false
	}
	return e.Pass, true
}
