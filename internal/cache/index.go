package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Index is the durable record of cached content: one last-access timestamp
// per content key. The persistence format is a whole JSON file replaced
// atomically on every write, so every read-modify-write cycle is serialized
// by a single mutex.
type Index struct {
	path string

	mu      sync.Mutex
	entries map[string]int64
	loaded  bool
}

// NewIndex creates an index persisted at path. The file is loaded lazily on
// first use; a missing file is an empty index.
func NewIndex(path string) (*Index, error) {
	if path == "" {
		return nil, fmt.Errorf("new cache index: missing path")
	}

	return &Index{path: path}, nil
}

// Touch sets the entry's last access to now, creating it when absent, and
// persists the index.
func (i *Index) Touch(key Key, now time.Time) error {
	if err := key.Validate(); err != nil {
		return fmt.Errorf("touch cache entry: %w", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.ensureLoaded(); err != nil {
		return fmt.Errorf("touch cache entry %s: %w", key, err)
	}

	i.entries[key.String()] = now.Unix()
	if err := i.persist(); err != nil {
		return fmt.Errorf("touch cache entry %s: %w", key, err)
	}

	return nil
}

// RemoveAll drops the given entries and persists the index once. Keys
// without an entry are ignored.
func (i *Index) RemoveAll(keys []Key) error {
	if len(keys) == 0 {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.ensureLoaded(); err != nil {
		return fmt.Errorf("remove cache entries: %w", err)
	}

	for _, key := range keys {
		delete(i.entries, key.String())
	}
	if err := i.persist(); err != nil {
		return fmt.Errorf("remove cache entries: %w", err)
	}

	return nil
}

// Entry is one (key, last access) pair from a Snapshot.
type Entry struct {
	Key        Key
	LastAccess time.Time
}

// Snapshot returns a copy of all entries. The copy is safe to iterate
// without holding the index lock.
func (i *Index) Snapshot() ([]Entry, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.ensureLoaded(); err != nil {
		return nil, fmt.Errorf("snapshot cache index: %w", err)
	}

	entries := make([]Entry, 0, len(i.entries))
	for raw, lastAccess := range i.entries {
		key, err := ParseKey(raw)
		if err != nil {
			// A corrupt record is skipped rather than failing every caller.
			continue
		}
		entries = append(entries, Entry{Key: key, LastAccess: time.Unix(lastAccess, 0)})
	}

	return entries, nil
}

// Len returns the number of entries.
func (i *Index) Len() (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.ensureLoaded(); err != nil {
		return 0, fmt.Errorf("len cache index: %w", err)
	}

	return len(i.entries), nil
}

func (i *Index) ensureLoaded() error {
	if i.loaded {
		return nil
	}

	data, err := os.ReadFile(i.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read index file %s: %w", i.path, err)
		}
		i.entries = make(map[string]int64)
		i.loaded = true
		return nil
	}

	entries := make(map[string]int64)
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse index file %s: %w", i.path, err)
	}

	i.entries = entries
	i.loaded = true

	return nil
}

// persist rewrites the whole index file through a temp file and rename so a
// crash can never leave a partially written index visible.
func (i *Index) persist() error {
	data, err := json.MarshalIndent(i.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	dir := filepath.Dir(i.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".index-*")
	if err != nil {
		return fmt.Errorf("create index temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write index temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close index temp file: %w", err)
	}
	if err := os.Rename(tmpName, i.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace index file %s: %w", i.path, err)
	}

	return nil
}
