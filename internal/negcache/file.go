package negcache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileConfig controls the file-per-key store.
type FileConfig struct {
	Dir string
	TTL time.Duration
}

// FileStore keeps one JSON file per cached URL under Dir, named by the URL
// key. No cross-process locking; records are rewritten whole, and a racing
// Get may see either the old or the new record.
type FileStore struct {
	dir string
	ttl time.Duration
	now func() time.Time
}

// NewFileStore creates the cache directory if needed.
func NewFileStore(cfg FileConfig) (*FileStore, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("cache dir is required")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("cache ttl must be > 0")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileStore{
		dir: cfg.Dir,
		ttl: cfg.TTL,
		now: time.Now,
	}, nil
}

// Get returns the live entry for a URL, or nil. Corrupt and expired records
// are deleted on sight instead of surfacing errors.
func (s *FileStore) Get(_ context.Context, url string) (*Entry, error) {
	path := s.keyPath(url)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.remove(path)
		return nil, nil
	}
	if !s.now().Before(entry.ExpiresAt) {
		s.remove(path)
		return nil, nil
	}
	return &entry, nil
}

// Put writes or overwrites the record for a URL with a fresh expiry.
func (s *FileStore) Put(_ context.Context, url string, statusCode int, reason string) error {
	now := s.now()
	entry := Entry{
		URL:        url,
		StatusCode: statusCode,
		Reason:     reason,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := os.WriteFile(s.keyPath(url), data, 0o600); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

func (s *FileStore) keyPath(url string) string {
	return filepath.Join(s.dir, Key(url)+".json")
}

func (s *FileStore) remove(path string) {
	// Best effort; a racing delete is fine.
	_ = os.Remove(path)
}
