package converter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultFileTTL is how long a transcoded file stays retrievable.
const DefaultFileTTL = 30 * time.Minute

// FileStore indexes temporary transcoded files by ID and deletes them once
// they expire.
type FileStore struct {
	mu      sync.RWMutex
	dir     string
	ttl     time.Duration
	entries map[string]FileEntry
	now     func() time.Time
	log     *slog.Logger
}

// NewFileStore creates dir if needed. Files a previous process left in dir
// cannot be retrieved, so they are removed.
func NewFileStore(dir string, ttl time.Duration, log *slog.Logger) (*FileStore, error) {
	if ttl <= 0 {
		ttl = DefaultFileTTL
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create file dir %s: %w", dir, err)
	}
	if log == nil {
		log = slog.Default()
	}
	s := &FileStore{
		dir:     dir,
		ttl:     ttl,
		entries: make(map[string]FileEntry),
		now:     time.Now,
		log:     log,
	}
	if n := s.removeLeftovers(); n > 0 {
		log.Info("removed leftover files", slog.String("dir", dir), slog.Int("count", n))
	}
	return s, nil
}

// removeLeftovers deletes regular files in dir named <file ID>.<ext>.
func (s *FileStore) removeLeftovers() int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warn("read file dir failed", slog.String("dir", s.dir), slog.String("error", err.Error()))
		return 0
	}
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		id := strings.TrimSuffix(name, filepath.Ext(name))
		if _, err := uuid.Parse(id); err != nil {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			s.log.Warn("remove leftover file failed", slog.String("file", name), slog.String("error", err.Error()))
			continue
		}
		removed++
	}
	return removed
}

// Create opens a new empty file for a transcode and returns its ID. The file
// is not retrievable until Commit.
func (s *FileStore) Create(ext string) (string, *os.File, error) {
	id := uuid.NewString()
	f, err := os.OpenFile(filepath.Join(s.dir, id+"."+ext), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", nil, fmt.Errorf("create %s: %w", id, err)
	}
	return id, f, nil
}

// Commit makes e retrievable and sets its expiry.
func (s *FileStore) Commit(e FileEntry) FileEntry {
	e.Expires = s.now().Add(s.ttl)

	s.mu.Lock()
	s.entries[e.ID] = e
	s.mu.Unlock()
	return e
}

// Get returns the entry for id if it exists and has not expired.
func (s *FileStore) Get(id string) (FileEntry, bool) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok || s.now().After(e.Expires) {
		return FileEntry{}, false
	}
	return e, true
}

// Len returns the number of indexed files.
func (s *FileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep removes expired entries and their files, returning how many were
// removed.
func (s *FileStore) Sweep(now time.Time) int {
	var expired []FileEntry

	s.mu.Lock()
	for id, e := range s.entries {
		if now.After(e.Expires) {
			expired = append(expired, e)
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	// Delete outside the lock.
	for _, e := range expired {
		if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("remove expired file failed", slog.String("path", e.Path), slog.String("error", err.Error()))
		}
	}
	if len(expired) > 0 {
		s.log.Debug("expired files removed", slog.Int("count", len(expired)))
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done.
func (s *FileStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(s.now())
		case <-ctx.Done():
			return
		}
	}
}
