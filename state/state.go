// Package state persists per-file indexing records and aggregate stats as two
// JSON documents in the project's state directory.
package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"

	"github.com/lexandro/vecindex-mcp/errs"
)

const (
	// FileStateName holds the path -> FileRecord map.
	FileStateName = "file-state.json"
	// StatsName holds the last IndexStats snapshot.
	StatsName = "index-stats.json"
	lockName  = "state.lock"
)

// FileRecord is what the engine remembers about one successfully indexed file.
// LastModified is the file's mtime in Unix nanoseconds, compared for equality.
type FileRecord struct {
	Checksum     string    `json:"checksum"`
	LastModified int64     `json:"lastModified"`
	Indexed      time.Time `json:"indexed"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Expired reports whether the record's freshness window has closed at now.
func (r FileRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && r.ExpiresAt.Before(now)
}

// IndexStats are the aggregate counters since the last batch operation reset
// them. Single-file updates and sync passes add to them.
type IndexStats struct {
	TotalFiles   int       `json:"totalFiles"`
	IndexedFiles int       `json:"indexedFiles"`
	SkippedFiles int       `json:"skippedFiles"`
	FailedFiles  int       `json:"failedFiles"`
	TotalSize    int64     `json:"totalSize"`
	IndexedSize  int64     `json:"indexedSize"`
	LastIndexed  time.Time `json:"lastIndexed,omitempty"`
}

// Store is the durable path -> FileRecord map. The engine is its only writer;
// Open takes an exclusive lock on the directory to keep other processes out.
type Store struct {
	mu      sync.RWMutex
	saveMu  sync.Mutex // orders snapshot and write of concurrent saves
	dir     string
	records map[string]FileRecord
	dirty   bool
	lock    *flock.Flock
	logger  *slog.Logger
}

// Open loads the state in dir, creating the directory when needed. Unreadable
// documents degrade to empty state. A lock held by another process is an error.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errs.New(errs.KindStateIO, "creating state directory", err)
	}

	lock := flock.New(filepath.Join(dir, lockName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errs.New(errs.KindStateIO, "locking state directory", err)
	}
	if !locked {
		return nil, errs.New(errs.KindStateIO, "locking state directory",
			fmt.Errorf("%s is in use by another process", dir))
	}

	s := &Store{
		dir:     dir,
		records: make(map[string]FileRecord),
		lock:    lock,
		logger:  logger,
	}
	s.load()
	return s, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) load() {
	data, err := os.ReadFile(filepath.Join(s.dir, FileStateName))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("reading file state, starting empty", "error", err)
		}
		return
	}
	var records map[string]FileRecord
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Warn("parsing file state, starting empty", "error", err)
		return
	}
	if records != nil {
		s.records = records
	}
	s.logger.Debug("loaded file state", "records", len(s.records))
}

// Get returns the record for path.
func (s *Store) Get(path string) (FileRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[path]
	return r, ok
}

// Put creates or overwrites the record for path.
func (s *Store) Put(path string, record FileRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[path] = record
	s.dirty = true
}

// Delete removes the record for path and reports whether one existed.
func (s *Store) Delete(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[path]; !ok {
		return false
	}
	delete(s.records, path)
	s.dirty = true
	return true
}

// Clear drops every record.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]FileRecord)
	s.dirty = true
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Paths returns every recorded path in sorted order.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.records))
	for p := range s.records {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Snapshot returns a copy of all records.
func (s *Store) Snapshot() map[string]FileRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]FileRecord, len(s.records))
	for p, r := range s.records {
		out[p] = r
	}
	return out
}

// RemoveExpired deletes records whose ExpiresAt precedes now and returns
// their paths.
func (s *Store) RemoveExpired(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for p, r := range s.records {
		if r.Expired(now) {
			delete(s.records, p)
			removed = append(removed, p)
		}
	}
	if len(removed) > 0 {
		s.dirty = true
		sort.Strings(removed)
	}
	return removed
}

// Save writes the file state document, replacing the previous one atomically.
func (s *Store) Save() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	data, err := json.MarshalIndent(s.records, "", "  ")
	s.dirty = false
	s.mu.Unlock()
	if err != nil {
		return errs.New(errs.KindStateIO, "encoding file state", err)
	}
	if err := atomic.WriteFile(filepath.Join(s.dir, FileStateName), bytes.NewReader(data)); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return errs.New(errs.KindStateIO, "writing file state", err)
	}
	return nil
}

// Dirty reports whether there are changes not yet saved.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// SaveStats writes the stats document.
func (s *Store) SaveStats(stats IndexStats) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return errs.New(errs.KindStateIO, "encoding stats", err)
	}
	if err := atomic.WriteFile(filepath.Join(s.dir, StatsName), bytes.NewReader(data)); err != nil {
		return errs.New(errs.KindStateIO, "writing stats", err)
	}
	return nil
}

// LoadStats reads the last saved stats; a missing or corrupt document yields
// zero stats and a logged warning.
func (s *Store) LoadStats() IndexStats {
	var stats IndexStats
	data, err := os.ReadFile(filepath.Join(s.dir, StatsName))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("reading stats", "error", err)
		}
		return stats
	}
	if err := json.Unmarshal(data, &stats); err != nil {
		s.logger.Warn("parsing stats", "error", err)
		return IndexStats{}
	}
	return stats
}

// Close flushes unsaved records and releases the directory lock.
func (s *Store) Close() error {
	var saveErr error
	if s.Dirty() {
		saveErr = s.Save()
	}
	if err := s.lock.Unlock(); err != nil && saveErr == nil {
		return errs.New(errs.KindStateIO, "unlocking state directory", err)
	}
	return saveErr
}
