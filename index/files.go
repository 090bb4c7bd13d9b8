package index

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/lexandro/vecindex-mcp/errs"
	"github.com/lexandro/vecindex-mcp/store"
)

// GetAllFiles walks dir and returns every regular file the exclusion rules
// accept, sorted. Excluded directories are not descended into. Unreadable
// entries are skipped; an unreadable dir is an error.
func (e *Engine) GetAllFiles(dir string) ([]string, error) {
	root := e.resolve(dir)
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			e.logger.Debug("skipping unreadable entry", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			if path != root && e.excluder.ShouldPruneDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if e.excluder.Check(path).Excluded {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

// ReindexAll forgets every file record, then indexes everything under dir.
func (e *Engine) ReindexAll(ctx context.Context, dir string) (*BatchResult, error) {
	files, err := e.GetAllFiles(dir)
	if err != nil {
		return nil, err
	}
	e.state.Clear()
	e.logger.Info("reindexing", "dir", e.resolve(dir), "files", len(files))
	return e.IndexFiles(ctx, files)
}

// DeleteFileFromIndex removes the file's vector and record. Deleting an
// absent entry is not an error.
func (e *Engine) DeleteFileFromIndex(ctx context.Context, path string) error {
	abs := e.resolve(path)
	if err := e.store.Delete(ctx, []string{store.PointID(abs)}); err != nil {
		return errs.WithPath(err, abs)
	}
	if e.state.Delete(abs) {
		e.saveState()
		e.logger.Debug("removed from index", "path", abs)
	}
	return nil
}

// SyncResult is the outcome of one SyncDirectory run.
type SyncResult struct {
	MissingFiles  int // on disk, never indexed
	ModifiedFiles int // on disk, mtime differs from the record
	StaleFiles    int // recorded, no longer on disk or now excluded
	FailedFiles   int
	Duration      time.Duration
}

// SyncDirectory reconciles the records under dir with the file system:
// missing and modified files are indexed, stale records are deleted. Stats
// are not reset: the files it indexes add to the counters of the last batch,
// like single-file updates do.
func (e *Engine) SyncDirectory(ctx context.Context, dir string) (*SyncResult, error) {
	start := time.Now()
	root := e.resolve(dir)
	diskFiles, err := e.GetAllFiles(root)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{}
	records := e.state.Snapshot()
	onDisk := make(map[string]bool, len(diskFiles))
	var toIndex []string

	for _, path := range diskFiles {
		onDisk[path] = true
		rec, ok := records[path]
		if !ok {
			result.MissingFiles++
			toIndex = append(toIndex, path)
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().UnixNano() != rec.LastModified {
			result.ModifiedFiles++
			toIndex = append(toIndex, path)
		}
	}

	prefix := root + string(filepath.Separator)
	for path := range records {
		if path != root && !strings.HasPrefix(path, prefix) {
			continue
		}
		if onDisk[path] {
			continue
		}
		if err := e.DeleteFileFromIndex(ctx, path); err != nil {
			e.logger.Warn("sync: removing stale file", "path", path, "error", err)
			result.FailedFiles++
			continue
		}
		result.StaleFiles++
	}

	if len(toIndex) > 0 {
		batch := e.runBatches(ctx, toIndex)
		result.FailedFiles += len(batch.Failed)
		e.saveState()
		e.saveStats()
	}

	result.Duration = time.Since(start)
	return result, nil
}

// IndexedFile describes one recorded file.
type IndexedFile struct {
	Path         string // absolute
	RelativePath string // relative to the root, forward slashes
	Checksum     string
	ModTime      time.Time
	IndexedAt    time.Time
	ExpiresAt    time.Time
}

// IndexedFiles lists recorded files whose root-relative path matches the
// doublestar pattern, sorted by path. An empty pattern matches everything.
func (e *Engine) IndexedFiles(pattern string, maxResults int) ([]IndexedFile, error) {
	pattern = strings.ReplaceAll(pattern, "\\", "/")
	if pattern == "" {
		pattern = "**"
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern: %s", pattern)
	}

	records := e.state.Snapshot()
	paths := make([]string, 0, len(records))
	for p := range records {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var files []IndexedFile
	for _, p := range paths {
		if maxResults > 0 && len(files) >= maxResults {
			break
		}
		rel := e.relative(p)
		matched, err := doublestar.Match(pattern, rel)
		if err != nil || !matched {
			continue
		}
		rec := records[p]
		files = append(files, IndexedFile{
			Path:         p,
			RelativePath: rel,
			Checksum:     rec.Checksum,
			ModTime:      time.Unix(0, rec.LastModified),
			IndexedAt:    rec.Indexed,
			ExpiresAt:    rec.ExpiresAt,
		})
	}
	return files, nil
}

func (e *Engine) relative(path string) string {
	if e.root == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(e.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
