package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/lexandro/vecindex-mcp/errs"
	"github.com/lexandro/vecindex-mcp/state"
	"github.com/lexandro/vecindex-mcp/store"
)

// Outcome is what happened to a file that did not fail.
type Outcome int

const (
	OutcomeNone Outcome = iota
	// OutcomeIndexed means the file was embedded and upserted.
	OutcomeIndexed
	// OutcomeSkipped means the file was unchanged since it was last indexed.
	OutcomeSkipped
	// OutcomeExcluded means the exclusion rules rejected the file.
	OutcomeExcluded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIndexed:
		return "indexed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeExcluded:
		return "excluded"
	default:
		return "none"
	}
}

// IndexFile indexes one file unless it is excluded or unchanged. Concurrent
// calls for the same path share one execution. If ctx ends first the caller
// stops waiting, but the work itself runs to completion and its record is
// still saved.
func (e *Engine) IndexFile(ctx context.Context, path string) (Outcome, error) {
	return e.indexOne(ctx, path, func(outcome Outcome, err error) {
		if err == nil && outcome == OutcomeIndexed {
			e.saveState()
		}
	})
}

// indexOne runs or joins the shared execution for path. settled, when set,
// sees the result once it is known, even if the caller has stopped waiting.
// Close waits for every call that got past the closed check.
func (e *Engine) indexOne(ctx context.Context, path string, settled func(Outcome, error)) (Outcome, error) {
	if !e.track() {
		return OutcomeNone, ErrClosed
	}
	abs := e.resolve(path)
	detached := context.WithoutCancel(ctx)

	e.waiters.Add(1)
	defer e.waiters.Add(-1)

	ch := e.inflight.DoChan(abs, func() (any, error) {
		return e.admit(detached, abs)
	})
	finish := func(res singleflight.Result) (Outcome, error) {
		defer e.background.Done()
		outcome, _ := res.Val.(Outcome)
		if settled != nil {
			settled(outcome, res.Err)
		}
		return outcome, res.Err
	}
	select {
	case <-ctx.Done():
		go func() { finish(<-ch) }()
		return OutcomeNone, ctx.Err()
	case res := <-ch:
		return finish(res)
	}
}

// admit waits for a free slot, runs the indexing procedure and releases the
// slot on every exit path.
func (e *Engine) admit(ctx context.Context, abs string) (Outcome, error) {
	e.queued.Add(1)
	err := e.slots.Acquire(ctx, 1)
	e.queued.Add(-1)
	if err != nil {
		return OutcomeNone, err
	}
	defer e.slots.Release(1)

	e.active.Add(1)
	defer e.active.Add(-1)

	return e.doIndexFile(ctx, abs)
}

func (e *Engine) doIndexFile(ctx context.Context, abs string) (Outcome, error) {
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return OutcomeNone, &errs.Error{Kind: errs.KindNotFound, Op: "index", Path: abs, Err: err}
		}
		return OutcomeNone, errs.WithPath(fmt.Errorf("stat: %w", err), abs)
	}
	if !info.Mode().IsRegular() {
		return OutcomeNone, &errs.Error{Kind: errs.KindNotFound, Op: "index", Path: abs, Err: errors.New("not a regular file")}
	}

	if decision := e.excluder.Check(abs); decision.Excluded {
		e.logger.Debug("excluded file", "path", abs, "reason", decision.Reason)
		return OutcomeExcluded, nil
	}

	now := e.clock()
	modified := info.ModTime().UnixNano()
	if e.incremental {
		if rec, ok := e.state.Get(abs); ok && rec.LastModified == modified && !rec.Expired(now) {
			e.updateStats(func(s *state.IndexStats) { s.SkippedFiles++ })
			e.logger.Debug("unchanged file", "path", abs)
			return OutcomeSkipped, nil
		}
	}

	e.updateStats(func(s *state.IndexStats) {
		s.TotalFiles++
		s.TotalSize += info.Size()
	})

	outcome, err := e.embedAndStore(ctx, abs, info, modified, now)
	if err != nil {
		e.updateStats(func(s *state.IndexStats) { s.FailedFiles++ })
		return OutcomeNone, errs.WithPath(err, abs)
	}

	e.updateStats(func(s *state.IndexStats) {
		s.IndexedFiles++
		s.IndexedSize += info.Size()
		s.LastIndexed = now
	})
	return outcome, nil
}

func (e *Engine) embedAndStore(ctx context.Context, abs string, info fs.FileInfo, modified int64, now time.Time) (Outcome, error) {
	content, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return OutcomeNone, &errs.Error{Kind: errs.KindNotFound, Op: "read", Err: err}
		}
		return OutcomeNone, fmt.Errorf("reading file: %w", err)
	}
	sum := sha256.Sum256(content)
	checksum := hex.EncodeToString(sum[:])

	vector, err := e.embedder.Embed(ctx, string(content))
	if err != nil {
		return OutcomeNone, err
	}

	if err := e.ensureCollection(ctx); err != nil {
		return OutcomeNone, err
	}

	expires := now.Add(e.ttl)
	point := store.Point{
		ID:     store.PointID(abs),
		Vector: vector,
		Payload: store.Payload{
			FilePath:     abs,
			Size:         info.Size(),
			Type:         strings.ToLower(filepath.Ext(abs)),
			Checksum:     checksum,
			LastModified: modified,
			IndexedAt:    now,
			CreatedAt:    now,
			ExpiresAt:    expires,
		},
	}
	if err := e.store.Upsert(ctx, []store.Point{point}); err != nil {
		return OutcomeNone, err
	}

	e.state.Put(abs, state.FileRecord{
		Checksum:     checksum,
		LastModified: modified,
		Indexed:      now,
		CreatedAt:    now,
		ExpiresAt:    expires,
	})
	e.logger.Debug("indexed file", "path", abs, "size", info.Size())
	return OutcomeIndexed, nil
}

// BatchResult partitions a batch by outcome. Excluded and unchanged files
// count as successful.
type BatchResult struct {
	Successful []string
	Failed     []string
	Errors     map[string]string // failed path -> error message

	Indexed  int
	Skipped  int
	Excluded int
}

func newBatchResult() *BatchResult {
	return &BatchResult{Successful: []string{}, Failed: []string{}, Errors: make(map[string]string)}
}

// IndexFiles resets the stats, indexes paths in fixed-size batches and
// flushes state and stats when persistence is on. Individual failures are
// reported in the result; the returned error is only set when ctx is already
// done before anything starts.
func (e *Engine) IndexFiles(ctx context.Context, paths []string) (*BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.resetStats()
	result := e.runBatches(ctx, paths)
	e.saveState()
	e.saveStats()
	e.logger.Info("batch indexing complete",
		"files", len(paths),
		"indexed", result.Indexed,
		"skipped", result.Skipped,
		"excluded", result.Excluded,
		"failed", len(result.Failed),
	)
	return result, nil
}

// runBatches runs batches one after another and the files of a batch in
// parallel, with at most maxConcurrency goroutines per batch. Per-file
// failures land in the result, so the group callbacks never return an error.
func (e *Engine) runBatches(ctx context.Context, paths []string) *BatchResult {
	result := newBatchResult()
	var mu sync.Mutex

	for start := 0; start < len(paths); start += e.batchSize {
		end := min(start+e.batchSize, len(paths))
		batch := paths[start:end]

		if err := ctx.Err(); err != nil {
			for _, p := range paths[start:] {
				result.Failed = append(result.Failed, p)
				result.Errors[p] = err.Error()
			}
			break
		}

		var g errgroup.Group
		g.SetLimit(e.maxConcurrency)
		for _, p := range batch {
			g.Go(func() error {
				outcome, err := e.indexOne(ctx, p, nil)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					e.logger.Warn("indexing file failed", "path", p, "error", err)
					result.Failed = append(result.Failed, p)
					result.Errors[p] = err.Error()
					return nil
				}
				result.Successful = append(result.Successful, p)
				switch outcome {
				case OutcomeIndexed:
					result.Indexed++
				case OutcomeSkipped:
					result.Skipped++
				case OutcomeExcluded:
					result.Excluded++
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	sort.Strings(result.Successful)
	sort.Strings(result.Failed)
	return result
}
