package main

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lexandro/vecindex-mcp/errs"
	"github.com/lexandro/vecindex-mcp/index"
	"github.com/lexandro/vecindex-mcp/watcher"
)

// watchTarget is the part of the engine that watcher events drive.
type watchTarget interface {
	IndexFile(ctx context.Context, path string) (index.Outcome, error)
	DeleteFileFromIndex(ctx context.Context, path string) error
}

// rulesReloader refreshes exclusion rules when a control file changes.
type rulesReloader struct {
	control map[string]bool
	reload  func()
}

// performIndexing runs the startup pass over the whole root. With
// incremental indexing on, unchanged files are skipped.
func performIndexing(ctx context.Context, engine *index.Engine, rootDir string, logger *slog.Logger) {
	start := time.Now()
	files, err := engine.GetAllFiles(rootDir)
	if err != nil {
		logger.Error("initial indexing failed", "error", err)
		return
	}
	result, err := engine.IndexFiles(ctx, files)
	if err != nil {
		logger.Warn("initial indexing cancelled", "error", err)
		return
	}
	logger.Info("initial indexing complete",
		"files", len(files),
		"indexed", result.Indexed,
		"unchanged", result.Skipped,
		"failed", len(result.Failed),
		"duration", time.Since(start),
	)
}

// handleWatcherEvents applies debounced file system events until ctx is done.
func handleWatcherEvents(
	ctx context.Context,
	events <-chan []watcher.DebouncedEvent,
	target watchTarget,
	rules rulesReloader,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-events:
			applyEvents(ctx, batch, target, rules, logger)
		}
	}
}

// maxEventWorkers caps the goroutines handling one watcher batch.
const maxEventWorkers = 16

// applyEvents handles one debounced batch. Paths are unique within a batch,
// so they are processed in parallel. Failures are logged per event, so the
// group callbacks never return an error.
func applyEvents(
	ctx context.Context,
	batch []watcher.DebouncedEvent,
	target watchTarget,
	rules rulesReloader,
	logger *slog.Logger,
) {
	// Rule changes apply before any file in the same batch is checked.
	for _, event := range batch {
		if rules.control[filepath.Base(event.Path)] {
			rules.reload()
			logger.Info("reloaded exclusion rules", "trigger", event.Path)
			break
		}
	}

	var g errgroup.Group
	g.SetLimit(maxEventWorkers)
	for _, event := range batch {
		g.Go(func() error {
			switch event.Op {
			case watcher.OpRemove, watcher.OpRename:
				removeFromIndex(ctx, target, event.Path, logger)

			case watcher.OpCreate, watcher.OpWrite:
				outcome, err := target.IndexFile(ctx, event.Path)
				switch {
				case errors.Is(err, errs.ErrNotFound):
					// Gone again before we got to it.
					removeFromIndex(ctx, target, event.Path, logger)
				case err != nil:
					logger.Warn("failed to update index", "path", event.Path, "kind", errs.KindOf(err).String(), "error", err)
				case outcome == index.OutcomeExcluded:
					// A file that became excluded must not linger in the index.
					removeFromIndex(ctx, target, event.Path, logger)
				default:
					logger.Debug("updated index", "path", event.Path, "outcome", outcome.String())
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

func removeFromIndex(ctx context.Context, target watchTarget, path string, logger *slog.Logger) {
	if err := target.DeleteFileFromIndex(ctx, path); err != nil {
		logger.Warn("failed to remove from index", "path", path, "error", err)
		return
	}
	logger.Debug("removed from index", "path", path)
}
