package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/lexandro/vecindex-mcp/index"
)

// directorySyncer reconciles the index with the file system.
type directorySyncer interface {
	SyncDirectory(ctx context.Context, dir string) (*index.SyncResult, error)
}

// runPeriodicSync verifies index consistency at the given interval until ctx
// is done. It catches changes the watcher missed, such as removed directories.
func runPeriodicSync(
	ctx context.Context,
	interval time.Duration,
	syncer directorySyncer,
	rootDir string,
	logger *slog.Logger,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("periodic sync started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			logger.Info("periodic sync stopped")
			return
		case <-ticker.C:
			performSyncVerification(ctx, syncer, rootDir, logger)
		}
	}
}

// performSyncVerification runs one reconciliation pass and logs what changed.
func performSyncVerification(ctx context.Context, syncer directorySyncer, rootDir string, logger *slog.Logger) *index.SyncResult {
	result, err := syncer.SyncDirectory(ctx, rootDir)
	if err != nil {
		logger.Warn("sync verification failed", "error", err)
		return nil
	}

	totalDiscrepancies := result.MissingFiles + result.StaleFiles + result.ModifiedFiles
	if totalDiscrepancies > 0 || result.FailedFiles > 0 {
		logger.Info("sync verification complete",
			"missing", result.MissingFiles,
			"stale", result.StaleFiles,
			"modified", result.ModifiedFiles,
			"failed", result.FailedFiles,
			"duration", result.Duration,
		)
	} else {
		logger.Debug("sync verification complete, index is in sync", "duration", result.Duration)
	}
	return result
}
