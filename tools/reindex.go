package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ReindexArgs defines the input parameters for the vecindex_reindex tool.
type ReindexArgs struct {
	Directory string `json:"directory,omitempty" jsonschema:"Directory to reindex, relative to the project root (default: the whole project)"`
}

// ReindexHandler holds the dependencies for the reindex tool.
type ReindexHandler struct {
	Engine Engine
	// Reload refreshes exclusion rules before the walk, in case .gitignore changed.
	Reload func()
	Logger *slog.Logger
}

// Handle processes a vecindex_reindex request.
func (h *ReindexHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args ReindexArgs) (*mcp.CallToolResult, any, error) {
	dir := args.Directory
	if dir == "" {
		dir = h.Engine.Root()
	}
	h.Logger.Info("vecindex_reindex started", "dir", dir)

	if h.Reload != nil {
		h.Reload()
	}

	start := time.Now()
	result, err := h.Engine.ReindexAll(ctx, dir)
	if err != nil {
		h.Logger.Error("vecindex_reindex failed", "dir", dir, "error", err)
		return errorResult(fmt.Sprintf("Reindex error: %v", err)), nil, nil
	}

	elapsed := time.Since(start)
	stats := h.Engine.GetStats()
	h.Logger.Info("vecindex_reindex complete",
		"files", stats.IndexedFiles,
		"totalSize", stats.IndexedSize,
		"failed", len(result.Failed),
		"elapsed", elapsed,
	)

	output := fmt.Sprintf("reindexed: %d files (%s)\n", stats.IndexedFiles, formatFileSize(stats.IndexedSize)) +
		FormatBatchResult(h.Engine.Root(), result, elapsed, maxListedFailures)
	return textResult(output), nil, nil
}
