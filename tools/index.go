package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// maxListedFailures bounds the failure lines in batch summaries.
const maxListedFailures = 20

// IndexFileArgs defines the input parameters for the vecindex_index_file tool.
type IndexFileArgs struct {
	Path string `json:"path" jsonschema:"File path, absolute or relative to the project root"`
}

// IndexFilesArgs defines the input parameters for the vecindex_index_files tool.
type IndexFilesArgs struct {
	Paths []string `json:"paths" jsonschema:"File paths, absolute or relative to the project root"`
}

// DeleteArgs defines the input parameters for the vecindex_delete tool.
type DeleteArgs struct {
	Path string `json:"path" jsonschema:"File path whose index entry should be removed"`
}

// IndexHandler serves the single-file, batch and delete tools.
type IndexHandler struct {
	Engine Engine
	Logger *slog.Logger
}

// HandleIndexFile processes a vecindex_index_file request.
func (h *IndexHandler) HandleIndexFile(ctx context.Context, req *mcp.CallToolRequest, args IndexFileArgs) (*mcp.CallToolResult, any, error) {
	if args.Path == "" {
		return errorResult("Error: path parameter is required"), nil, nil
	}

	start := time.Now()
	outcome, err := h.Engine.IndexFile(ctx, args.Path)
	if err != nil {
		h.Logger.Error("vecindex_index_file failed", "path", args.Path, "error", err)
		return errorResult(fmt.Sprintf("Index error: %v", err)), nil, nil
	}

	h.Logger.Info("vecindex_index_file", "path", args.Path, "outcome", outcome.String(), "elapsed", time.Since(start))
	return textResult(fmt.Sprintf("%s: %s", args.Path, outcome)), nil, nil
}

// HandleIndexFiles processes a vecindex_index_files request.
func (h *IndexHandler) HandleIndexFiles(ctx context.Context, req *mcp.CallToolRequest, args IndexFilesArgs) (*mcp.CallToolResult, any, error) {
	if len(args.Paths) == 0 {
		return errorResult("Error: paths parameter is required"), nil, nil
	}

	start := time.Now()
	result, err := h.Engine.IndexFiles(ctx, args.Paths)
	if err != nil {
		h.Logger.Error("vecindex_index_files failed", "files", len(args.Paths), "error", err)
		return errorResult(fmt.Sprintf("Index error: %v", err)), nil, nil
	}

	elapsed := time.Since(start)
	h.Logger.Info("vecindex_index_files",
		"files", len(args.Paths),
		"failed", len(result.Failed),
		"elapsed", elapsed,
	)
	return textResult(FormatBatchResult(h.Engine.Root(), result, elapsed, maxListedFailures)), nil, nil
}

// HandleDelete processes a vecindex_delete request.
func (h *IndexHandler) HandleDelete(ctx context.Context, req *mcp.CallToolRequest, args DeleteArgs) (*mcp.CallToolResult, any, error) {
	if args.Path == "" {
		return errorResult("Error: path parameter is required"), nil, nil
	}

	if err := h.Engine.DeleteFileFromIndex(ctx, args.Path); err != nil {
		h.Logger.Error("vecindex_delete failed", "path", args.Path, "error", err)
		return errorResult(fmt.Sprintf("Delete error: %v", err)), nil, nil
	}

	h.Logger.Info("vecindex_delete", "path", args.Path)
	return textResult(fmt.Sprintf("removed %s from the index", args.Path)), nil, nil
}
