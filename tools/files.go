package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// FilesArgs defines the input parameters for the vecindex_files tool.
type FilesArgs struct {
	Pattern    string `json:"pattern,omitempty" jsonschema:"Glob pattern over root-relative paths (e.g. **/*.go). Empty lists every indexed file"`
	NameOnly   bool   `json:"nameOnly,omitempty" jsonschema:"If true return only file paths without metadata"`
	MaxResults int    `json:"maxResults,omitempty" jsonschema:"Maximum number of results to return (default 50)"`
}

// DefaultMaxFiles caps vecindex_files output when maxResults is not set.
const DefaultMaxFiles = 50

// FilesHandler holds the dependencies for the files tool.
type FilesHandler struct {
	Engine Engine
	Logger *slog.Logger
}

// Handle processes a vecindex_files request.
func (h *FilesHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args FilesArgs) (*mcp.CallToolResult, any, error) {
	start := time.Now()

	maxResults := args.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxFiles
	}

	results, err := h.Engine.IndexedFiles(args.Pattern, maxResults)
	if err != nil {
		h.Logger.Error("vecindex_files failed", "pattern", args.Pattern, "error", err)
		return errorResult(fmt.Sprintf("Search error: %v", err)), nil, nil
	}

	h.Logger.Info("vecindex_files",
		"pattern", args.Pattern,
		"results", len(results),
		"elapsed", time.Since(start),
	)

	return textResult(FormatFileResults(results, args.NameOnly)), nil, nil
}
