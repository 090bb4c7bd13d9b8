package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lexandro/vecindex-mcp/errs"
	"github.com/lexandro/vecindex-mcp/index"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// SearchArgs defines the input parameters for the vecindex_search tool.
type SearchArgs struct {
	Query      string `json:"query" jsonschema:"Natural language or code query. Files are ranked by semantic similarity"`
	MaxResults int    `json:"maxResults,omitempty" jsonschema:"Maximum number of files to return (default 10)"`
}

// SearchHandler holds the dependencies for the search tool.
type SearchHandler struct {
	Engine Engine
	Logger *slog.Logger
}

// Handle processes a vecindex_search request.
func (h *SearchHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args SearchArgs) (*mcp.CallToolResult, any, error) {
	start := time.Now()

	if strings.TrimSpace(args.Query) == "" {
		h.Logger.Warn("vecindex_search called with empty query")
		return errorResult("Error: query parameter is required"), nil, nil
	}

	limit := args.MaxResults
	if limit <= 0 {
		limit = index.DefaultSearchLimit
	}

	results, err := h.Engine.Search(ctx, args.Query, limit)
	if err != nil {
		h.Logger.Error("vecindex_search failed", "query", args.Query, "error", err)
		if errors.Is(err, errs.ErrIndexNotReady) {
			return errorResult(fmt.Sprintf("Index not ready: %v. Run vecindex_reindex first.", err)), nil, nil
		}
		return errorResult(fmt.Sprintf("Search error: %v", err)), nil, nil
	}

	h.Logger.Info("vecindex_search",
		"query", args.Query,
		"results", len(results),
		"elapsed", time.Since(start),
	)

	return textResult(FormatSearchResults(h.Engine.Root(), results)), nil, nil
}
