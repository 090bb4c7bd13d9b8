package tools

import (
	"context"

	"github.com/lexandro/vecindex-mcp/index"
	"github.com/lexandro/vecindex-mcp/state"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Engine is the part of the indexing engine the tool handlers drive.
// *index.Engine satisfies it.
type Engine interface {
	Root() string
	Search(ctx context.Context, query string, limit int) ([]index.Result, error)
	IndexFile(ctx context.Context, path string) (index.Outcome, error)
	IndexFiles(ctx context.Context, paths []string) (*index.BatchResult, error)
	DeleteFileFromIndex(ctx context.Context, path string) error
	ReindexAll(ctx context.Context, dir string) (*index.BatchResult, error)
	IndexedFiles(pattern string, maxResults int) ([]index.IndexedFile, error)
	GetIndexingStatus() index.IndexingStatus
	GetStats() state.IndexStats
	GetTemporalStats() index.TemporalStats
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}
