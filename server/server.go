package server

import (
	"github.com/lexandro/vecindex-mcp/tools"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Name is the MCP implementation name announced to clients.
const Name = "vecindex-mcp"

// Version is the server version announced to clients.
const Version = "0.1.0"

// Handlers groups the tool handlers registered on the server.
type Handlers struct {
	Search  *tools.SearchHandler
	Index   *tools.IndexHandler
	Files   *tools.FilesHandler
	Status  *tools.StatusHandler
	Reindex *tools.ReindexHandler
}

// Setup creates and configures the MCP server with all tool registrations.
func Setup(h Handlers) *mcp.Server {
	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    Name,
			Version: Version,
		},
		&mcp.ServerOptions{
			Instructions: `This server keeps a semantic vector index of the project's files. Each file is embedded as a whole and ranked by similarity to a natural language or code query.

- Use vecindex_search to find files related to a concept, feature or behavior when exact names are unknown
- Use vecindex_files to list what is currently indexed
- The index updates automatically when files change (via filesystem watcher); entries older than the freshness TTL are hidden and purged
- Use vecindex_index_file or vecindex_index_files to refresh specific files immediately`,
		},
	)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name: "vecindex_search",
		Description: `Semantic search over indexed files. Returns the most similar files first with their similarity score.

Queries are free text, e.g. "where are HTTP retries configured" or "token refresh logic".
Only entries within the freshness TTL are returned.`,
	}, h.Search.Handle)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "vecindex_index_file",
		Description: "Index one file now. Unchanged files are skipped and excluded files are reported as excluded.",
	}, h.Index.HandleIndexFile)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "vecindex_index_files",
		Description: "Index several files in bounded parallel batches. Reports indexed, unchanged, excluded and failed files.",
	}, h.Index.HandleIndexFiles)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "vecindex_delete",
		Description: "Remove a file's vector and record from the index.",
	}, h.Index.HandleDelete)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name: "vecindex_files",
		Description: `List indexed files by glob pattern over root-relative paths.

Pattern examples:
  - "**/*.go" - all Go files
  - "src/**/*.ts" - TypeScript files under src/
  - "*.json" - JSON files in root only`,
	}, h.Files.Handle)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "vecindex_status",
		Description: "Show indexing status (active, queued), last run statistics and freshness statistics.",
	}, h.Status.Handle)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "vecindex_reindex",
		Description: "Force a full re-index. Forgets all file records and re-embeds every eligible file.",
	}, h.Reindex.Handle)

	return mcpServer
}
