package tools

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lexandro/vecindex-mcp/index"
	"github.com/lexandro/vecindex-mcp/state"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// fakeEngine returns canned values and records the arguments it was called with.
type fakeEngine struct {
	root string

	results   []index.Result
	outcome   index.Outcome
	batch     *index.BatchResult
	files     []index.IndexedFile
	status    index.IndexingStatus
	stats     state.IndexStats
	temporal  index.TemporalStats
	err       error
	lastQuery string
	lastLimit int
	lastPaths []string
	lastPath  string
	lastDir   string
}

func (f *fakeEngine) Root() string { return f.root }

func (f *fakeEngine) Search(_ context.Context, query string, limit int) ([]index.Result, error) {
	f.lastQuery, f.lastLimit = query, limit
	return f.results, f.err
}

func (f *fakeEngine) IndexFile(_ context.Context, path string) (index.Outcome, error) {
	f.lastPath = path
	return f.outcome, f.err
}

func (f *fakeEngine) IndexFiles(_ context.Context, paths []string) (*index.BatchResult, error) {
	f.lastPaths = paths
	return f.batch, f.err
}

func (f *fakeEngine) DeleteFileFromIndex(_ context.Context, path string) error {
	f.lastPath = path
	return f.err
}

func (f *fakeEngine) ReindexAll(_ context.Context, dir string) (*index.BatchResult, error) {
	f.lastDir = dir
	return f.batch, f.err
}

func (f *fakeEngine) IndexedFiles(pattern string, maxResults int) ([]index.IndexedFile, error) {
	f.lastQuery, f.lastLimit = pattern, maxResults
	return f.files, f.err
}

func (f *fakeEngine) GetIndexingStatus() index.IndexingStatus { return f.status }
func (f *fakeEngine) GetStats() state.IndexStats             { return f.stats }
func (f *fakeEngine) GetTemporalStats() index.TemporalStats  { return f.temporal }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text
}
