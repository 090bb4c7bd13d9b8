package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexandro/vecindex-mcp/errs"
	"github.com/lexandro/vecindex-mcp/index"
	"github.com/lexandro/vecindex-mcp/state"
)

func Test_SearchHandler_EmptyQuery(t *testing.T) {
	engine := &fakeEngine{root: "/project"}
	h := &SearchHandler{Engine: engine, Logger: testLogger()}

	result, _, err := h.Handle(context.Background(), nil, SearchArgs{Query: "  "})

	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "query parameter is required")
	assert.Empty(t, engine.lastQuery)
}

func Test_SearchHandler_DefaultLimitAndRelativePaths(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	engine := &fakeEngine{
		root: "/project",
		results: []index.Result{
			{Path: "/project/src/auth.go", Score: 0.91, Size: 2048, Type: ".go", CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
			{Path: "/project/README", Score: 0.5, Size: 10},
		},
	}
	h := &SearchHandler{Engine: engine, Logger: testLogger()}

	result, _, err := h.Handle(context.Background(), nil, SearchArgs{Query: "login flow"})

	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, index.DefaultSearchLimit, engine.lastLimit)
	text := resultText(t, result)
	assert.Contains(t, text, "Found 2 matching files")
	assert.Contains(t, text, "src/auth.go  (score 0.9100, .go, 2.0 KB)")
	assert.Contains(t, text, "README  (score 0.5000, no extension, 10 B)")
}

func Test_SearchHandler_IndexNotReady(t *testing.T) {
	engine := &fakeEngine{root: "/project", err: fmt.Errorf("collection missing: %w", errs.ErrIndexNotReady)}
	h := &SearchHandler{Engine: engine, Logger: testLogger()}

	result, _, err := h.Handle(context.Background(), nil, SearchArgs{Query: "x", MaxResults: 3})

	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "vecindex_reindex")
	assert.Equal(t, 3, engine.lastLimit)
}

func Test_SearchHandler_NoMatches(t *testing.T) {
	h := &SearchHandler{Engine: &fakeEngine{root: "/project"}, Logger: testLogger()}

	result, _, err := h.Handle(context.Background(), nil, SearchArgs{Query: "nothing"})

	require.NoError(t, err)
	assert.Equal(t, "No matches found.", resultText(t, result))
}

func Test_FilesHandler_DefaultsAndFormatting(t *testing.T) {
	indexed := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	engine := &fakeEngine{files: []index.IndexedFile{
		{RelativePath: "src/main.go", Checksum: "0123456789abcdef", IndexedAt: indexed, ExpiresAt: indexed.Add(time.Hour)},
	}}
	h := &FilesHandler{Engine: engine, Logger: testLogger()}

	result, _, err := h.Handle(context.Background(), nil, FilesArgs{Pattern: "**/*.go"})

	require.NoError(t, err)
	assert.Equal(t, "**/*.go", engine.lastQuery)
	assert.Equal(t, DefaultMaxFiles, engine.lastLimit)
	text := resultText(t, result)
	assert.Contains(t, text, "src/main.go")
	assert.Contains(t, text, "sha256 0123456789ab")
}

func Test_FilesHandler_NameOnly(t *testing.T) {
	engine := &fakeEngine{files: []index.IndexedFile{{RelativePath: "a.go", Checksum: "abc"}}}
	h := &FilesHandler{Engine: engine, Logger: testLogger()}

	result, _, err := h.Handle(context.Background(), nil, FilesArgs{NameOnly: true})

	require.NoError(t, err)
	assert.Equal(t, "Found 1 files:\n\na.go\n", resultText(t, result))
}

func Test_FilesHandler_InvalidPattern(t *testing.T) {
	h := &FilesHandler{Engine: &fakeEngine{err: errors.New("invalid pattern")}, Logger: testLogger()}

	result, _, err := h.Handle(context.Background(), nil, FilesArgs{Pattern: "["})

	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func Test_IndexHandler_IndexFile(t *testing.T) {
	engine := &fakeEngine{outcome: index.OutcomeSkipped}
	h := &IndexHandler{Engine: engine, Logger: testLogger()}

	result, _, err := h.HandleIndexFile(context.Background(), nil, IndexFileArgs{Path: "src/a.go"})

	require.NoError(t, err)
	assert.Equal(t, "src/a.go", engine.lastPath)
	assert.Equal(t, "src/a.go: skipped", resultText(t, result))
}

func Test_IndexHandler_IndexFileErrors(t *testing.T) {
	h := &IndexHandler{Engine: &fakeEngine{err: errs.New(errs.KindNotFound, "index file", errors.New("no such file"))}, Logger: testLogger()}

	result, _, err := h.HandleIndexFile(context.Background(), nil, IndexFileArgs{Path: "gone.go"})
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, _, err = h.HandleIndexFile(context.Background(), nil, IndexFileArgs{})
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "path parameter is required")
}

func Test_IndexHandler_IndexFilesReportsPartialFailure(t *testing.T) {
	engine := &fakeEngine{
		root: "/project",
		batch: &index.BatchResult{
			Successful: []string{"/project/a.go"},
			Failed:     []string{"/project/b.go"},
			Errors:     map[string]string{"/project/b.go": "embedding failed"},
			Indexed:    1,
		},
	}
	h := &IndexHandler{Engine: engine, Logger: testLogger()}

	result, _, err := h.HandleIndexFiles(context.Background(), nil, IndexFilesArgs{Paths: []string{"a.go", "b.go"}})

	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, []string{"a.go", "b.go"}, engine.lastPaths)
	text := resultText(t, result)
	assert.Contains(t, text, "1 indexed, 0 unchanged, 0 excluded, 1 failed")
	assert.Contains(t, text, "failed: b.go: embedding failed")
}

func Test_IndexHandler_Delete(t *testing.T) {
	engine := &fakeEngine{}
	h := &IndexHandler{Engine: engine, Logger: testLogger()}

	result, _, err := h.HandleDelete(context.Background(), nil, DeleteArgs{Path: "old.go"})

	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "old.go", engine.lastPath)
}

func Test_ReindexHandler_ReloadsAndUsesRoot(t *testing.T) {
	engine := &fakeEngine{
		root:  "/project",
		batch: &index.BatchResult{Successful: []string{"/project/a.go"}, Errors: map[string]string{}, Indexed: 1},
		stats: state.IndexStats{IndexedFiles: 1, IndexedSize: 2048},
	}
	reloaded := false
	h := &ReindexHandler{Engine: engine, Reload: func() { reloaded = true }, Logger: testLogger()}

	result, _, err := h.Handle(context.Background(), nil, ReindexArgs{})

	require.NoError(t, err)
	assert.True(t, reloaded)
	assert.Equal(t, "/project", engine.lastDir)
	assert.Contains(t, resultText(t, result), "reindexed: 1 files (2.0 KB)")
}

func Test_ReindexHandler_Error(t *testing.T) {
	engine := &fakeEngine{root: "/project", err: errors.New("reading directory: denied")}
	h := &ReindexHandler{Engine: engine, Logger: testLogger()}

	result, _, err := h.Handle(context.Background(), nil, ReindexArgs{Directory: "sub"})

	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "sub", engine.lastDir)
}

func Test_StatusHandler_Report(t *testing.T) {
	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	now := start.Add(90 * time.Minute)
	engine := &fakeEngine{
		root:   "/project",
		status: index.IndexingStatus{Active: 2, Queued: 3, MaxConcurrency: 4, Waiting: 5},
		stats:  state.IndexStats{TotalFiles: 10, IndexedFiles: 7, SkippedFiles: 2, FailedFiles: 1, LastIndexed: now.Add(-time.Minute)},
		temporal: index.TemporalStats{
			TotalRecords: 7, Fresh: 6, Expired: 1, TTL: time.Hour, AverageAge: 30 * time.Minute,
			OldestRecord: start, NewestRecord: now, PurgeEnabled: true,
		},
	}
	h := &StatusHandler{Engine: engine, StartTime: start, Clock: func() time.Time { return now }, Logger: testLogger()}

	result, _, err := h.Handle(context.Background(), nil, StatusArgs{})

	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Root directory: /project")
	assert.Contains(t, text, "Uptime: 1h30m")
	assert.Contains(t, text, "Active: 2 / 4")
	assert.Contains(t, text, "Queued: 3")
	assert.Contains(t, text, "Waiting callers: 5")
	assert.Contains(t, text, "Unchanged: 2")
	assert.Contains(t, text, "Records: 7 (6 fresh, 1 expired)")
	assert.Contains(t, text, "Average age: 30m0s")
	assert.Contains(t, text, "Purge: not run yet")
}

func Test_StatusHandler_PurgeStates(t *testing.T) {
	last := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		temporal index.TemporalStats
		want     string
	}{
		{"disabled", index.TemporalStats{}, "Purge: disabled"},
		{"running", index.TemporalStats{PurgeEnabled: true, PurgeRunning: true}, "Purge: running"},
		{"scheduled", index.TemporalStats{PurgeEnabled: true, LastPurge: last, NextPurge: last.Add(time.Hour)}, "next after 2026-06-01T13:00:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &StatusHandler{Engine: &fakeEngine{temporal: tt.temporal}, StartTime: last, Logger: testLogger()}

			result, _, err := h.Handle(context.Background(), nil, StatusArgs{})

			require.NoError(t, err)
			assert.Contains(t, resultText(t, result), tt.want)
		})
	}
}
