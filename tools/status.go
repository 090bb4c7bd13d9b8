package tools

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// StatusArgs defines the input parameters for the vecindex_status tool (none required).
type StatusArgs struct{}

// StatusHandler holds the dependencies for the status tool.
type StatusHandler struct {
	Engine    Engine
	StartTime time.Time
	Clock     func() time.Time
	Logger    *slog.Logger
}

func (h *StatusHandler) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

// Handle processes a vecindex_status request.
func (h *StatusHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args StatusArgs) (*mcp.CallToolResult, any, error) {
	var builder strings.Builder

	now := h.now()
	status := h.Engine.GetIndexingStatus()
	stats := h.Engine.GetStats()
	temporal := h.Engine.GetTemporalStats()
	uptime := now.Sub(h.StartTime)

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	h.Logger.Info("vecindex_status",
		"records", temporal.TotalRecords,
		"active", status.Active,
		"queued", status.Queued,
		"uptime", uptime,
	)

	builder.WriteString("=== vecindex-mcp Status ===\n\n")
	builder.WriteString(fmt.Sprintf("Root directory: %s\n", h.Engine.Root()))
	builder.WriteString(fmt.Sprintf("Uptime: %s\n", formatDuration(uptime)))
	builder.WriteString(fmt.Sprintf("Memory usage: %s (heap: %s)\n",
		formatFileSize(int64(memStats.Alloc)),
		formatFileSize(int64(memStats.HeapAlloc)),
	))

	builder.WriteString("\nIndexing:\n")
	builder.WriteString(fmt.Sprintf("  Active: %d / %d\n", status.Active, status.MaxConcurrency))
	builder.WriteString(fmt.Sprintf("  Queued: %d\n", status.Queued))
	builder.WriteString(fmt.Sprintf("  Waiting callers: %d\n", status.Waiting))

	builder.WriteString("\nLast run:\n")
	builder.WriteString(fmt.Sprintf("  Files considered: %d (%s)\n", stats.TotalFiles, formatFileSize(stats.TotalSize)))
	builder.WriteString(fmt.Sprintf("  Indexed: %d (%s)\n", stats.IndexedFiles, formatFileSize(stats.IndexedSize)))
	builder.WriteString(fmt.Sprintf("  Unchanged: %d\n", stats.SkippedFiles))
	builder.WriteString(fmt.Sprintf("  Failed: %d\n", stats.FailedFiles))
	if !stats.LastIndexed.IsZero() {
		builder.WriteString(fmt.Sprintf("  Last indexed: %s (%s ago)\n",
			stats.LastIndexed.Format(time.RFC3339), formatDuration(now.Sub(stats.LastIndexed))))
	}

	builder.WriteString("\nFreshness:\n")
	builder.WriteString(fmt.Sprintf("  Records: %d (%d fresh, %d expired)\n",
		temporal.TotalRecords, temporal.Fresh, temporal.Expired))
	builder.WriteString(fmt.Sprintf("  TTL: %s\n", temporal.TTL))
	if temporal.TotalRecords > 0 {
		builder.WriteString(fmt.Sprintf("  Average age: %s\n", formatDuration(temporal.AverageAge)))
		builder.WriteString(fmt.Sprintf("  Oldest: %s\n", temporal.OldestRecord.Format(time.RFC3339)))
		builder.WriteString(fmt.Sprintf("  Newest: %s\n", temporal.NewestRecord.Format(time.RFC3339)))
	}
	switch {
	case !temporal.PurgeEnabled:
		builder.WriteString("  Purge: disabled\n")
	case temporal.PurgeRunning:
		builder.WriteString("  Purge: running\n")
	case temporal.LastPurge.IsZero():
		builder.WriteString("  Purge: not run yet, due on next search\n")
	default:
		builder.WriteString(fmt.Sprintf("  Purge: last %s, next after %s\n",
			temporal.LastPurge.Format(time.RFC3339), temporal.NextPurge.Format(time.RFC3339)))
	}

	return textResult(builder.String()), nil, nil
}
