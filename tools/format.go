package tools

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/lexandro/vecindex-mcp/index"
)

// FormatSearchResults formats similarity search results as human-readable text,
// most similar first, with paths relative to root.
func FormatSearchResults(root string, results []index.Result) string {
	if len(results) == 0 {
		return "No matches found."
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Found %d matching files:\n\n", len(results)))

	for i, result := range results {
		builder.WriteString(fmt.Sprintf("%2d. %s  (score %.4f, %s, %s)\n",
			i+1,
			relativeTo(root, result.Path),
			result.Score,
			formatType(result.Type),
			formatFileSize(result.Size),
		))
		if !result.ExpiresAt.IsZero() {
			builder.WriteString(fmt.Sprintf("    indexed %s, expires %s\n",
				result.CreatedAt.Format(time.RFC3339),
				result.ExpiresAt.Format(time.RFC3339),
			))
		}
	}

	return builder.String()
}

// FormatFileResults formats indexed file records as human-readable text.
func FormatFileResults(results []index.IndexedFile, nameOnly bool) string {
	if len(results) == 0 {
		return "No files matched."
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Found %d files:\n\n", len(results)))

	for _, result := range results {
		if nameOnly {
			builder.WriteString(result.RelativePath)
			builder.WriteString("\n")
			continue
		}
		builder.WriteString(fmt.Sprintf("  %s  (indexed %s, expires %s, sha256 %s)\n",
			result.RelativePath,
			result.IndexedAt.Format(time.RFC3339),
			result.ExpiresAt.Format(time.RFC3339),
			shortChecksum(result.Checksum),
		))
	}

	return builder.String()
}

// FormatBatchResult summarizes a batch run. At most maxFailures failures are
// listed individually.
func FormatBatchResult(root string, result *index.BatchResult, elapsed time.Duration, maxFailures int) string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("processed %d files in %s: %d indexed, %d unchanged, %d excluded, %d failed\n",
		len(result.Successful)+len(result.Failed),
		elapsed.Round(time.Millisecond),
		result.Indexed,
		result.Skipped,
		result.Excluded,
		len(result.Failed),
	))

	for i, path := range result.Failed {
		if i == maxFailures {
			builder.WriteString(fmt.Sprintf("  ... and %d more failures\n", len(result.Failed)-maxFailures))
			break
		}
		builder.WriteString(fmt.Sprintf("  failed: %s: %s\n", relativeTo(root, path), result.Errors[path]))
	}

	return builder.String()
}

// formatFileSize converts bytes to a human-readable string.
func formatFileSize(bytes int64) string {
	switch {
	case bytes >= 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
	case bytes >= 1024:
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	if totalSeconds < 60 {
		return fmt.Sprintf("%ds", totalSeconds)
	}
	totalMinutes := totalSeconds / 60
	remainderSeconds := totalSeconds % 60
	if totalMinutes < 60 {
		return fmt.Sprintf("%dm%ds", totalMinutes, remainderSeconds)
	}
	hours := totalMinutes / 60
	remainderMinutes := totalMinutes % 60
	return fmt.Sprintf("%dh%dm", hours, remainderMinutes)
}

func formatType(ext string) string {
	if ext == "" {
		return "no extension"
	}
	return ext
}

func shortChecksum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}

// relativeTo renders path relative to root with forward slashes, or unchanged
// when it lies outside root.
func relativeTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}
