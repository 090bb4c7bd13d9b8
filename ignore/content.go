package ignore

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	binarySniffBytes = 8000
	contentSniffMax  = 64 * 1024

	// A file is treated as minified when its average line is longer than
	// this, or when any single line exceeds maxMinifiedLine.
	minifiedAvgLine = 500
	maxMinifiedLine = 5000
)

var minifiableExtensions = map[string]bool{
	"js": true, "mjs": true, "cjs": true, "css": true, "json": true,
}

// checkContent applies the binary, empty and minified rules to a file.
func (m *Matcher) checkContent(absPath string, size int64) (string, bool) {
	if !m.cfg.ExcludeBinary && !m.cfg.ExcludeEmpty && !m.cfg.ExcludeMinified {
		return "", false
	}
	if size == 0 {
		if m.cfg.ExcludeEmpty {
			return "empty", true
		}
		return "", false
	}

	head, err := readHead(absPath, contentSniffMax)
	if err != nil {
		return "", false
	}

	if m.cfg.ExcludeBinary && IsBinaryContent(head) {
		return "binary", true
	}
	if m.cfg.ExcludeEmpty && size <= contentSniffMax && len(bytes.TrimSpace(head)) == 0 {
		return "empty", true
	}
	if m.cfg.ExcludeMinified && minifiableExtensions[normalizeExt(filepath.Ext(absPath))] && IsMinifiedContent(head) {
		return "minified", true
	}
	return "", false
}

// IsBinaryContent reports whether data looks binary: a NUL byte in the
// first 8000 bytes, the same heuristic git uses.
func IsBinaryContent(data []byte) bool {
	checkSize := binarySniffBytes
	if len(data) < checkSize {
		checkSize = len(data)
	}
	return bytes.IndexByte(data[:checkSize], 0) >= 0
}

// IsMinifiedContent reports whether text looks machine-minified.
func IsMinifiedContent(data []byte) bool {
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return false
	}
	lines := strings.Split(text, "\n")
	total := 0
	for _, line := range lines {
		if len(line) > maxMinifiedLine {
			return true
		}
		total += len(line)
	}
	return total/len(lines) > minifiedAvgLine
}

func readHead(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, limit))
}
