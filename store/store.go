// Package store adapts vector databases to the operations the indexing
// engine needs: upsert, similarity search, delete by id or filter, and
// collection introspection.
package store

import (
	"context"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Payload keys shared by every backend.
const (
	KeyFilePath      = "file_path"
	KeySize          = "size"
	KeyType          = "type"
	KeyChecksum      = "checksum"
	KeyLastModified  = "last_modified"
	KeyIndexedAt     = "indexed_at"
	KeyCreatedAt     = "created_at"
	KeyExpiresAt     = "expires_at"
	KeyExpiresAtUnix = "expires_at_unix"
)

// pointNamespace scopes point IDs. Changing it orphans every stored vector.
var pointNamespace = uuid.MustParse("6f1d3c52-8a4e-5b7f-9c2d-0e4a7b1f3d5c")

// PointID derives the vector-store identifier for a file path: a UUIDv5
// (SHA-1) over the cleaned, slash-separated path bytes.
func PointID(path string) string {
	normalized := filepath.ToSlash(filepath.Clean(path))
	return uuid.NewSHA1(pointNamespace, []byte(normalized)).String()
}

// VectorStore is implemented by every backend.
type VectorStore interface {
	// EnsureCollection creates the collection when missing.
	EnsureCollection(ctx context.Context, dimension int) error
	// CollectionInfo describes the collection; a missing collection is
	// reported with Exists=false rather than an error.
	CollectionInfo(ctx context.Context) (*CollectionInfo, error)
	Upsert(ctx context.Context, points []Point) error
	// Search returns up to limit candidates ordered by descending similarity.
	Search(ctx context.Context, vector []float32, limit int) ([]Candidate, error)
	Delete(ctx context.Context, ids []string) error
	DeleteByFilter(ctx context.Context, filter Filter) error
	Close() error
}

// Point is one vector with its payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Payload is the metadata stored next to each file's vector.
type Payload struct {
	FilePath     string
	Size         int64
	Type         string
	Checksum     string
	LastModified int64
	IndexedAt    time.Time
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Map renders the payload in its wire form.
func (p Payload) Map() map[string]any {
	return map[string]any{
		KeyFilePath:      p.FilePath,
		KeySize:          p.Size,
		KeyType:          p.Type,
		KeyChecksum:      p.Checksum,
		KeyLastModified:  p.LastModified,
		KeyIndexedAt:     p.IndexedAt.UTC().Format(time.RFC3339Nano),
		KeyCreatedAt:     p.CreatedAt.UTC().Format(time.RFC3339Nano),
		KeyExpiresAt:     p.ExpiresAt.UTC().Format(time.RFC3339Nano),
		KeyExpiresAtUnix: p.ExpiresAt.Unix(),
	}
}

// Candidate is a search hit. Payload is the raw stored map, since entries
// written by older versions may lack fields.
type Candidate struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// String returns the payload value for key when it is a string.
func (c Candidate) String(key string) string {
	v, _ := c.Payload[key].(string)
	return v
}

// Time parses the payload value for key as an RFC3339 timestamp.
func (c Candidate) Time(key string) (time.Time, bool) {
	raw := c.String(key)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Int returns a numeric payload value; JSON numbers arrive as float64.
func (c Candidate) Int(key string) (int64, bool) {
	switch v := c.Payload[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// Flush persists stores that keep their data in memory between saves.
// Wrappers are unwrapped first. Stores without a Save method are left alone.
func Flush(vs VectorStore) error {
	for {
		if s, ok := vs.(interface{ Save() error }); ok {
			return s.Save()
		}
		w, ok := vs.(interface{ Unwrap() VectorStore })
		if !ok {
			return nil
		}
		vs = w.Unwrap()
	}
}

// Filter selects entries for DeleteByFilter.
type Filter struct {
	// ExpiresBefore selects entries whose expiry precedes it.
	ExpiresBefore time.Time
}

// CollectionInfo describes a collection.
type CollectionInfo struct {
	Name      string
	Exists    bool
	Dimension int
	Points    int
}
