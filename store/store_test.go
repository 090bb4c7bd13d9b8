package store

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexandro/vecindex-mcp/errs"
)

func Test_PointID_IsDeterministic(t *testing.T) {
	a := PointID("/project/src/main.go")
	b := PointID("/project/src/./main.go")
	c := PointID("/project/src/other.go")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 36)
}

func Test_Payload_Map(t *testing.T) {
	expires := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	m := Payload{FilePath: "/p/a.go", Size: 12, Type: ".go", ExpiresAt: expires}.Map()

	assert.Equal(t, "/p/a.go", m[KeyFilePath])
	assert.Equal(t, expires.Unix(), m[KeyExpiresAtUnix])
	assert.Equal(t, "2026-05-01T00:00:00Z", m[KeyExpiresAt])
}

func Test_Candidate_Accessors(t *testing.T) {
	c := Candidate{Payload: map[string]any{
		KeyFilePath:  "/p/a.go",
		KeySize:      float64(42),
		KeyCreatedAt: "2026-05-01T00:00:00Z",
		KeyType:      7,
	}}

	assert.Equal(t, "/p/a.go", c.String(KeyFilePath))
	assert.Equal(t, "", c.String(KeyType))
	n, ok := c.Int(KeySize)
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)
	created, ok := c.Time(KeyCreatedAt)
	assert.True(t, ok)
	assert.Equal(t, 2026, created.Year())
	_, ok = c.Time(KeyExpiresAt)
	assert.False(t, ok)
}

// qdrantFake is a minimal in-memory Qdrant REST server.
type qdrantFake struct {
	dimension int
	points    map[string]map[string]any
	requests  []string
	apiKeys   []string
}

func newQdrantFake(t *testing.T) (*qdrantFake, *QdrantStore) {
	t.Helper()
	fake := &qdrantFake{points: make(map[string]map[string]any)}
	srv := httptest.NewServer(http.HandlerFunc(fake.handle))
	t.Cleanup(srv.Close)

	s, err := NewQdrantStore(QdrantOptions{URL: srv.URL + "/", APIKey: "secret", Collection: "files"})
	require.NoError(t, err)
	return fake, s
}

func (f *qdrantFake) handle(w http.ResponseWriter, r *http.Request) {
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.apiKeys = append(f.apiKeys, r.Header.Get("api-key"))
	body, _ := io.ReadAll(r.Body)
	var req map[string]any
	_ = json.Unmarshal(body, &req)

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/collections/files":
		if f.dimension == 0 {
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"result": map[string]any{
			"points_count": len(f.points),
			"config":       map[string]any{"params": map[string]any{"vectors": map[string]any{"size": f.dimension}}},
		}})
	case r.Method == http.MethodPut && r.URL.Path == "/collections/files":
		vectors := req["vectors"].(map[string]any)
		f.dimension = int(vectors["size"].(float64))
		writeJSON(w, map[string]any{"result": true})
	case r.Method == http.MethodPut && r.URL.Path == "/collections/files/points":
		for _, raw := range req["points"].([]any) {
			p := raw.(map[string]any)
			f.points[p["id"].(string)] = p["payload"].(map[string]any)
		}
		writeJSON(w, map[string]any{"result": map[string]any{"status": "completed"}})
	case r.Method == http.MethodPost && r.URL.Path == "/collections/files/points/search":
		var result []map[string]any
		for id, payload := range f.points {
			result = append(result, map[string]any{"id": id, "score": 0.9, "payload": payload})
		}
		writeJSON(w, map[string]any{"result": result})
	case r.Method == http.MethodPost && r.URL.Path == "/collections/files/points/delete":
		if ids, ok := req["points"].([]any); ok {
			for _, id := range ids {
				delete(f.points, id.(string))
			}
		}
		if filter, ok := req["filter"].(map[string]any); ok {
			cond := filter["must"].([]any)[0].(map[string]any)
			lt := cond["range"].(map[string]any)["lt"].(float64)
			for id, payload := range f.points {
				if payload[KeyExpiresAtUnix].(float64) < lt {
					delete(f.points, id)
				}
			}
		}
		writeJSON(w, map[string]any{"result": map[string]any{"status": "completed"}})
	default:
		http.Error(w, "bad request", http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func Test_QdrantStore_MissingCollectionReportsNotExists(t *testing.T) {
	_, s := newQdrantFake(t)

	info, err := s.CollectionInfo(context.Background())

	require.NoError(t, err)
	assert.False(t, info.Exists)
	assert.Equal(t, "files", info.Name)
}

func Test_QdrantStore_Lifecycle(t *testing.T) {
	fake, s := newQdrantFake(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.EnsureCollection(ctx, 3))
	require.NoError(t, s.EnsureCollection(ctx, 3))

	info, err := s.CollectionInfo(ctx)
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.Equal(t, 3, info.Dimension)

	fresh := Point{ID: PointID("/p/fresh.go"), Vector: []float32{1, 0, 0},
		Payload: Payload{FilePath: "/p/fresh.go", ExpiresAt: now.Add(time.Hour)}}
	stale := Point{ID: PointID("/p/stale.go"), Vector: []float32{0, 1, 0},
		Payload: Payload{FilePath: "/p/stale.go", ExpiresAt: now.Add(-time.Hour)}}
	require.NoError(t, s.Upsert(ctx, []Point{fresh, stale}))

	hits, err := s.Search(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	require.NoError(t, s.DeleteByFilter(ctx, Filter{ExpiresBefore: now}))
	assert.Len(t, fake.points, 1)
	assert.Contains(t, fake.points, fresh.ID)

	require.NoError(t, s.Delete(ctx, []string{fresh.ID, "absent"}))
	assert.Empty(t, fake.points)

	for _, key := range fake.apiKeys {
		assert.Equal(t, "secret", key)
	}
}

func Test_QdrantStore_DimensionConflictIsPermanent(t *testing.T) {
	fake, s := newQdrantFake(t)
	fake.dimension = 4

	err := s.EnsureCollection(context.Background(), 3)

	require.Error(t, err)
	assert.True(t, errs.IsPermanent(err))
}

func Test_QdrantStore_StatusClassification(t *testing.T) {
	var status atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	t.Cleanup(srv.Close)
	s, err := NewQdrantStore(QdrantOptions{URL: srv.URL, Collection: "c"})
	require.NoError(t, err)

	status.Store(http.StatusBadRequest)
	err = s.Delete(context.Background(), []string{"x"})
	assert.True(t, errs.IsPermanent(err))

	status.Store(http.StatusServiceUnavailable)
	err = s.Delete(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.False(t, errs.IsPermanent(err))
}

func Test_NewQdrantStore_RequiresURLAndCollection(t *testing.T) {
	_, err := NewQdrantStore(QdrantOptions{Collection: "c"})
	assert.True(t, errors.Is(err, errs.ErrConfig))

	_, err = NewQdrantStore(QdrantOptions{URL: "http://localhost:6333"})
	assert.True(t, errors.Is(err, errs.ErrConfig))
}

func newLocal(t *testing.T, dir string) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(LocalOptions{Dir: dir})
	require.NoError(t, err)
	return s
}

func Test_LocalStore_SearchOrdersBySimilarity(t *testing.T) {
	s := newLocal(t, "")
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx, 3))

	require.NoError(t, s.Upsert(ctx, []Point{
		{ID: "a", Vector: []float32{1, 0, 0}, Payload: Payload{FilePath: "/a"}},
		{ID: "b", Vector: []float32{0.7, 0.7, 0}, Payload: Payload{FilePath: "/b"}},
		{ID: "c", Vector: []float32{0, 0, 1}, Payload: Payload{FilePath: "/c"}},
	}))

	hits, err := s.Search(ctx, []float32{1, 0, 0}, 2)

	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "/a", hits[0].String(KeyFilePath))
	assert.InDelta(t, 1.0, hits[0].Score, 1e-4)
	assert.Equal(t, "b", hits[1].ID)
}

func Test_LocalStore_UpsertReplacesAndDeleteHides(t *testing.T) {
	s := newLocal(t, "")
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx, 2))

	require.NoError(t, s.Upsert(ctx, []Point{{ID: "a", Vector: []float32{1, 0}, Payload: Payload{FilePath: "/old"}}}))
	require.NoError(t, s.Upsert(ctx, []Point{{ID: "a", Vector: []float32{0, 1}, Payload: Payload{FilePath: "/new"}}}))
	require.NoError(t, s.Upsert(ctx, []Point{{ID: "b", Vector: []float32{1, 0}, Payload: Payload{FilePath: "/b"}}}))

	info, err := s.CollectionInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Points)

	hits, err := s.Search(ctx, []float32{0, 1}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "/new", hits[0].String(KeyFilePath))

	require.NoError(t, s.Delete(ctx, []string{"a", "missing"}))
	hits, err = s.Search(ctx, []float32{0, 1}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ID)
}

func Test_LocalStore_DeleteByFilterRemovesExpired(t *testing.T) {
	s := newLocal(t, "")
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.EnsureCollection(ctx, 2))
	require.NoError(t, s.Upsert(ctx, []Point{
		{ID: "old", Vector: []float32{1, 0}, Payload: Payload{FilePath: "/old", ExpiresAt: now.Add(-time.Hour)}},
		{ID: "new", Vector: []float32{1, 0}, Payload: Payload{FilePath: "/new", ExpiresAt: now.Add(time.Hour)}},
	}))

	require.NoError(t, s.DeleteByFilter(ctx, Filter{ExpiresBefore: now}))

	hits, err := s.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "new", hits[0].ID)
}

func Test_LocalStore_RepeatedUpsertsStayCompact(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s := newLocal(t, dir)
	require.NoError(t, s.EnsureCollection(ctx, 2))

	for i := 0; i < 200; i++ {
		require.NoError(t, s.Upsert(ctx, []Point{
			{ID: "a", Vector: []float32{1, float32(i)}, Payload: Payload{FilePath: "/a"}},
			{ID: "b", Vector: []float32{0, 1}, Payload: Payload{FilePath: "/b"}},
		}))
	}

	assert.LessOrEqual(t, s.graph.Len(), 2*len(s.idMap))
	hits, err := s.Search(ctx, []float32{1, 199}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)

	require.NoError(t, s.Delete(ctx, []string{"a", "b"}))
	assert.Equal(t, 0, s.graph.Len())
	require.NoError(t, s.Close())

	reopened := newLocal(t, dir)
	t.Cleanup(func() { reopened.Close() })
	info, err := reopened.CollectionInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, info.Points)
}

func Test_LocalStore_RejectsWrongDimension(t *testing.T) {
	s := newLocal(t, "")
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	err := s.Upsert(ctx, []Point{{ID: "a", Vector: []float32{1}}})
	assert.True(t, errs.IsPermanent(err), "collection must exist first")

	require.NoError(t, s.EnsureCollection(ctx, 2))
	assert.True(t, errs.IsPermanent(s.EnsureCollection(ctx, 3)))
	assert.True(t, errs.IsPermanent(s.Upsert(ctx, []Point{{ID: "a", Vector: []float32{1, 2, 3}}})))
}

func Test_LocalStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	now := time.Now()

	s := newLocal(t, dir)
	require.NoError(t, s.EnsureCollection(ctx, 2))
	require.NoError(t, s.Upsert(ctx, []Point{
		{ID: "a", Vector: []float32{1, 0}, Payload: Payload{FilePath: "/a", Size: 10, ExpiresAt: now.Add(-time.Hour)}},
		{ID: "b", Vector: []float32{0, 1}, Payload: Payload{FilePath: "/b", Size: 20, ExpiresAt: now.Add(time.Hour)}},
	}))
	require.NoError(t, s.Close())

	reopened := newLocal(t, dir)
	t.Cleanup(func() { reopened.Close() })

	info, err := reopened.CollectionInfo(ctx)
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.Equal(t, 2, info.Dimension)
	assert.Equal(t, 2, info.Points)

	hits, err := reopened.Search(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	size, ok := hits[0].Int(KeySize)
	assert.True(t, ok)
	assert.Equal(t, int64(20), size)

	require.NoError(t, reopened.DeleteByFilter(ctx, Filter{ExpiresBefore: now}))
	info, err = reopened.CollectionInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Points)
}

// flakyStore fails a fixed number of times before delegating.
type flakyStore struct {
	VectorStore
	failures int
	calls    int
	err      error
}

func (f *flakyStore) Upsert(ctx context.Context, points []Point) error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func fastRetry() errs.RetryConfig {
	return errs.RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}
}

func Test_Retrying_RecoversFromTransientFailure(t *testing.T) {
	inner := &flakyStore{failures: 2, err: errors.New("connection reset")}
	r := NewRetrying(inner, fastRetry(), nil)

	require.NoError(t, r.Upsert(context.Background(), []Point{{ID: "a"}}))
	assert.Equal(t, 3, inner.calls)
}

func Test_Retrying_ExhaustionIsStoreFailure(t *testing.T) {
	inner := &flakyStore{failures: 10, err: errors.New("connection reset")}
	r := NewRetrying(inner, fastRetry(), nil)

	err := r.Upsert(context.Background(), []Point{{ID: "a"}})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrStore))
	var e *errs.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 3, e.Attempts)
	assert.Contains(t, err.Error(), "connection reset")
}

func Test_Retrying_PermanentStopsImmediately(t *testing.T) {
	inner := &flakyStore{failures: 10, err: errs.Permanent(errors.New("bad request"))}
	r := NewRetrying(inner, fastRetry(), nil)

	err := r.Upsert(context.Background(), []Point{{ID: "a"}})

	assert.True(t, errors.Is(err, errs.ErrStore))
	assert.Equal(t, 1, inner.calls)
}

func Test_Flush_ReachesWrappedLocalStore(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	local := newLocal(t, dir)
	t.Cleanup(func() { local.Close() })
	wrapped := NewRetrying(local, fastRetry(), nil)
	require.NoError(t, wrapped.EnsureCollection(ctx, 2))
	require.NoError(t, wrapped.Upsert(ctx, []Point{{ID: "a", Vector: []float32{1, 0}, Payload: Payload{FilePath: "/a"}}}))

	require.NoError(t, Flush(wrapped))

	_, err := os.Stat(filepath.Join(dir, graphFileName))
	assert.NoError(t, err)
}

func Test_Flush_IgnoresStoresWithoutSave(t *testing.T) {
	assert.NoError(t, Flush(NewRetrying(&flakyStore{}, fastRetry(), nil)))
}
