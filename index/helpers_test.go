package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lexandro/vecindex-mcp/ignore"
	"github.com/lexandro/vecindex-mcp/state"
	"github.com/lexandro/vecindex-mcp/store"
)

// fakeEmbedder records calls and concurrency. Texts containing "FAIL" fail.
// When gate is set, every call blocks until it is closed.
type fakeEmbedder struct {
	mu          sync.Mutex
	calls       int
	texts       []string
	current     int
	maxObserved int
	delay       time.Duration
	gate        chan struct{}
	started     chan struct{}
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{started: make(chan struct{}, 100)}
}

func (f *fakeEmbedder) Dimensions() int { return 3 }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.texts = append(f.texts, text)
	f.current++
	if f.current > f.maxObserved {
		f.maxObserved = f.current
	}
	gate := f.gate
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.current--
		f.mu.Unlock()
	}()

	f.started <- struct{}{}
	if gate != nil {
		<-gate
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if strings.Contains(text, "FAIL") {
		return nil, errors.New("embedding model rejected input")
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeStore is an in-memory VectorStore. Search returns canned candidates
// when set, otherwise every stored point.
type fakeStore struct {
	mu             sync.Mutex
	exists         bool
	dimension      int
	points         map[string]store.Point
	upserts        int
	deletes        [][]string
	filters        []store.Filter
	candidates     []store.Candidate
	searchLimit    int
	deleteFilterCh chan struct{}
	filterErr      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{points: make(map[string]store.Point)}
}

func (f *fakeStore) EnsureCollection(_ context.Context, dim int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exists = true
	f.dimension = dim
	return nil
}

func (f *fakeStore) CollectionInfo(_ context.Context) (*store.CollectionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &store.CollectionInfo{Name: "test", Exists: f.exists, Dimension: f.dimension, Points: len(f.points)}, nil
}

func (f *fakeStore) Upsert(_ context.Context, points []store.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	for _, p := range points {
		f.points[p.ID] = p
	}
	return nil
}

func (f *fakeStore) Search(_ context.Context, _ []float32, limit int) ([]store.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchLimit = limit
	if f.candidates != nil {
		return f.candidates, nil
	}
	ids := make([]string, 0, len(f.points))
	for id := range f.points {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []store.Candidate
	for _, id := range ids {
		out = append(out, store.Candidate{ID: id, Score: 0.9, Payload: f.points[id].Payload.Map()})
	}
	return out, nil
}

func (f *fakeStore) Delete(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, ids)
	for _, id := range ids {
		delete(f.points, id)
	}
	return nil
}

func (f *fakeStore) DeleteByFilter(_ context.Context, filter store.Filter) error {
	f.mu.Lock()
	f.filters = append(f.filters, filter)
	if f.filterErr != nil {
		f.mu.Unlock()
		return f.filterErr
	}
	for id, p := range f.points {
		if p.Payload.ExpiresAt.Before(filter.ExpiresBefore) {
			delete(f.points, id)
		}
	}
	ch := f.deleteFilterCh
	f.mu.Unlock()
	if ch != nil {
		ch <- struct{}{}
	}
	return nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}

func (f *fakeStore) filterCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.filters)
}

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	root     string
	engine   *Engine
	embedder *fakeEmbedder
	store    *fakeStore
	state    *state.Store
	clock    *testClock
}

func newTestEnv(t *testing.T, configure func(o *Options, cfg *ignore.Config)) *testEnv {
	t.Helper()
	root := t.TempDir()
	st, err := state.Open(filepath.Join(root, ".vecindex"), nil)
	require.NoError(t, err)

	env := &testEnv{
		root:     root,
		embedder: newFakeEmbedder(),
		store:    newFakeStore(),
		state:    st,
		clock:    &testClock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)},
	}

	cfg := ignore.DefaultConfig()
	cfg.Folders = append(cfg.Folders, ".vecindex")
	opts := Options{
		Root:           root,
		Embedder:       env.embedder,
		Store:          env.store,
		State:          st,
		MaxConcurrency: 4,
		BatchSize:      10,
		Incremental:    true,
		Persist:        true,
		TTL:            time.Hour,
		PurgeInterval:  time.Hour,
		PurgeEnabled:   true,
		Overfetch:      3,
		ValidateIndex:  true,
		Clock:          env.clock.Now,
	}
	if configure != nil {
		configure(&opts, &cfg)
	}
	opts.Excluder = ignore.NewMatcher(root, cfg)

	engine, err := New(opts)
	require.NoError(t, err)
	env.engine = engine
	t.Cleanup(func() {
		engine.Close()
		st.Close()
	})
	return env
}

func (env *testEnv) write(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(env.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// touch moves the file's mtime forward so incremental checks see a change.
func touch(t *testing.T, path string, offset time.Duration) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	mtime := info.ModTime().Add(offset)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}
