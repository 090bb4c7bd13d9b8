// Package index is the indexing engine: it decides whether a file needs
// (re)embedding, bounds concurrent work, records what was indexed and serves
// freshness-filtered semantic search.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/lexandro/vecindex-mcp/errs"
	"github.com/lexandro/vecindex-mcp/ignore"
	"github.com/lexandro/vecindex-mcp/state"
	"github.com/lexandro/vecindex-mcp/store"
)

// Embedder turns text into a vector of Dimensions() components.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Excluder decides which paths are skipped.
type Excluder interface {
	Check(path string) ignore.Decision
	ShouldPruneDir(path string) bool
}

// Options wires an Engine. Embedder, Store, State and Excluder are required.
type Options struct {
	Root     string
	Embedder Embedder
	Store    store.VectorStore
	State    *state.Store
	Excluder Excluder

	MaxConcurrency int
	BatchSize      int
	Incremental    bool
	Persist        bool

	TTL           time.Duration
	PurgeInterval time.Duration
	PurgeEnabled  bool
	Overfetch     int
	ValidateIndex bool

	// Clock defaults to time.Now.
	Clock  func() time.Time
	Logger *slog.Logger
}

// Engine orchestrates indexing, search, deletion and purge.
type Engine struct {
	root     string
	embedder Embedder
	store    store.VectorStore
	state    *state.Store
	excluder Excluder

	maxConcurrency int
	batchSize      int
	incremental    bool
	persist        bool
	ttl            time.Duration
	purgeInterval  time.Duration
	purgeEnabled   bool
	overfetch      int
	validate       bool
	clock          func() time.Time
	logger         *slog.Logger

	// admission gate and per-path dedup
	slots    *semaphore.Weighted
	inflight singleflight.Group
	queued   atomic.Int64
	active   atomic.Int64
	waiters  atomic.Int64

	collectionMu    sync.Mutex
	collectionReady bool

	statsMu sync.Mutex
	stats   state.IndexStats

	purgeMu   sync.Mutex
	lastPurge time.Time
	purging   atomic.Bool

	// background tracks purges and index work; lifeMu orders Add against
	// Close so no work starts once Close is waiting.
	lifeMu     sync.Mutex
	background sync.WaitGroup
	closed     atomic.Bool
}

// ErrClosed is returned for work submitted after Close.
var ErrClosed = errors.New("engine is closed")

// track registers one unit of background work unless the engine is closed.
// The caller must call e.background.Done when it finishes.
func (e *Engine) track() bool {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.closed.Load() {
		return false
	}
	e.background.Add(1)
	return true
}

// New validates opts and builds an Engine. The last saved stats are loaded
// as the starting snapshot.
func New(opts Options) (*Engine, error) {
	switch {
	case opts.Embedder == nil:
		return nil, errs.New(errs.KindConfig, "creating engine", errors.New("embedder is required"))
	case opts.Store == nil:
		return nil, errs.New(errs.KindConfig, "creating engine", errors.New("vector store is required"))
	case opts.State == nil:
		return nil, errs.New(errs.KindConfig, "creating engine", errors.New("state store is required"))
	case opts.Excluder == nil:
		return nil, errs.New(errs.KindConfig, "creating engine", errors.New("excluder is required"))
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 4
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Overfetch < 1 {
		opts.Overfetch = 1
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * 24 * time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	root := opts.Root
	if root != "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolving root: %w", err)
		}
		root = abs
	}

	return &Engine{
		root:           root,
		embedder:       opts.Embedder,
		store:          opts.Store,
		state:          opts.State,
		excluder:       opts.Excluder,
		maxConcurrency: opts.MaxConcurrency,
		batchSize:      opts.BatchSize,
		incremental:    opts.Incremental,
		persist:        opts.Persist,
		ttl:            opts.TTL,
		purgeInterval:  opts.PurgeInterval,
		purgeEnabled:   opts.PurgeEnabled,
		overfetch:      opts.Overfetch,
		validate:       opts.ValidateIndex,
		clock:          opts.Clock,
		logger:         opts.Logger,
		slots:          semaphore.NewWeighted(int64(opts.MaxConcurrency)),
		stats:          opts.State.LoadStats(),
	}, nil
}

// Root returns the absolute project root, or "" when none was configured.
func (e *Engine) Root() string {
	return e.root
}

// resolve turns path into a clean absolute path, relative paths being taken
// against the root.
func (e *Engine) resolve(path string) string {
	if !filepath.IsAbs(path) && e.root != "" {
		path = filepath.Join(e.root, path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return filepath.Clean(path)
}

// ensureCollection creates the vector collection once per engine.
func (e *Engine) ensureCollection(ctx context.Context) error {
	e.collectionMu.Lock()
	defer e.collectionMu.Unlock()
	if e.collectionReady {
		return nil
	}
	if err := e.store.EnsureCollection(ctx, e.embedder.Dimensions()); err != nil {
		return err
	}
	e.collectionReady = true
	return nil
}

// IndexingStatus is a point-in-time view of the admission gate.
type IndexingStatus struct {
	Queued         int // callers waiting for a slot
	Active         int // indexing operations holding a slot
	MaxConcurrency int
	Waiting        int // callers awaiting an in-flight result, including joiners
}

// GetIndexingStatus reports the admission gate's occupancy.
func (e *Engine) GetIndexingStatus() IndexingStatus {
	return IndexingStatus{
		Queued:         int(e.queued.Load()),
		Active:         int(e.active.Load()),
		MaxConcurrency: e.maxConcurrency,
		Waiting:        int(e.waiters.Load()),
	}
}

// GetStats returns a copy of the aggregate counters.
func (e *Engine) GetStats() state.IndexStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

func (e *Engine) resetStats() {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats = state.IndexStats{}
}

func (e *Engine) updateStats(fn func(s *state.IndexStats)) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	fn(&e.stats)
}

// saveState flushes file records when persistence is on. Failures are logged;
// they never fail the operation that triggered them.
func (e *Engine) saveState() {
	if !e.persist {
		return
	}
	if err := store.Flush(e.store); err != nil {
		e.logger.Warn("saving vectors", "error", err)
	}
	if err := e.state.Save(); err != nil {
		e.logger.Warn("saving file state", "error", err)
	}
}

func (e *Engine) saveStats() {
	if !e.persist {
		return
	}
	if err := e.state.SaveStats(e.GetStats()); err != nil {
		e.logger.Warn("saving stats", "error", err)
	}
}

// Close refuses new work, waits for in-flight indexing and purges, and
// flushes state and stats. The state store and vector store are owned by the
// caller and stay open.
func (e *Engine) Close() error {
	e.lifeMu.Lock()
	if e.closed.Load() {
		e.lifeMu.Unlock()
		return nil
	}
	e.closed.Store(true)
	e.lifeMu.Unlock()

	e.background.Wait()
	if !e.persist {
		return nil
	}
	if err := e.state.SaveStats(e.GetStats()); err != nil {
		e.logger.Warn("saving stats", "error", err)
	}
	return e.state.Save()
}
