package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/coder/hnsw"
	"github.com/natefinch/atomic"

	"github.com/lexandro/vecindex-mcp/errs"
)

const (
	graphFileName   = "vectors.hnsw"
	metaFileName    = "vectors.meta"
	payloadIndexDir = "payload.bleve"
)

// LocalOptions configures the embedded backend. An empty Dir keeps
// everything in memory.
type LocalOptions struct {
	Dir    string
	Logger *slog.Logger
}

// LocalStore is an embedded vector store: an HNSW graph for similarity and a
// bleve index over payload fields for filtered deletes. Replaced or deleted
// vectors are orphaned in the graph rather than removed from it; the graph is
// rebuilt once orphans outnumber live points.
type LocalStore struct {
	mu        sync.RWMutex
	dir       string
	graph     *hnsw.Graph[uint64]
	payloads  bleve.Index
	dimension int
	idMap     map[string]uint64
	keyMap    map[uint64]string
	meta      map[string]map[string]any
	nextKey   uint64
	closed    bool
	logger    *slog.Logger
}

// localMetadata is the gob-encoded sidecar of the graph file.
type localMetadata struct {
	Dimension int
	IDMap     map[string]uint64
	NextKey   uint64
	Payloads  map[string]map[string]any
}

// payloadDoc is the bleve document for one point.
type payloadDoc struct {
	FilePath      string  `json:"file_path"`
	ExpiresAtUnix float64 `json:"expires_at_unix"`
}

// NewLocalStore opens (or creates) an embedded store.
func NewLocalStore(opts LocalOptions) (*LocalStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &LocalStore{
		dir:    opts.Dir,
		graph:  newGraph(),
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		meta:   make(map[string]map[string]any),
		logger: logger,
	}

	if s.dir == "" {
		idx, err := bleve.NewMemOnly(buildPayloadMapping())
		if err != nil {
			return nil, fmt.Errorf("creating payload index: %w", err)
		}
		s.payloads = idx
		return s, nil
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	idx, err := openPayloadIndex(filepath.Join(s.dir, payloadIndexDir))
	if err != nil {
		return nil, err
	}
	s.payloads = idx

	if err := s.load(); err != nil {
		logger.Warn("loading local vectors, starting empty", "error", err)
		s.reset()
	}
	return s, nil
}

func newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	return g
}

func buildPayloadMapping() *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	pathFieldMapping := bleve.NewKeywordFieldMapping()
	pathFieldMapping.Store = false
	pathFieldMapping.IncludeInAll = false
	docMapping.AddFieldMappingsAt(KeyFilePath, pathFieldMapping)

	expiresFieldMapping := bleve.NewNumericFieldMapping()
	expiresFieldMapping.Store = false
	expiresFieldMapping.IncludeInAll = false
	docMapping.AddFieldMappingsAt(KeyExpiresAtUnix, expiresFieldMapping)

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

func openPayloadIndex(path string) (bleve.Index, error) {
	idx, err := bleve.Open(path)
	if err == nil {
		return idx, nil
	}
	if !errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		return nil, fmt.Errorf("opening payload index: %w", err)
	}
	idx, err = bleve.New(path, buildPayloadMapping())
	if err != nil {
		return nil, fmt.Errorf("creating payload index: %w", err)
	}
	return idx, nil
}

// EnsureCollection fixes the vector dimension on first use.
func (s *LocalStore) EnsureCollection(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return errs.Permanent(fmt.Errorf("invalid vector dimension: %d", dimension))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.Permanent(errors.New("store is closed"))
	}
	if s.dimension == 0 {
		s.dimension = dimension
		return nil
	}
	if s.dimension != dimension {
		return errs.Permanent(fmt.Errorf("collection has dimension %d, expected %d", s.dimension, dimension))
	}
	return nil
}

// CollectionInfo reports the collection as existing once a dimension is set.
func (s *LocalStore) CollectionInfo(_ context.Context) (*CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errs.Permanent(errors.New("store is closed"))
	}
	return &CollectionInfo{
		Name:      "local",
		Exists:    s.dimension > 0,
		Dimension: s.dimension,
		Points:    len(s.idMap),
	}, nil
}

// Upsert adds points, replacing any with the same id.
func (s *LocalStore) Upsert(_ context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.Permanent(errors.New("store is closed"))
	}
	if s.dimension == 0 {
		return errs.Permanent(errors.New("collection does not exist"))
	}
	for _, p := range points {
		if len(p.Vector) != s.dimension {
			return errs.Permanent(fmt.Errorf("vector dimension %d, expected %d", len(p.Vector), s.dimension))
		}
	}

	batch := s.payloads.NewBatch()
	for _, p := range points {
		if oldKey, ok := s.idMap[p.ID]; ok {
			delete(s.keyMap, oldKey)
		}

		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		normalizeInPlace(vec)

		key := s.nextKey
		s.nextKey++
		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[p.ID] = key
		s.keyMap[key] = p.ID

		payload := p.Payload.Map()
		s.meta[p.ID] = payload
		doc := payloadDoc{FilePath: p.Payload.FilePath, ExpiresAtUnix: float64(p.Payload.ExpiresAt.Unix())}
		if err := batch.Index(p.ID, doc); err != nil {
			return fmt.Errorf("indexing payload %s: %w", p.ID, err)
		}
	}
	if err := s.payloads.Batch(batch); err != nil {
		return fmt.Errorf("writing payload index: %w", err)
	}
	s.maybeCompactLocked()
	return nil
}

// maybeCompactLocked rebuilds the graph from the live points when orphaned
// nodes outnumber them. Keys are renumbered from zero.
func (s *LocalStore) maybeCompactLocked() {
	orphans := s.graph.Len() - len(s.idMap)
	if orphans <= len(s.idMap) {
		return
	}

	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	graph := newGraph()
	idMap := make(map[string]uint64, len(ids))
	keyMap := make(map[uint64]string, len(ids))
	var next uint64
	for _, id := range ids {
		vec, ok := s.graph.Lookup(s.idMap[id])
		if !ok {
			// Without its vector the point cannot be searched; drop it.
			delete(s.meta, id)
			continue
		}
		graph.Add(hnsw.MakeNode(next, vec))
		idMap[id] = next
		keyMap[next] = id
		next++
	}

	s.logger.Debug("compacted local vectors", "orphans", orphans, "points", len(idMap))
	s.graph = graph
	s.idMap = idMap
	s.keyMap = keyMap
	s.nextKey = next
}

// Search returns the nearest live points by cosine similarity.
func (s *LocalStore) Search(_ context.Context, vector []float32, limit int) ([]Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errs.Permanent(errors.New("store is closed"))
	}
	if s.dimension == 0 {
		return nil, errs.Permanent(errors.New("collection does not exist"))
	}
	if len(vector) != s.dimension {
		return nil, errs.Permanent(fmt.Errorf("query dimension %d, expected %d", len(vector), s.dimension))
	}
	if limit <= 0 || s.graph.Len() == 0 || len(s.idMap) == 0 {
		return []Candidate{}, nil
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	normalizeInPlace(query)

	// Orphaned nodes still occupy graph slots, so ask for enough to cover them.
	k := limit + s.graph.Len() - len(s.idMap)
	if k > s.graph.Len() {
		k = s.graph.Len()
	}

	nodes := s.graph.Search(query, k)
	candidates := make([]Candidate, 0, limit)
	for _, node := range nodes {
		id, ok := s.keyMap[node.Key]
		if !ok {
			continue
		}
		candidates = append(candidates, Candidate{
			ID:      id,
			Score:   1 - float64(s.graph.Distance(query, node.Value)),
			Payload: clonePayload(s.meta[id]),
		})
		if len(candidates) == limit {
			break
		}
	}
	return candidates, nil
}

// Delete removes points by id. Unknown ids are ignored.
func (s *LocalStore) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.Permanent(errors.New("store is closed"))
	}
	return s.deleteLocked(ids)
}

func (s *LocalStore) deleteLocked(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	batch := s.payloads.NewBatch()
	for _, id := range ids {
		key, ok := s.idMap[id]
		if !ok {
			continue
		}
		delete(s.keyMap, key)
		delete(s.idMap, id)
		delete(s.meta, id)
		batch.Delete(id)
	}
	if err := s.payloads.Batch(batch); err != nil {
		return fmt.Errorf("deleting from payload index: %w", err)
	}
	s.maybeCompactLocked()
	return nil
}

// DeleteByFilter removes every point whose expires_at_unix is below the
// filter's cutoff.
func (s *LocalStore) DeleteByFilter(_ context.Context, filter Filter) error {
	if filter.ExpiresBefore.IsZero() {
		return errs.Permanent(errors.New("empty delete filter"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.Permanent(errors.New("store is closed"))
	}

	cutoff := float64(filter.ExpiresBefore.Unix())
	exclusive := false
	q := bleve.NewNumericRangeInclusiveQuery(nil, &cutoff, nil, &exclusive)
	q.SetField(KeyExpiresAtUnix)

	total, err := s.payloads.DocCount()
	if err != nil {
		return fmt.Errorf("counting payloads: %w", err)
	}
	if total == 0 {
		return nil
	}
	req := bleve.NewSearchRequestOptions(q, int(total), 0, false)
	res, err := s.payloads.Search(req)
	if err != nil {
		return fmt.Errorf("querying payload index: %w", err)
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return s.deleteLocked(ids)
}

// Save persists the graph and its metadata when the store has a directory.
func (s *LocalStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *LocalStore) saveLocked() error {
	if s.dir == "" {
		return nil
	}

	graphPath := filepath.Join(s.dir, graphFileName)
	if s.graph.Len() > 0 {
		var buf bytes.Buffer
		if err := s.graph.Export(&buf); err != nil {
			return fmt.Errorf("exporting graph: %w", err)
		}
		if err := atomic.WriteFile(graphPath, &buf); err != nil {
			return fmt.Errorf("writing graph: %w", err)
		}
	} else if err := os.Remove(graphPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing graph: %w", err)
	}

	var buf bytes.Buffer
	meta := localMetadata{
		Dimension: s.dimension,
		IDMap:     s.idMap,
		NextKey:   s.nextKey,
		Payloads:  s.meta,
	}
	if err := gob.NewEncoder(&buf).Encode(meta); err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if err := atomic.WriteFile(filepath.Join(s.dir, metaFileName), &buf); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	return nil
}

func (s *LocalStore) load() error {
	metaFile, err := os.Open(filepath.Join(s.dir, metaFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening metadata: %w", err)
	}
	defer metaFile.Close()

	var meta localMetadata
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return fmt.Errorf("decoding metadata: %w", err)
	}

	graphFile, err := os.Open(filepath.Join(s.dir, graphFileName))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("opening graph: %w", err)
	default:
		defer graphFile.Close()
		// Import needs an io.ByteReader.
		if err := s.graph.Import(bufio.NewReader(graphFile)); err != nil {
			return fmt.Errorf("importing graph: %w", err)
		}
	}

	s.dimension = meta.Dimension
	s.nextKey = meta.NextKey
	if meta.IDMap != nil {
		s.idMap = meta.IDMap
	}
	if meta.Payloads != nil {
		s.meta = meta.Payloads
	}
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	s.maybeCompactLocked()
	s.logger.Debug("loaded local vectors", "points", len(s.idMap), "dimension", s.dimension)
	return nil
}

func (s *LocalStore) reset() {
	s.graph = newGraph()
	s.dimension = 0
	s.nextKey = 0
	s.idMap = make(map[string]uint64)
	s.keyMap = make(map[uint64]string)
	s.meta = make(map[string]map[string]any)
}

// Close persists (when on disk) and releases the payload index.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	saveErr := s.saveLocked()
	if err := s.payloads.Close(); err != nil && saveErr == nil {
		return fmt.Errorf("closing payload index: %w", err)
	}
	return saveErr
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

func clonePayload(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
