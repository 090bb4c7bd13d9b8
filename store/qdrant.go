package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lexandro/vecindex-mcp/errs"
)

// QdrantOptions configures the Qdrant REST backend.
type QdrantOptions struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// QdrantStore talks to Qdrant over its REST API.
type QdrantStore struct {
	baseURL    string
	apiKey     string
	collection string
	httpClient *http.Client
}

// NewQdrantStore validates options and returns a client. No request is made.
func NewQdrantStore(opts QdrantOptions) (*QdrantStore, error) {
	if opts.URL == "" {
		return nil, errs.New(errs.KindConfig, "qdrant", errors.New("url is required"))
	}
	if opts.Collection == "" {
		return nil, errs.New(errs.KindConfig, "qdrant", errors.New("collection is required"))
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &QdrantStore{
		baseURL:    strings.TrimRight(opts.URL, "/"),
		apiKey:     opts.APIKey,
		collection: opts.Collection,
		httpClient: client,
	}, nil
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// EnsureCollection creates the collection with cosine distance when missing.
func (q *QdrantStore) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errs.Permanent(fmt.Errorf("invalid vector dimension: %d", dimension))
	}
	info, err := q.CollectionInfo(ctx)
	if err != nil {
		return err
	}
	if info.Exists {
		if info.Dimension > 0 && info.Dimension != dimension {
			return errs.Permanent(fmt.Errorf("collection %s has dimension %d, expected %d", q.collection, info.Dimension, dimension))
		}
		return nil
	}
	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	return q.doRequest(ctx, http.MethodPut, q.collectionPath(""), reqBody, nil)
}

// CollectionInfo fetches collection metadata; 404 means it does not exist.
func (q *QdrantStore) CollectionInfo(ctx context.Context) (*CollectionInfo, error) {
	var resp struct {
		Result struct {
			PointsCount int `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}

	err := q.doRequest(ctx, http.MethodGet, q.collectionPath(""), nil, &resp)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return &CollectionInfo{Name: q.collection}, nil
		}
		return nil, err
	}
	return &CollectionInfo{
		Name:      q.collection,
		Exists:    true,
		Dimension: resp.Result.Config.Params.Vectors.Size,
		Points:    resp.Result.PointsCount,
	}, nil
}

// Upsert writes points and waits for the write to be applied.
func (q *QdrantStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	wire := make([]qdrantPoint, 0, len(points))
	for _, p := range points {
		wire = append(wire, qdrantPoint{ID: p.ID, Vector: p.Vector, Payload: p.Payload.Map()})
	}
	return q.doRequest(ctx, http.MethodPut, q.collectionPath("/points?wait=true"), map[string]any{"points": wire}, nil)
}

// Search runs a similarity query with payloads.
func (q *QdrantStore) Search(ctx context.Context, vector []float32, limit int) ([]Candidate, error) {
	if len(vector) == 0 {
		return nil, errs.Permanent(errors.New("empty query vector"))
	}
	if limit <= 0 {
		limit = 10
	}
	reqBody := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}

	var resp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := q.doRequest(ctx, http.MethodPost, q.collectionPath("/points/search"), reqBody, &resp); err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(resp.Result))
	for _, item := range resp.Result {
		candidates = append(candidates, Candidate{
			ID:      fmt.Sprint(item.ID),
			Score:   item.Score,
			Payload: item.Payload,
		})
	}
	return candidates, nil
}

// Delete removes points by id. Deleting absent ids succeeds.
func (q *QdrantStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return q.doRequest(ctx, http.MethodPost, q.collectionPath("/points/delete?wait=true"), map[string]any{"points": ids}, nil)
}

// DeleteByFilter removes every point whose expiry precedes the filter time.
func (q *QdrantStore) DeleteByFilter(ctx context.Context, filter Filter) error {
	if filter.ExpiresBefore.IsZero() {
		return errs.Permanent(errors.New("empty delete filter"))
	}
	reqBody := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{
					"key":   KeyExpiresAtUnix,
					"range": map[string]any{"lt": filter.ExpiresBefore.Unix()},
				},
			},
		},
	}
	return q.doRequest(ctx, http.MethodPost, q.collectionPath("/points/delete?wait=true"), reqBody, nil)
}

// Close is a no-op; the HTTP client holds no resources that need releasing.
func (q *QdrantStore) Close() error {
	return nil
}

func (q *QdrantStore) collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(q.collection) + suffix
}

// statusError is a non-2xx response from Qdrant.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant API error: %d %s", e.Code, e.Body)
}

func (q *QdrantStore) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errs.Permanent(fmt.Errorf("marshaling qdrant request: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, reader)
	if err != nil {
		return errs.Permanent(fmt.Errorf("creating qdrant request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading qdrant response: %w", err)
	}

	if resp.StatusCode >= 300 {
		se := &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		if isRetryableStatus(resp.StatusCode) {
			return se
		}
		return errs.Permanent(se)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing qdrant response: %w", err)
	}
	return nil
}

func isRetryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}
