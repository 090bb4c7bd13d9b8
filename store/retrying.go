package store

import (
	"context"
	"log/slog"

	"github.com/lexandro/vecindex-mcp/errs"
)

// Retrying wraps a VectorStore so every call is retried with backoff.
// Exhausted retries surface as errs.KindStore carrying the attempt count.
type Retrying struct {
	inner  VectorStore
	cfg    errs.RetryConfig
	logger *slog.Logger
}

// NewRetrying wraps inner with the given retry policy.
func NewRetrying(inner VectorStore, cfg errs.RetryConfig, logger *slog.Logger) *Retrying {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Retrying{inner: inner, cfg: cfg, logger: logger}
}

// Unwrap returns the wrapped store.
func (r *Retrying) Unwrap() VectorStore {
	return r.inner
}

func (r *Retrying) EnsureCollection(ctx context.Context, dimension int) error {
	return r.exec(ctx, "ensure collection", func(ctx context.Context) error {
		return r.inner.EnsureCollection(ctx, dimension)
	})
}

func (r *Retrying) CollectionInfo(ctx context.Context) (*CollectionInfo, error) {
	return call(ctx, r, "collection info", r.inner.CollectionInfo)
}

func (r *Retrying) Upsert(ctx context.Context, points []Point) error {
	return r.exec(ctx, "upsert", func(ctx context.Context) error {
		return r.inner.Upsert(ctx, points)
	})
}

func (r *Retrying) Search(ctx context.Context, vector []float32, limit int) ([]Candidate, error) {
	return call(ctx, r, "search", func(ctx context.Context) ([]Candidate, error) {
		return r.inner.Search(ctx, vector, limit)
	})
}

func (r *Retrying) Delete(ctx context.Context, ids []string) error {
	return r.exec(ctx, "delete", func(ctx context.Context) error {
		return r.inner.Delete(ctx, ids)
	})
}

func (r *Retrying) DeleteByFilter(ctx context.Context, filter Filter) error {
	return r.exec(ctx, "delete by filter", func(ctx context.Context) error {
		return r.inner.DeleteByFilter(ctx, filter)
	})
}

func (r *Retrying) Close() error {
	return r.inner.Close()
}

func (r *Retrying) exec(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := call(ctx, r, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func call[T any](ctx context.Context, r *Retrying, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	result, attempts, err := errs.Retry(ctx, r.cfg, fn)
	if err != nil {
		r.logger.Debug("vector store call failed", "op", op, "attempts", attempts, "error", err)
		var zero T
		return zero, &errs.Error{Kind: errs.KindStore, Op: op, Attempts: attempts, Err: err}
	}
	return result, nil
}
