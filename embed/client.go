package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lexandro/vecindex-mcp/config"
	"github.com/lexandro/vecindex-mcp/errs"
)

// DefaultCacheSize is used when Options.CacheSize is not positive.
const DefaultCacheSize = 1000

// Options configures a Client.
type Options struct {
	Provider   Provider
	Dimensions int
	// StrictDimensions turns a provider/config dimension mismatch into a
	// validation error instead of truncating or zero-padding.
	StrictDimensions bool
	// MaxInputChars truncates input text; zero disables truncation.
	MaxInputChars int
	CacheSize     int
	Retry         errs.RetryConfig
	Logger        *slog.Logger
}

// Client produces unit-length vectors of exactly Dimensions components.
type Client struct {
	provider   Provider
	dimensions int
	strict     bool
	maxChars   int
	retry      errs.RetryConfig
	cache      *lru.Cache[string, []float32]
	logger     *slog.Logger
	warnOnce   sync.Once
}

// NewClient wraps a provider.
func NewClient(opts Options) (*Client, error) {
	if opts.Provider == nil {
		return nil, errs.New(errs.KindConfig, "embedding client", errors.New("provider is required"))
	}
	if opts.Dimensions <= 0 {
		return nil, errs.New(errs.KindConfig, "embedding client", fmt.Errorf("invalid dimensions: %d", opts.Dimensions))
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	cache, err := lru.New[string, []float32](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}
	return &Client{
		provider:   opts.Provider,
		dimensions: opts.Dimensions,
		strict:     opts.StrictDimensions,
		maxChars:   opts.MaxInputChars,
		retry:      opts.Retry,
		cache:      cache,
		logger:     opts.Logger,
	}, nil
}

// NewFromConfig builds the provider named in cfg and wraps it in a Client.
func NewFromConfig(cfg config.EmbeddingConfig, retry errs.RetryConfig, logger *slog.Logger) (*Client, error) {
	httpOpts := HTTPOptions{
		URL:     cfg.URL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	}

	var provider Provider
	var err error
	switch cfg.Provider {
	case "ollama":
		provider, err = NewOllamaProvider(httpOpts)
	case "openai", "":
		provider, err = NewOpenAIProvider(httpOpts)
	default:
		return nil, errs.New(errs.KindConfig, "embedding client", fmt.Errorf("unknown provider %q", cfg.Provider))
	}
	if err != nil {
		return nil, err
	}

	return NewClient(Options{
		Provider:         provider,
		Dimensions:       cfg.Dimensions,
		StrictDimensions: cfg.StrictDimensions,
		MaxInputChars:    cfg.MaxInputChars,
		CacheSize:        cfg.CacheSize,
		Retry:            retry,
		Logger:           logger,
	})
}

// Dimensions returns the vector length every Embed call produces.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Model returns the provider's model name.
func (c *Client) Model() string {
	return c.provider.Model()
}

// Embed returns the vector for text. The returned slice is shared with the
// cache and must not be modified.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	text = truncate(text, c.maxChars)
	key := c.cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	vectors, attempts, err := errs.Retry(ctx, c.retry, func(ctx context.Context) ([][]float32, error) {
		out, err := c.provider.Embed(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		if len(out) != 1 || len(out[0]) == 0 {
			return nil, errors.New("provider returned no vector")
		}
		return out, nil
	})
	if err != nil {
		return nil, &errs.Error{Kind: errs.KindEmbedding, Op: "embed", Attempts: attempts, Err: err}
	}

	vec, err := c.reconcile(vectors[0])
	if err != nil {
		return nil, err
	}
	normalize(vec)
	c.cache.Add(key, vec)
	return vec, nil
}

func (c *Client) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(c.provider.Model() + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// reconcile returns a copy of vec with exactly c.dimensions components.
func (c *Client) reconcile(vec []float32) ([]float32, error) {
	out := make([]float32, c.dimensions)
	if len(vec) == c.dimensions {
		copy(out, vec)
		return out, nil
	}
	if c.strict {
		return nil, errs.New(errs.KindValidation, "embed",
			fmt.Errorf("model %s returned %d dimensions, configured %d", c.provider.Model(), len(vec), c.dimensions))
	}
	c.warnOnce.Do(func() {
		c.logger.Warn("embedding dimension mismatch, reconciling",
			"model", c.provider.Model(), "got", len(vec), "want", c.dimensions)
	})
	copy(out, vec)
	return out, nil
}

func truncate(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	if utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	n := 0
	for i := range text {
		if n == maxChars {
			return text[:i]
		}
		n++
	}
	return text
}

func normalize(v []float32) {
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
