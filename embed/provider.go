// Package embed turns text into fixed-size vectors through a remote
// embedding API, with caching, bounded retry and dimension reconciliation.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lexandro/vecindex-mcp/errs"
)

// Provider is a remote embedding backend. Embed returns one vector per input,
// in input order.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// HTTPOptions configures an HTTP provider.
type HTTPOptions struct {
	URL        string
	APIKey     string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func (o HTTPOptions) client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func (o HTTPOptions) validate(name string) error {
	if o.URL == "" {
		return errs.New(errs.KindConfig, name, errors.New("url is required"))
	}
	if o.Model == "" {
		return errs.New(errs.KindConfig, name, errors.New("model is required"))
	}
	return nil
}

// OpenAIProvider calls an OpenAI-compatible /embeddings endpoint.
type OpenAIProvider struct {
	apiBase    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAIProvider returns a provider for any OpenAI-compatible API.
func NewOpenAIProvider(opts HTTPOptions) (*OpenAIProvider, error) {
	if err := opts.validate("openai embeddings"); err != nil {
		return nil, err
	}
	return &OpenAIProvider{
		apiBase:    strings.TrimRight(opts.URL, "/"),
		apiKey:     opts.APIKey,
		model:      opts.Model,
		httpClient: opts.client(),
	}, nil
}

func (p *OpenAIProvider) Model() string {
	return p.model
}

func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	requestBody := map[string]any{
		"model": p.model,
		"input": texts,
	}
	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}

	var apiResponse struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := postJSON(ctx, p.httpClient, p.apiBase+"/embeddings", headers, requestBody, &apiResponse); err != nil {
		return nil, err
	}
	if len(apiResponse.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(apiResponse.Data), len(texts))
	}

	embeddings := make([][]float32, len(texts))
	for _, item := range apiResponse.Data {
		if item.Index < 0 || item.Index >= len(embeddings) {
			return nil, fmt.Errorf("embedding response index %d out of range", item.Index)
		}
		embeddings[item.Index] = item.Embedding
	}
	return embeddings, nil
}

// OllamaProvider calls Ollama's native /api/embed endpoint.
type OllamaProvider struct {
	host       string
	model      string
	httpClient *http.Client
}

// NewOllamaProvider returns a provider for an Ollama server.
func NewOllamaProvider(opts HTTPOptions) (*OllamaProvider, error) {
	if err := opts.validate("ollama embeddings"); err != nil {
		return nil, err
	}
	return &OllamaProvider{
		host:       strings.TrimRight(opts.URL, "/"),
		model:      opts.Model,
		httpClient: opts.client(),
	}, nil
}

func (p *OllamaProvider) Model() string {
	return p.model
}

func (p *OllamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	requestBody := map[string]any{
		"model": p.model,
		"input": texts,
	}
	var apiResponse struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := postJSON(ctx, p.httpClient, p.host+"/api/embed", nil, requestBody, &apiResponse); err != nil {
		return nil, err
	}
	if len(apiResponse.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(apiResponse.Embeddings), len(texts))
	}
	return apiResponse.Embeddings, nil
}

// postJSON sends body and decodes the response into out. Statuses that a
// retry cannot fix come back marked errs.Permanent.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return errs.Permanent(fmt.Errorf("marshaling embedding request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return errs.Permanent(fmt.Errorf("creating embedding request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading embedding response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := fmt.Errorf("embedding API error: %d %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return apiErr
		}
		return errs.Permanent(apiErr)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing embedding response: %w", err)
	}
	return nil
}
