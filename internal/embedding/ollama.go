package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// OllamaOptions configures an OllamaEmbedder. Zero fields take defaults.
type OllamaOptions struct {
	BaseURL     string
	Model       string
	Dimensions  int
	Concurrency int
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// OllamaEmbedder calls the Ollama /api/embeddings endpoint.
type OllamaEmbedder struct {
	baseURL     string
	model       string
	dimensions  int
	concurrency int
	client      *http.Client
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float64 `json:"embedding"`
}

// NewOllamaEmbedder creates an Ollama embedder.
func NewOllamaEmbedder(opts OllamaOptions) *OllamaEmbedder {
	e := &OllamaEmbedder{
		baseURL:     strings.TrimSuffix(opts.BaseURL, "/"),
		model:       opts.Model,
		dimensions:  opts.Dimensions,
		concurrency: opts.Concurrency,
		client:      opts.HTTPClient,
	}
	if e.baseURL == "" {
		e.baseURL = "http://localhost:11434"
	}
	if e.model == "" {
		e.model = "nomic-embed-text"
	}
	if e.dimensions <= 0 {
		e.dimensions = 768
	}
	if e.concurrency <= 0 {
		e.concurrency = 4
	}
	if e.client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		e.client = &http.Client{Timeout: timeout}
	}
	return e
}

// Embed returns the embedding of text. Transport failures, timeouts and 5xx
// responses produce a retryable EmbeddingError.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, NewEmbeddingError(ErrEmptyText)
	}
	body, err := json.Marshal(ollamaRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, NewEmbeddingError(fmt.Errorf("failed to marshal request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, NewEmbeddingError(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &EmbeddingError{Err: fmt.Errorf("failed to send request: %w", err), Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, &EmbeddingError{
			Err:       fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg))),
			Retryable: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, NewEmbeddingError(fmt.Errorf("failed to decode response: %w", err))
	}
	if len(out.Embedding) != e.dimensions {
		return nil, NewEmbeddingError(fmt.Errorf("ollama returned %d dimensions, expected %d", len(out.Embedding), e.dimensions))
	}
	emb := make([]float32, len(out.Embedding))
	for i, v := range out.Embedding {
		emb[i] = float32(v)
	}
	return emb, nil
}

// EmbedBatch embeds texts with at most Concurrency requests in flight. Output order matches input.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, text := range texts {
		g.Go(func() error {
			emb, err := e.Embed(gctx, text)
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			out[i] = emb
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Dimensions returns the configured embedding dimension.
func (e *OllamaEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *OllamaEmbedder) Close() error {
	return nil
}
