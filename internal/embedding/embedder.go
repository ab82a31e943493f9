// Package embedding maps text to fixed-dimension vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/hyperjump/ragchain/internal/config"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Provider names an embedding backend.
type Provider string

const (
	ProviderHashing Provider = "hashing"
	ProviderOllama  Provider = "ollama"
	ProviderONNX    Provider = "onnx"
)

// ErrEmptyText is returned for text that contains no terms.
var ErrEmptyText = errors.New("text has no embeddable content")

// EmbeddingError reports a failure to embed one text.
type EmbeddingError struct {
	Err       error
	Retryable bool
}

func (e *EmbeddingError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("embedding failed (retryable): %v", e.Err)
	}
	return fmt.Sprintf("embedding failed: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// NewEmbeddingError wraps err, marking timeouts and transport failures retryable.
// An err that already is an EmbeddingError is returned unchanged.
func NewEmbeddingError(err error) error {
	if err == nil {
		return nil
	}
	var ee *EmbeddingError
	if errors.As(err, &ee) {
		return err
	}
	return &EmbeddingError{Err: err, Retryable: isTransient(err)}
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// New builds the embedder selected by cfg.Provider, wrapped in an LRU cache when
// cfg.CacheSize is positive.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch Provider(cfg.Provider) {
	case ProviderHashing, "":
		e = NewHashingEmbedder(cfg.Dimensions)
	case ProviderOllama:
		e = NewOllamaEmbedder(OllamaOptions{
			BaseURL:     cfg.Ollama.BaseURL,
			Model:       cfg.Ollama.Model,
			Dimensions:  cfg.Dimensions,
			Concurrency: cfg.Ollama.Concurrency,
			Timeout:     cfg.Timeout,
		})
	case ProviderONNX:
		e, err = NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheSize > 0 {
		e = NewCachedEmbedder(e, cfg.CacheSize)
	}
	return e, nil
}
