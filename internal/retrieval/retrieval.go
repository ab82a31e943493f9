// Package retrieval answers queries with the most relevant stored passages.
package retrieval

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/ragchain/internal/config"
	"github.com/hyperjump/ragchain/internal/models"
	"github.com/hyperjump/ragchain/pkg/utils"
)

// Retrieval ingests passages and retrieves them by relevance to a query.
type Retrieval interface {
	// Ingest indexes passages best-effort: failed items are skipped and listed in
	// the report, and the returned error combines the per-item failures.
	Ingest(ctx context.Context, passages []*models.Passage) (*models.IngestReport, error)
	// Delete removes passages from the index and the store.
	Delete(ctx context.Context, ids []string) error
	Retrieve(ctx context.Context, query string, topK int) ([]*models.Passage, error)
	RetrieveID(ctx context.Context, query string, topK int) ([]string, error)
	RetrieveIDWithScores(ctx context.Context, query string, topK int) ([]string, []float64, error)
	RetrieveWithScores(ctx context.Context, query string, topK int) (*models.RetrievalResult, error)
	// RetrieveWithFilter returns up to topK passages satisfying pred, over-fetching
	// candidates until topK matches are found, the index is exhausted or the
	// candidate cap is reached.
	RetrieveWithFilter(ctx context.Context, query string, topK int, pred Predicate) (*models.RetrievalResult, error)
}

// Mode names a retrieval strategy.
type Mode string

const (
	ModeVector Mode = "vector"
	ModeBM25   Mode = "bm25"
	ModeHybrid Mode = "hybrid"
)

// Options tunes a retrieval.
type Options struct {
	Logger *zap.Logger
	// Concurrency bounds parallel embedding calls during ingest.
	Concurrency int
	// EmbedTimeout bounds each embedding call. Zero disables the bound.
	EmbedTimeout time.Duration
	// FilterInitialMultiplier sets the first over-fetch window of a filtered retrieval to multiplier*topK.
	FilterInitialMultiplier int
	// FilterMaxCandidates caps the candidate window of any retrieval.
	FilterMaxCandidates int
}

// Option configures Options.
type Option func(*Options)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) { o.Logger = utils.OrNop(logger) }
}

// WithConcurrency sets the ingest embedding concurrency.
func WithConcurrency(n int) Option {
	return func(o *Options) { o.Concurrency = n }
}

// WithEmbedTimeout bounds each embedding call.
func WithEmbedTimeout(d time.Duration) Option {
	return func(o *Options) { o.EmbedTimeout = d }
}

// WithFilterPolicy sets the over-fetch policy of filtered retrievals.
func WithFilterPolicy(initialMultiplier, maxCandidates int) Option {
	return func(o *Options) {
		o.FilterInitialMultiplier = initialMultiplier
		o.FilterMaxCandidates = maxCandidates
	}
}

// OptionsFromConfig maps configuration onto options.
func OptionsFromConfig(cfg *config.Config) []Option {
	return []Option{
		WithConcurrency(cfg.Retrieval.Concurrency),
		WithEmbedTimeout(cfg.Embedding.Timeout),
		WithFilterPolicy(cfg.Retrieval.FilterInitialMultiplier, cfg.Retrieval.FilterMaxCandidates),
	}
}

func buildOptions(opts []Option) Options {
	o := Options{
		Concurrency:             4,
		FilterInitialMultiplier: 3,
		FilterMaxCandidates:     1000,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.FilterInitialMultiplier <= 0 {
		o.FilterInitialMultiplier = 1
	}
	if o.FilterMaxCandidates <= 0 {
		o.FilterMaxCandidates = 1000
	}
	return o
}
