package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/ragchain/internal/embedding"
	"github.com/hyperjump/ragchain/internal/models"
	"github.com/hyperjump/ragchain/internal/storage"
	"github.com/hyperjump/ragchain/internal/vector"
)

// VectorDBRetrieval ranks passages by cosine similarity between the query
// embedding and the passage embeddings.
type VectorDBRetrieval struct {
	embedder  embedding.Embedder
	index     vector.VectorIndex
	store     storage.PassageStore
	opts      Options
	collector *collector
}

// NewVectorDBRetrieval creates a vector retrieval over the given components.
// The caller keeps ownership of all three.
func NewVectorDBRetrieval(embedder embedding.Embedder, index vector.VectorIndex, store storage.PassageStore, opts ...Option) *VectorDBRetrieval {
	o := buildOptions(opts)
	return &VectorDBRetrieval{
		embedder:  embedder,
		index:     index,
		store:     store,
		opts:      o,
		collector: newCollector(ModeVector, store, o),
	}
}

// embedded is one passage with its embedding or the reason it has none.
type embedded struct {
	passage *models.Passage
	vector  []float32
	err     error
}

// embedAll embeds passages with bounded concurrency and keeps input order.
// Per-item failures are recorded, never returned.
func (r *VectorDBRetrieval) embedAll(ctx context.Context, passages []*models.Passage) []embedded {
	out := make([]embedded, len(passages))
	g := new(errgroup.Group)
	g.SetLimit(r.opts.Concurrency)
	for i, p := range passages {
		out[i].passage = p
		if err := validatePassage(p); err != nil {
			out[i].err = err
			continue
		}
		g.Go(func() error {
			out[i].vector, out[i].err = r.embed(ctx, p.Content)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (r *VectorDBRetrieval) embed(ctx context.Context, text string) ([]float32, error) {
	if r.opts.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.EmbedTimeout)
		defer cancel()
	}
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, embedding.NewEmbeddingError(err)
	}
	return vec, nil
}

func validatePassage(p *models.Passage) error {
	if p == nil {
		return errors.New("nil passage")
	}
	if p.ID == "" {
		return errors.New("passage id cannot be empty")
	}
	if strings.TrimSpace(p.Content) == "" {
		return &embedding.EmbeddingError{Err: embedding.ErrEmptyText}
	}
	return nil
}

// split partitions embedded items into indexable passages and failures.
func split(items []embedded, mode Mode) (ok []embedded, report *models.IngestReport, errs error) {
	report = &models.IngestReport{Indexed: []string{}}
	for _, it := range items {
		if it.err != nil {
			id := ""
			if it.passage != nil {
				id = it.passage.ID
			}
			report.Failed = append(report.Failed, models.ItemFailure{ID: id, Reason: it.err.Error()})
			errs = multierr.Append(errs, fmt.Errorf("passage %q: %w", id, it.err))
			continue
		}
		ok = append(ok, it)
	}
	if len(report.Failed) > 0 {
		ingestedTotal.WithLabelValues(string(mode), "failed").Add(float64(len(report.Failed)))
	}
	return ok, report, errs
}

// Ingest embeds passages and stores them. A passage whose embedding fails is
// skipped and reported; store or index failures abort the whole batch.
func (r *VectorDBRetrieval) Ingest(ctx context.Context, passages []*models.Passage) (*models.IngestReport, error) {
	ok, report, errs := split(r.embedAll(ctx, passages), ModeVector)
	if err := r.write(ctx, ok); err != nil {
		return report, multierr.Append(errs, err)
	}
	for _, it := range ok {
		report.Indexed = append(report.Indexed, it.passage.ID)
	}
	ingestedTotal.WithLabelValues(string(ModeVector), "indexed").Add(float64(len(ok)))
	r.opts.Logger.Debug("Ingested passages",
		zap.Int("indexed", len(report.Indexed)),
		zap.Int("failed", len(report.Failed)))
	return report, errs
}

// write stores passages before indexing them so the index never names a
// passage the store has not seen.
func (r *VectorDBRetrieval) write(ctx context.Context, items []embedded) error {
	if len(items) == 0 {
		return nil
	}
	ps := make([]*models.Passage, len(items))
	ids := make([]string, len(items))
	vecs := make([][]float32, len(items))
	for i, it := range items {
		ps[i] = it.passage
		ids[i] = it.passage.ID
		vecs[i] = it.vector
	}
	if err := r.store.Upsert(ctx, ps); err != nil {
		return fmt.Errorf("failed to store passages: %w", err)
	}
	if err := r.index.Upsert(ctx, ids, vecs); err != nil {
		return fmt.Errorf("failed to index vectors: %w", err)
	}
	return nil
}

// Delete removes ids from the index first, then from the store.
func (r *VectorDBRetrieval) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.index.Remove(ctx, ids); err != nil {
		return fmt.Errorf("failed to remove vectors: %w", err)
	}
	if err := r.store.Delete(ctx, ids); err != nil {
		return fmt.Errorf("failed to delete passages: %w", err)
	}
	return nil
}

func (r *VectorDBRetrieval) search(query string) searchFunc {
	var qvec []float32
	return func(ctx context.Context, n int) ([]Candidate, error) {
		if qvec == nil {
			vec, err := r.embed(ctx, query)
			if err != nil {
				return nil, fmt.Errorf("failed to embed query: %w", err)
			}
			qvec = vec
		}
		results, err := r.index.Search(ctx, qvec, n)
		if err != nil {
			return nil, err
		}
		cands := make([]Candidate, len(results))
		for i, res := range results {
			cands[i] = Candidate{ID: res.ID, Score: res.Score}
		}
		return cands, nil
	}
}

func (r *VectorDBRetrieval) RetrieveWithScores(ctx context.Context, query string, topK int) (*models.RetrievalResult, error) {
	return r.collector.collect(ctx, r.search(query), topK, nil)
}

func (r *VectorDBRetrieval) RetrieveWithFilter(ctx context.Context, query string, topK int, pred Predicate) (*models.RetrievalResult, error) {
	return r.collector.collect(ctx, r.search(query), topK, pred)
}

func (r *VectorDBRetrieval) Retrieve(ctx context.Context, query string, topK int) ([]*models.Passage, error) {
	res, err := r.RetrieveWithScores(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	return res.Passages(), nil
}

func (r *VectorDBRetrieval) RetrieveID(ctx context.Context, query string, topK int) ([]string, error) {
	res, err := r.RetrieveWithScores(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	return res.IDs(), nil
}

func (r *VectorDBRetrieval) RetrieveIDWithScores(ctx context.Context, query string, topK int) ([]string, []float64, error) {
	res, err := r.RetrieveWithScores(ctx, query, topK)
	if err != nil {
		return nil, nil, err
	}
	return res.IDs(), res.Scores(), nil
}
