package retrieval

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/hyperjump/ragchain/internal/keyword"
	"github.com/hyperjump/ragchain/internal/models"
	"github.com/hyperjump/ragchain/internal/storage"
)

// BM25Retrieval ranks passages by keyword relevance.
type BM25Retrieval struct {
	index     keyword.KeywordIndex
	store     storage.PassageStore
	opts      Options
	collector *collector
	search    *keyword.SearchOptions
}

// NewBM25Retrieval creates a keyword retrieval. The caller keeps ownership of index and store.
func NewBM25Retrieval(index keyword.KeywordIndex, store storage.PassageStore, opts ...Option) *BM25Retrieval {
	o := buildOptions(opts)
	return &BM25Retrieval{
		index:     index,
		store:     store,
		opts:      o,
		collector: newCollector(ModeBM25, store, o),
		search:    &keyword.SearchOptions{PhraseBoost: 1.5},
	}
}

func (r *BM25Retrieval) Ingest(ctx context.Context, passages []*models.Passage) (*models.IngestReport, error) {
	report := &models.IngestReport{Indexed: []string{}}
	var errs error
	ok := make([]*models.Passage, 0, len(passages))
	for _, p := range passages {
		if err := validatePassage(p); err != nil {
			id := ""
			if p != nil {
				id = p.ID
			}
			report.Failed = append(report.Failed, models.ItemFailure{ID: id, Reason: err.Error()})
			errs = multierr.Append(errs, fmt.Errorf("passage %q: %w", id, err))
			continue
		}
		ok = append(ok, p)
	}
	if len(report.Failed) > 0 {
		ingestedTotal.WithLabelValues(string(ModeBM25), "failed").Add(float64(len(report.Failed)))
	}
	if len(ok) == 0 {
		return report, errs
	}
	if err := r.store.Upsert(ctx, ok); err != nil {
		return report, multierr.Append(errs, fmt.Errorf("failed to store passages: %w", err))
	}
	if err := r.index.Index(ctx, ok); err != nil {
		return report, multierr.Append(errs, fmt.Errorf("failed to index passages: %w", err))
	}
	report.Indexed = models.PassageIDs(ok)
	ingestedTotal.WithLabelValues(string(ModeBM25), "indexed").Add(float64(len(ok)))
	return report, errs
}

func (r *BM25Retrieval) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.index.Delete(ctx, ids); err != nil {
		return fmt.Errorf("failed to remove keyword entries: %w", err)
	}
	if err := r.store.Delete(ctx, ids); err != nil {
		return fmt.Errorf("failed to delete passages: %w", err)
	}
	return nil
}

func (r *BM25Retrieval) candidates(query string) searchFunc {
	return func(ctx context.Context, n int) ([]Candidate, error) {
		count, err := r.index.DocCount()
		if err != nil {
			return nil, fmt.Errorf("failed to count keyword index: %w", err)
		}
		if count == 0 {
			return nil, ErrEmptyIndex
		}
		results, err := r.index.Search(ctx, query, n, r.search)
		if err != nil {
			return nil, fmt.Errorf("keyword search failed: %w", err)
		}
		cands := make([]Candidate, len(results))
		for i, res := range results {
			cands[i] = Candidate{ID: res.ID, Score: res.Score}
		}
		return cands, nil
	}
}

func (r *BM25Retrieval) RetrieveWithScores(ctx context.Context, query string, topK int) (*models.RetrievalResult, error) {
	return r.collector.collect(ctx, r.candidates(query), topK, nil)
}

func (r *BM25Retrieval) RetrieveWithFilter(ctx context.Context, query string, topK int, pred Predicate) (*models.RetrievalResult, error) {
	return r.collector.collect(ctx, r.candidates(query), topK, pred)
}

func (r *BM25Retrieval) Retrieve(ctx context.Context, query string, topK int) ([]*models.Passage, error) {
	res, err := r.RetrieveWithScores(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	return res.Passages(), nil
}

func (r *BM25Retrieval) RetrieveID(ctx context.Context, query string, topK int) ([]string, error) {
	res, err := r.RetrieveWithScores(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	return res.IDs(), nil
}

func (r *BM25Retrieval) RetrieveIDWithScores(ctx context.Context, query string, topK int) ([]string, []float64, error) {
	res, err := r.RetrieveWithScores(ctx, query, topK)
	if err != nil {
		return nil, nil, err
	}
	return res.IDs(), res.Scores(), nil
}
