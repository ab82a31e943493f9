package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/multierr"

	"github.com/hyperjump/ragchain/internal/models"
)

// HybridRetrieval fuses keyword and vector scores with fixed weights.
type HybridRetrieval struct {
	vector        *VectorDBRetrieval
	keyword       *BM25Retrieval
	vectorWeight  float64
	keywordWeight float64
	collector     *collector
}

// NewHybridRetrieval combines a vector and a keyword retrieval sharing one store.
func NewHybridRetrieval(v *VectorDBRetrieval, k *BM25Retrieval, vectorWeight, keywordWeight float64, opts ...Option) *HybridRetrieval {
	o := buildOptions(opts)
	return &HybridRetrieval{
		vector:        v,
		keyword:       k,
		vectorWeight:  vectorWeight,
		keywordWeight: keywordWeight,
		collector:     newCollector(ModeHybrid, v.store, o),
	}
}

// Ingest embeds and stores passages, then adds the indexed ones to the keyword index.
func (r *HybridRetrieval) Ingest(ctx context.Context, passages []*models.Passage) (*models.IngestReport, error) {
	report, errs := r.vector.Ingest(ctx, passages)
	if len(report.Indexed) == 0 {
		return report, errs
	}
	indexed := make(map[string]struct{}, len(report.Indexed))
	for _, id := range report.Indexed {
		indexed[id] = struct{}{}
	}
	ok := make([]*models.Passage, 0, len(report.Indexed))
	for _, p := range passages {
		if p == nil {
			continue
		}
		if _, found := indexed[p.ID]; found {
			ok = append(ok, p)
		}
	}
	if err := r.keyword.index.Index(ctx, ok); err != nil {
		return report, multierr.Append(errs, fmt.Errorf("failed to index passages: %w", err))
	}
	return report, errs
}

func (r *HybridRetrieval) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.keyword.index.Delete(ctx, ids); err != nil {
		return fmt.Errorf("failed to remove keyword entries: %w", err)
	}
	return r.vector.Delete(ctx, ids)
}

// normalizeKeyword scales keyword scores into [0,1] by the maximum.
func normalizeKeyword(cands []Candidate) map[string]float64 {
	out := make(map[string]float64, len(cands))
	maxScore := 0.0
	for _, c := range cands {
		maxScore = max(maxScore, c.Score)
	}
	for _, c := range cands {
		if maxScore > 0 {
			out[c.ID] = c.Score / maxScore
		} else {
			out[c.ID] = 0
		}
	}
	return out
}

// fuse merges keyword and vector scores by weight. Ties keep the vector
// candidate order, then keyword order for keyword-only ids.
func fuse(vectorCands, keywordCands []Candidate, vectorWeight, keywordWeight float64) []Candidate {
	kw := normalizeKeyword(keywordCands)
	order := make([]string, 0, len(vectorCands)+len(keywordCands))
	scores := make(map[string]float64, cap(order))
	for _, c := range vectorCands {
		if _, ok := scores[c.ID]; ok {
			continue
		}
		order = append(order, c.ID)
		scores[c.ID] = vectorWeight * c.Score
	}
	for _, c := range keywordCands {
		if _, ok := scores[c.ID]; !ok {
			order = append(order, c.ID)
		}
		scores[c.ID] += keywordWeight * kw[c.ID]
	}
	out := make([]Candidate, len(order))
	for i, id := range order {
		out[i] = Candidate{ID: id, Score: scores[id]}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func (r *HybridRetrieval) candidates(query string) searchFunc {
	vsearch := r.vector.search(query)
	ksearch := r.keyword.candidates(query)
	return func(ctx context.Context, n int) ([]Candidate, error) {
		vc, err := vsearch(ctx, n)
		if err != nil {
			return nil, err
		}
		kc, err := ksearch(ctx, n)
		if err != nil && !errors.Is(err, ErrEmptyIndex) {
			return nil, err
		}
		fused := fuse(vc, kc, r.vectorWeight, r.keywordWeight)
		if len(fused) > n {
			fused = fused[:n]
		}
		return fused, nil
	}
}

func (r *HybridRetrieval) RetrieveWithScores(ctx context.Context, query string, topK int) (*models.RetrievalResult, error) {
	return r.collector.collect(ctx, r.candidates(query), topK, nil)
}

func (r *HybridRetrieval) RetrieveWithFilter(ctx context.Context, query string, topK int, pred Predicate) (*models.RetrievalResult, error) {
	return r.collector.collect(ctx, r.candidates(query), topK, pred)
}

func (r *HybridRetrieval) Retrieve(ctx context.Context, query string, topK int) ([]*models.Passage, error) {
	res, err := r.RetrieveWithScores(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	return res.Passages(), nil
}

func (r *HybridRetrieval) RetrieveID(ctx context.Context, query string, topK int) ([]string, error) {
	res, err := r.RetrieveWithScores(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	return res.IDs(), nil
}

func (r *HybridRetrieval) RetrieveIDWithScores(ctx context.Context, query string, topK int) ([]string, []float64, error) {
	res, err := r.RetrieveWithScores(ctx, query, topK)
	if err != nil {
		return nil, nil, err
	}
	return res.IDs(), res.Scores(), nil
}
