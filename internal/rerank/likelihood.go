package rerank

import (
	"context"
	"math"

	"github.com/hyperjump/ragchain/pkg/utils"
)

// DefaultSmoothing is the Dirichlet prior used when none is configured.
const DefaultSmoothing = 10.0

// QueryLikelihoodScorer scores a context with a Dirichlet-smoothed unigram
// language model: the mean over question terms w of
//
//	log((tf(w, d) + mu*P(w|C)) / (|d| + mu))
//
// where C is the collection of contexts scored together. P(w|C) uses add-one
// smoothing over the collection vocabulary extended with the question terms.
type QueryLikelihoodScorer struct {
	mu         float64
	collection *collectionModel
}

// NewQueryLikelihoodScorer creates a scorer with Dirichlet prior mu.
func NewQueryLikelihoodScorer(mu float64) *QueryLikelihoodScorer {
	if mu <= 0 {
		mu = DefaultSmoothing
	}
	return &QueryLikelihoodScorer{mu: mu}
}

// Prepare binds the collection model to contexts.
func (s *QueryLikelihoodScorer) Prepare(contexts []string) LikelihoodScorer {
	return &QueryLikelihoodScorer{mu: s.mu, collection: newCollectionModel(contexts)}
}

// Score returns the mean smoothed log-likelihood of the question terms. An
// unprepared scorer uses the context itself as the collection.
func (s *QueryLikelihoodScorer) Score(ctx context.Context, question, passage string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	qterms := utils.Terms(question)
	if len(qterms) == 0 {
		return 0, ErrEmptyQuestion
	}
	dterms := utils.Terms(passage)
	if len(dterms) == 0 {
		return 0, ErrEmptyContext
	}
	coll := s.collection
	if coll == nil {
		coll = newCollectionModel([]string{passage})
	}

	tf := make(map[string]int, len(dterms))
	for _, t := range dterms {
		tf[t]++
	}
	vocab := coll.vocabWith(qterms)
	dl := float64(len(dterms))
	sum := 0.0
	for _, w := range qterms {
		pc := float64(coll.cf[w]+1) / float64(coll.total+vocab)
		sum += math.Log((float64(tf[w]) + s.mu*pc) / (dl + s.mu))
	}
	return sum / float64(len(qterms)), nil
}

type collectionModel struct {
	cf    map[string]int
	total int
}

func newCollectionModel(contexts []string) *collectionModel {
	m := &collectionModel{cf: make(map[string]int)}
	for _, c := range contexts {
		for _, t := range utils.Terms(c) {
			m.cf[t]++
			m.total++
		}
	}
	return m
}

// vocabWith returns the collection vocabulary size extended with terms.
func (m *collectionModel) vocabWith(terms []string) int {
	n := len(m.cf)
	extra := make(map[string]struct{})
	for _, t := range terms {
		if _, ok := m.cf[t]; !ok {
			extra[t] = struct{}{}
		}
	}
	return n + len(extra)
}
