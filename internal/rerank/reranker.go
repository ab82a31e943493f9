// Package rerank reorders retrieved passages by the likelihood of the query
// given each passage.
package rerank

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/ragchain/internal/models"
)

// ErrEmptyQuestion is returned when the question has no content.
var ErrEmptyQuestion = errors.New("question cannot be empty")

// ErrNilPassage marks a nil entry passed to Rerank or RerankResult.
var ErrNilPassage = errors.New("nil passage")

// Reranker reorders contexts by a secondary relevance signal.
type Reranker interface {
	// CalculateLikelihood scores each context against question. Contexts that
	// fail to score are listed in Excluded instead of failing the call.
	CalculateLikelihood(ctx context.Context, question string, contexts []string) (*Likelihood, error)
	// Rerank returns a permutation of passages by descending likelihood.
	Rerank(ctx context.Context, query string, passages []*models.Passage) ([]*models.Passage, error)
}

// Likelihood holds context positions sorted by descending score. Scores[i] is
// the score of contexts[Indexes[i]]; ties keep the input order.
type Likelihood struct {
	Indexes  []int
	Scores   []float64
	Excluded []Exclusion
}

// Exclusion is a context that could not be scored.
type Exclusion struct {
	Index int
	Err   error
}

// ExcludedIndexes returns the positions of excluded contexts in input order.
func (l *Likelihood) ExcludedIndexes() []int {
	out := make([]int, len(l.Excluded))
	for i, e := range l.Excluded {
		out[i] = e.Index
	}
	return out
}

// Response converts l to its API form.
func (l *Likelihood) Response() *models.LikelihoodResponse {
	return &models.LikelihoodResponse{Indexes: l.Indexes, Scores: l.Scores, Excluded: l.ExcludedIndexes()}
}

// UPRReranker ranks contexts by the log-likelihood a scoring model assigns to
// the question given each context.
type UPRReranker struct {
	scorer      LikelihoodScorer
	concurrency int
	timeout     time.Duration
	logger      *zap.Logger
}

// Option configures an UPRReranker.
type Option func(*UPRReranker)

// WithConcurrency bounds the contexts scored in parallel.
func WithConcurrency(n int) Option {
	return func(r *UPRReranker) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithTimeout bounds a whole CalculateLikelihood call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *UPRReranker) { r.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *UPRReranker) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewUPRReranker creates a reranker over scorer.
func NewUPRReranker(scorer LikelihoodScorer, opts ...Option) *UPRReranker {
	r := &UPRReranker{
		scorer:      scorer,
		concurrency: 4,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *UPRReranker) CalculateLikelihood(ctx context.Context, question string, contexts []string) (*Likelihood, error) {
	return r.likelihood(ctx, question, contexts, nil)
}

// likelihood scores contexts. Positions set in invalid are excluded with that
// error instead of being scored.
func (r *UPRReranker) likelihood(ctx context.Context, question string, contexts []string, invalid map[int]error) (*Likelihood, error) {
	if strings.TrimSpace(question) == "" {
		return nil, &ScoringError{Index: -1, Err: ErrEmptyQuestion}
	}
	start := time.Now()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	scorer := r.scorer
	if bs, ok := scorer.(BatchScorer); ok {
		scorer = bs.Prepare(contexts)
	}

	scores := make([]float64, len(contexts))
	errs := make([]error, len(contexts))
	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for i, c := range contexts {
		if err, ok := invalid[i]; ok {
			errs[i] = err
			continue
		}
		g.Go(func() error {
			s, err := scorer.Score(ctx, question, c)
			if err == nil && (math.IsNaN(s) || math.IsInf(s, 0)) {
				err = fmt.Errorf("non-finite score %v", s)
			}
			scores[i], errs[i] = s, err
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		rerankTotal.WithLabelValues(scorerName(r.scorer), "error").Inc()
		return nil, &ScoringError{Index: -1, Err: err, Retryable: errors.Is(err, context.DeadlineExceeded)}
	}

	l := &Likelihood{Indexes: make([]int, 0, len(contexts)), Scores: make([]float64, 0, len(contexts))}
	for i, err := range errs {
		if err != nil {
			l.Excluded = append(l.Excluded, Exclusion{Index: i, Err: &ScoringError{Index: i, Err: err}})
			continue
		}
		l.Indexes = append(l.Indexes, i)
	}
	sort.SliceStable(l.Indexes, func(a, b int) bool { return scores[l.Indexes[a]] > scores[l.Indexes[b]] })
	for _, i := range l.Indexes {
		l.Scores = append(l.Scores, scores[i])
	}

	name := scorerName(r.scorer)
	if len(l.Excluded) > 0 {
		excludedTotal.WithLabelValues(name).Add(float64(len(l.Excluded)))
		r.logger.Warn("Excluded contexts that failed to score",
			zap.String("scorer", name),
			zap.Ints("indexes", l.ExcludedIndexes()),
			zap.Error(l.Excluded[0].Err))
	}
	rerankTotal.WithLabelValues(name, "ok").Inc()
	rerankDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	return l, nil
}

// Rerank orders passages by likelihood. Passages whose context failed to
// score follow the scored ones in their original order.
func (r *UPRReranker) Rerank(ctx context.Context, query string, passages []*models.Passage) ([]*models.Passage, error) {
	contexts := make([]string, len(passages))
	invalid := make(map[int]error)
	for i, p := range passages {
		if p == nil {
			invalid[i] = ErrNilPassage
			continue
		}
		contexts[i] = p.Content
	}
	l, err := r.likelihood(ctx, query, contexts, invalid)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Passage, 0, len(passages))
	for _, i := range l.Indexes {
		out = append(out, passages[i])
	}
	for _, e := range l.Excluded {
		out = append(out, passages[e.Index])
	}
	return out, nil
}

// RerankResult reorders the hits of res in place and replaces their scores with likelihoods.
// Hits that failed to score keep their retrieval score and follow the scored ones.
func (r *UPRReranker) RerankResult(ctx context.Context, query string, res *models.RetrievalResult) error {
	contexts := make([]string, len(res.Hits))
	invalid := make(map[int]error)
	for i, h := range res.Hits {
		if h == nil || h.Passage == nil {
			invalid[i] = ErrNilPassage
			continue
		}
		contexts[i] = h.Passage.Content
	}
	l, err := r.likelihood(ctx, query, contexts, invalid)
	if err != nil {
		return err
	}
	hits := make([]*models.ScoredPassage, 0, len(res.Hits))
	for n, i := range l.Indexes {
		hits = append(hits, &models.ScoredPassage{Passage: res.Hits[i].Passage, Score: l.Scores[n]})
	}
	for _, e := range l.Excluded {
		hits = append(hits, res.Hits[e.Index])
	}
	res.Hits = hits
	return nil
}
