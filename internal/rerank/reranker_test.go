package rerank

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/ragchain/internal/config"
	"github.com/hyperjump/ragchain/internal/models"
)

var girlGroupContexts = []string{
	"The ironman in the Marvel movie once fought with Captain America.",
	"New Jeans is the most popular girl group in South Korea.",
	"Pizza is Italian food. It is made of flour, tomato sauce, and cheese.",
}

const girlGroupQuestion = "Who is the most popular girl group in South Korea?"

func TestUPRReranker_CalculateLikelihood(t *testing.T) {
	r := NewUPRReranker(NewQueryLikelihoodScorer(DefaultSmoothing))

	l, err := r.CalculateLikelihood(context.Background(), girlGroupQuestion, girlGroupContexts)
	require.NoError(t, err)
	require.Len(t, l.Indexes, 3)
	require.Len(t, l.Scores, 3)
	assert.Equal(t, 1, l.Indexes[0])
	assert.Greater(t, l.Scores[0], l.Scores[1])
	assert.Greater(t, l.Scores[1], l.Scores[2])
	assert.Empty(t, l.Excluded)
}

// fixedScorer returns preset scores keyed by context, or an error for contexts in fail.
type fixedScorer struct {
	scores map[string]float64
	fail   map[string]bool
	delay  time.Duration
}

func (s *fixedScorer) Score(ctx context.Context, question, passage string) (float64, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if s.fail[passage] {
		return 0, fmt.Errorf("malformed context %q", passage)
	}
	return s.scores[passage], nil
}

func passagesOf(contents ...string) []*models.Passage {
	out := make([]*models.Passage, len(contents))
	for i, c := range contents {
		out[i] = &models.Passage{ID: fmt.Sprintf("p%d", i), Content: c}
	}
	return out
}

func TestUPRReranker_Rerank(t *testing.T) {
	scorer := &fixedScorer{scores: map[string]float64{"a": -3, "b": -1, "c": -2, "d": -1}}
	r := NewUPRReranker(scorer, WithConcurrency(2))
	in := passagesOf("a", "b", "c", "d")

	out, err := r.Rerank(context.Background(), "q", in)
	require.NoError(t, err)
	// b and d tie; input order breaks the tie
	assert.Equal(t, []string{"p1", "p3", "p2", "p0"}, models.PassageIDs(out))
	assert.ElementsMatch(t, models.PassageIDs(in), models.PassageIDs(out))
}

func TestUPRReranker_ExcludesFailedContexts(t *testing.T) {
	scorer := &fixedScorer{
		scores: map[string]float64{"a": -3, "c": -1},
		fail:   map[string]bool{"b": true, "d": true},
	}
	r := NewUPRReranker(scorer)

	l, err := r.CalculateLikelihood(context.Background(), "q", []string{"a", "b", "c", "d"})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0}, l.Indexes)
	assert.Equal(t, []float64{-1, -3}, l.Scores)
	assert.Equal(t, []int{1, 3}, l.ExcludedIndexes())
	var se *ScoringError
	require.ErrorAs(t, l.Excluded[0].Err, &se)
	assert.Equal(t, 1, se.Index)
	assert.False(t, se.Retryable)

	out, err := r.Rerank(context.Background(), "q", passagesOf("a", "b", "c", "d"))
	require.NoError(t, err)
	assert.Equal(t, []string{"p2", "p0", "p1", "p3"}, models.PassageIDs(out))
}

func TestUPRReranker_AllContextsFail(t *testing.T) {
	r := NewUPRReranker(NewQueryLikelihoodScorer(0))
	in := passagesOf("   ", "!!!")

	out, err := r.Rerank(context.Background(), "question", in)
	require.NoError(t, err)
	assert.Equal(t, models.PassageIDs(in), models.PassageIDs(out))
}

func TestUPRReranker_EmptyQuestion(t *testing.T) {
	r := NewUPRReranker(NewQueryLikelihoodScorer(0))
	_, err := r.CalculateLikelihood(context.Background(), "  ", girlGroupContexts)
	assert.ErrorIs(t, err, ErrEmptyQuestion)
	assert.False(t, IsRetryable(err))
}

func TestUPRReranker_TimeoutIsRetryable(t *testing.T) {
	scorer := &fixedScorer{delay: time.Second}
	r := NewUPRReranker(scorer, WithTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := r.Rerank(context.Background(), "q", passagesOf("a", "b"))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUPRReranker_RerankResult(t *testing.T) {
	scorer := &fixedScorer{scores: map[string]float64{"a": -3, "b": -1}, fail: map[string]bool{"c": true}}
	r := NewUPRReranker(scorer)
	res := &models.RetrievalResult{Hits: []*models.ScoredPassage{
		{Passage: &models.Passage{ID: "p0", Content: "a"}, Score: 0.9},
		{Passage: &models.Passage{ID: "p1", Content: "b"}, Score: 0.8},
		{Passage: &models.Passage{ID: "p2", Content: "c"}, Score: 0.7},
	}}

	require.NoError(t, r.RerankResult(context.Background(), "q", res))
	assert.Equal(t, []string{"p1", "p0", "p2"}, res.IDs())
	assert.Equal(t, []float64{-1, -3, 0.7}, res.Scores())
}

func TestQueryLikelihoodScorer(t *testing.T) {
	s := NewQueryLikelihoodScorer(DefaultSmoothing)
	ctx := context.Background()

	related, err := s.Score(ctx, girlGroupQuestion, girlGroupContexts[1])
	require.NoError(t, err)
	unrelated, err := s.Score(ctx, girlGroupQuestion, girlGroupContexts[2])
	require.NoError(t, err)
	assert.Greater(t, related, unrelated)
	assert.Less(t, related, 0.0)

	_, err = s.Score(ctx, girlGroupQuestion, " ... ")
	assert.ErrorIs(t, err, ErrEmptyContext)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Score(cancelled, girlGroupQuestion, girlGroupContexts[1])
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNew(t *testing.T) {
	r, err := New(config.RerankConfig{Scorer: "query_likelihood", Concurrency: 2, Smoothing: 5})
	require.NoError(t, err)
	assert.IsType(t, &QueryLikelihoodScorer{}, r.scorer)
	assert.Equal(t, 2, r.concurrency)

	r, err = New(config.RerankConfig{Scorer: "completion", Completion: config.CompletionConfig{BaseURL: "http://x/v1"}})
	require.NoError(t, err)
	assert.IsType(t, &CompletionScorer{}, r.scorer)

	_, err = New(config.RerankConfig{Scorer: "oracle"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unknown rerank scorer"))
}

func TestUPRReranker_NilEntriesAreExcluded(t *testing.T) {
	scorer := &fixedScorer{scores: map[string]float64{"a": -3, "b": -1}}
	r := NewUPRReranker(scorer)
	ctx := context.Background()

	in := passagesOf("a", "b")
	in = []*models.Passage{in[0], nil, in[1]}
	out, err := r.Rerank(ctx, "q", in)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "p1", out[0].ID)
	assert.Equal(t, "p0", out[1].ID)
	assert.Nil(t, out[2])

	res := &models.RetrievalResult{Hits: []*models.ScoredPassage{
		{Passage: &models.Passage{ID: "p0", Content: "a"}, Score: 0.9},
		nil,
		{Passage: nil, Score: 0.5},
		{Passage: &models.Passage{ID: "p1", Content: "b"}, Score: 0.4},
	}}
	require.NoError(t, r.RerankResult(ctx, "q", res))
	require.Len(t, res.Hits, 4)
	assert.Equal(t, "p1", res.Hits[0].Passage.ID)
	assert.Equal(t, "p0", res.Hits[1].Passage.ID)
	assert.Nil(t, res.Hits[2])
	assert.Nil(t, res.Hits[3].Passage)
}
