package rerank

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/ragchain/internal/config"
)

// ErrEmptyContext is returned for a context that has no terms.
var ErrEmptyContext = errors.New("context has no scorable content")

// LikelihoodScorer estimates log P(question | context).
type LikelihoodScorer interface {
	Score(ctx context.Context, question, passage string) (float64, error)
}

// BatchScorer is implemented by scorers that use statistics of the whole
// context set. Prepare returns a scorer bound to contexts.
type BatchScorer interface {
	LikelihoodScorer
	Prepare(contexts []string) LikelihoodScorer
}

// ScoringError reports a failure to score one context. Index is -1 when the
// failure concerns the whole call.
type ScoringError struct {
	Index     int
	Err       error
	Retryable bool
}

func (e *ScoringError) Error() string {
	if e.Index < 0 {
		if e.Retryable {
			return fmt.Sprintf("scoring failed (retryable): %v", e.Err)
		}
		return fmt.Sprintf("scoring failed: %v", e.Err)
	}
	return fmt.Sprintf("scoring context %d: %v", e.Index, e.Err)
}

func (e *ScoringError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a retryable scoring failure.
func IsRetryable(err error) bool {
	var se *ScoringError
	return errors.As(err, &se) && se.Retryable
}

// ScorerKind names a likelihood scorer.
type ScorerKind string

const (
	ScorerQueryLikelihood ScorerKind = "query_likelihood"
	ScorerCompletion      ScorerKind = "completion"
	ScorerONNX            ScorerKind = "onnx"
)

// NewScorer builds the scorer selected by cfg.Scorer.
func NewScorer(cfg config.RerankConfig) (LikelihoodScorer, error) {
	switch ScorerKind(cfg.Scorer) {
	case ScorerQueryLikelihood, "":
		return NewQueryLikelihoodScorer(cfg.Smoothing), nil
	case ScorerCompletion:
		return NewCompletionScorer(CompletionOptions{
			BaseURL: cfg.Completion.BaseURL,
			Model:   cfg.Completion.Model,
			APIKey:  cfg.Completion.APIKey,
			Timeout: cfg.Timeout,
		}), nil
	case ScorerONNX:
		return NewONNXScorer(cfg.ONNX.ModelPath, cfg.ONNX.MaxTokens)
	default:
		return nil, fmt.Errorf("unknown rerank scorer: %s (supported: query_likelihood, completion, onnx)", cfg.Scorer)
	}
}

// New builds an UPRReranker over the scorer selected by cfg.
func New(cfg config.RerankConfig, opts ...Option) (*UPRReranker, error) {
	scorer, err := NewScorer(cfg)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithConcurrency(cfg.Concurrency), WithTimeout(cfg.Timeout)}, opts...)
	return NewUPRReranker(scorer, opts...), nil
}

func scorerName(s LikelihoodScorer) string {
	switch s.(type) {
	case *QueryLikelihoodScorer:
		return string(ScorerQueryLikelihood)
	case *CompletionScorer:
		return string(ScorerCompletion)
	case *ONNXScorer:
		return string(ScorerONNX)
	default:
		return "custom"
	}
}
