// Package keyword provides BM25 keyword indexing and search over passages.
package keyword

import (
	"context"

	"github.com/hyperjump/ragchain/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// PhraseBoost multiplies the score of passages containing the query as a phrase.
	// Use 1.0 for no boost.
	PhraseBoost float64
	// FuzzyEnabled matches terms within Fuzziness edits for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance (1 or 2, default 2).
	Fuzziness int
}

// KeywordIndex defines keyword search operations over passages.
type KeywordIndex interface {
	Index(ctx context.Context, passages []*models.Passage) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, ids []string) error
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	ID    string
	Score float64
}
