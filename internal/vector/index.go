// Package vector stores passage embeddings and answers cosine similarity queries.
package vector

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrEmptyIndex is returned by Search when the index holds no vectors.
var ErrEmptyIndex = errors.New("vector index is empty")

// VectorIndex maps passage ids to vectors. Upsert replaces the vector of an
// existing id and keeps its original insertion position, which breaks score ties
// in Search.
type VectorIndex interface {
	Upsert(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []string) error
	Save(path string) error
	Load(path string) error
	Size() int
	Type() string
	Close() error
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	ID    string
	Score float64 // cosine similarity in [-1, 1]
}

// DimensionError reports a vector whose length differs from the index dimension.
type DimensionError struct {
	Got, Want int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: got %d, expected %d", e.Got, e.Want)
}

func checkBatch(ids []string, vectors [][]float32, dimensions int) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d ids, %d vectors", len(ids), len(vectors))
	}
	for i, vec := range vectors {
		if ids[i] == "" {
			return fmt.Errorf("vector %d has an empty id", i)
		}
		if len(vec) != dimensions {
			return &DimensionError{Got: len(vec), Want: dimensions}
		}
	}
	return nil
}

// ranked is a search candidate with the insertion sequence used for tie breaking.
type ranked struct {
	id    string
	seq   int64
	score float64
}

// topK sorts candidates by descending score, then ascending seq, and keeps the first k.
func topK(cands []ranked, k int) []*VectorResult {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].seq < cands[j].seq
	})
	if k > len(cands) {
		k = len(cands)
	}
	out := make([]*VectorResult, k)
	for i := 0; i < k; i++ {
		out[i] = &VectorResult{ID: cands[i].id, Score: cands[i].score}
	}
	return out
}
