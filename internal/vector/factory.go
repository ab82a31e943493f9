package vector

import (
	"context"
	"fmt"

	"github.com/hyperjump/ragchain/internal/config"
)

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeMemory uses in-memory brute-force search. Good for small datasets (<10k vectors).
	IndexTypeMemory IndexType = "memory"
	// IndexTypeFAISS uses FAISS IndexFlatIP. Requires the FAISS library and -tags=faiss.
	IndexTypeFAISS IndexType = "faiss"
	// IndexTypeQdrant stores vectors in a Qdrant collection.
	IndexTypeQdrant IndexType = "qdrant"
)

// New creates the vector index selected by cfg.Type.
func New(ctx context.Context, cfg config.VectorConfig, dimensions int) (VectorIndex, error) {
	switch IndexType(cfg.Type) {
	case IndexTypeMemory, "":
		return NewMemoryIndex(dimensions)
	case IndexTypeFAISS:
		return NewFAISSIndex(dimensions)
	case IndexTypeQdrant:
		return NewQdrantIndex(ctx, cfg.Qdrant, dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, faiss, qdrant)", cfg.Type)
	}
}

// IsFAISSAvailable returns true if FAISS support is compiled in.
func IsFAISSAvailable() bool {
	idx, err := NewFAISSIndex(1)
	if err != nil {
		return false
	}
	_ = idx.Close()
	return true
}
