package retrieval

import (
	"fmt"

	"github.com/hyperjump/ragchain/internal/config"
	"github.com/hyperjump/ragchain/internal/embedding"
	"github.com/hyperjump/ragchain/internal/keyword"
	"github.com/hyperjump/ragchain/internal/storage"
	"github.com/hyperjump/ragchain/internal/vector"
)

// Components are the backends a retrieval is built on. Keyword may be nil for
// vector mode; Embedder and Vector may be nil for bm25 mode.
type Components struct {
	Embedder embedding.Embedder
	Vector   vector.VectorIndex
	Keyword  keyword.KeywordIndex
	Store    storage.PassageStore
}

// New builds the retrieval selected by cfg.Mode.
func New(cfg config.RetrievalConfig, c Components, opts ...Option) (Retrieval, error) {
	if c.Store == nil {
		return nil, fmt.Errorf("retrieval requires a passage store")
	}
	switch Mode(cfg.Mode) {
	case ModeVector, "":
		if c.Embedder == nil || c.Vector == nil {
			return nil, fmt.Errorf("vector retrieval requires an embedder and a vector index")
		}
		return NewVectorDBRetrieval(c.Embedder, c.Vector, c.Store, opts...), nil
	case ModeBM25:
		if c.Keyword == nil {
			return nil, fmt.Errorf("bm25 retrieval requires a keyword index")
		}
		return NewBM25Retrieval(c.Keyword, c.Store, opts...), nil
	case ModeHybrid:
		if c.Embedder == nil || c.Vector == nil || c.Keyword == nil {
			return nil, fmt.Errorf("hybrid retrieval requires an embedder, a vector index and a keyword index")
		}
		v := NewVectorDBRetrieval(c.Embedder, c.Vector, c.Store, opts...)
		k := NewBM25Retrieval(c.Keyword, c.Store, opts...)
		return NewHybridRetrieval(v, k, cfg.VectorWeight, cfg.KeywordWeight, opts...), nil
	default:
		return nil, fmt.Errorf("unknown retrieval mode: %s (supported: vector, bm25, hybrid)", cfg.Mode)
	}
}
