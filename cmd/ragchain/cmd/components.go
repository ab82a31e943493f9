package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"go.uber.org/zap"

	"github.com/hyperjump/ragchain/internal/config"
	"github.com/hyperjump/ragchain/internal/embedding"
	"github.com/hyperjump/ragchain/internal/ingest"
	"github.com/hyperjump/ragchain/internal/keyword"
	"github.com/hyperjump/ragchain/internal/loader"
	"github.com/hyperjump/ragchain/internal/rerank"
	"github.com/hyperjump/ragchain/internal/retrieval"
	"github.com/hyperjump/ragchain/internal/storage"
	"github.com/hyperjump/ragchain/internal/vector"
)

// Components holds the opened store, indices and services built from a config.
type Components struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     storage.PassageStore
	Embedder  embedding.Embedder
	Vector    vector.VectorIndex
	Keyword   keyword.KeywordIndex
	Retrieval retrieval.Retrieval
	Reranker  *rerank.UPRReranker
	Pipeline  *ingest.Pipeline
}

// Close saves the vector index and closes everything that was opened.
func (c *Components) Close() {
	if c.Vector != nil {
		if path := c.Config.Storage.VectorIndexPath; path != "" {
			if err := c.Vector.Save(path); err != nil {
				c.Logger.Warn("vector index save failed", zap.String("path", path), zap.Error(err))
			}
		}
		_ = c.Vector.Close()
	}
	if c.Keyword != nil {
		_ = c.Keyword.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

func needsVector(mode string) bool {
	return retrieval.Mode(mode) != retrieval.ModeBM25
}

func needsKeyword(mode string) bool {
	m := retrieval.Mode(mode)
	return m == retrieval.ModeBM25 || m == retrieval.ModeHybrid
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (_ *Components, err error) {
	c := &Components{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.Store, err = storage.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if needsVector(cfg.Retrieval.Mode) {
		c.Embedder, err = embedding.New(cfg.Embedding)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		c.Vector, err = vector.New(context.Background(), cfg.Vector, cfg.Embedding.Dimensions)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vector index: %w", err)
		}
		if path := cfg.Storage.VectorIndexPath; path != "" {
			if err := c.Vector.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				logger.Warn("vector index load skipped (re-ingest to rebuild)", zap.String("path", path), zap.Error(err))
			}
		}
		logger.Info("vector index initialized",
			zap.String("type", c.Vector.Type()),
			zap.Int("size", c.Vector.Size()),
			zap.Bool("faiss_available", vector.IsFAISSAvailable()))
	}

	if needsKeyword(cfg.Retrieval.Mode) {
		c.Keyword, err = keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
		}
	}

	opts := append(retrieval.OptionsFromConfig(cfg), retrieval.WithLogger(logger))
	c.Retrieval, err = retrieval.New(cfg.Retrieval, retrieval.Components{
		Embedder: c.Embedder,
		Vector:   c.Vector,
		Keyword:  c.Keyword,
		Store:    c.Store,
	}, opts...)
	if err != nil {
		return nil, err
	}

	if cfg.Rerank.Enabled {
		c.Reranker, err = rerank.New(cfg.Rerank, rerank.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize reranker: %w", err)
		}
	}

	c.Pipeline = ingest.NewPipeline(
		loader.New(cfg.Watch.Extensions...),
		ingest.NewSplitter(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap),
		c.Retrieval,
		c.Store,
		ingest.WithLogger(logger),
	)
	return c, nil
}
