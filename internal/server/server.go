// Package server provides the HTTP API for ragchain.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hyperjump/ragchain/internal/config"
	"github.com/hyperjump/ragchain/internal/ingest"
	"github.com/hyperjump/ragchain/internal/models"
	"github.com/hyperjump/ragchain/internal/rerank"
	"github.com/hyperjump/ragchain/internal/retrieval"
	"github.com/hyperjump/ragchain/internal/storage"
	"github.com/hyperjump/ragchain/internal/vector"
	"github.com/hyperjump/ragchain/pkg/utils"
)

// Reranker is the reranking surface the API needs.
type Reranker interface {
	rerank.Reranker
	RerankResult(ctx context.Context, query string, res *models.RetrievalResult) error
}

// WatchService manages watched directories. *watcher.Watcher satisfies it.
type WatchService interface {
	Roots() []string
	AddRoot(dir string) error
	RemoveRoot(dir string) error
	Sync(ctx context.Context) ([]*ingest.FileResult, error)
}

// Server is the HTTP server for the ragchain API.
type Server struct {
	retrieval retrieval.Retrieval
	store     storage.PassageStore
	reranker  Reranker
	pipeline  *ingest.Pipeline
	index     vector.VectorIndex
	watch     WatchService
	cfg       *config.Config
	logger    *zap.Logger
	server    *http.Server

	configPath string
	configMu   sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithReranker enables POST /api/v1/rerank, /api/v1/likelihood and reranked retrieval.
func WithReranker(r Reranker) Option {
	return func(s *Server) { s.reranker = r }
}

// WithPipeline enables POST /api/v1/documents.
func WithPipeline(p *ingest.Pipeline) Option {
	return func(s *Server) { s.pipeline = p }
}

// WithVectorIndex reports the index size and type in /api/v1/status.
func WithVectorIndex(idx vector.VectorIndex) Option {
	return func(s *Server) { s.index = idx }
}

// WithWatch enables the watch directory endpoints. When configPath is set,
// changes to the watched directories are saved to it.
func WithWatch(w WatchService, configPath string) Option {
	return func(s *Server) {
		s.watch = w
		s.configPath = configPath
	}
}

// NewServer creates a server with the given dependencies.
func NewServer(r retrieval.Retrieval, store storage.PassageStore, cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{retrieval: r, store: store, cfg: cfg, logger: utils.OrNop(logger)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/passages", s.handleIngestPassages)
		r.Get("/passages/{id}", s.handleGetPassage)
		r.Delete("/passages/{id}", s.handleDeletePassage)
		r.Post("/documents", s.handleIngestDocument)
		r.Post("/retrieve", s.handleRetrieve)
		r.Post("/rerank", s.handleRerank)
		r.Post("/likelihood", s.handleLikelihood)
		r.Get("/status", s.handleStatus)

		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
	})
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
