package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/ragchain/internal/config"
	"github.com/hyperjump/ragchain/internal/embedding"
	"github.com/hyperjump/ragchain/internal/ingest"
	"github.com/hyperjump/ragchain/internal/models"
	"github.com/hyperjump/ragchain/internal/rerank"
	"github.com/hyperjump/ragchain/internal/retrieval"
	"github.com/hyperjump/ragchain/internal/storage"
)

type ingestPassagesRequest struct {
	Passages []*models.Passage `json:"passages"`
}

func (s *Server) handleIngestPassages(w http.ResponseWriter, r *http.Request) {
	var req ingestPassagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Passages) == 0 {
		s.respondError(w, http.StatusBadRequest, "passages cannot be empty")
		return
	}
	s.logger.Debug("ingest passages request", zap.Int("passages", len(req.Passages)))
	report, err := s.retrieval.Ingest(r.Context(), req.Passages)
	if report == nil || len(report.Indexed)+len(report.Failed) != len(req.Passages) {
		// the batch was not written
		s.fail(w, "ingest failed", err)
		return
	}
	if err != nil {
		s.logger.Warn("ingest skipped passages", zap.Int("failed", len(report.Failed)), zap.Error(err))
	}
	status := http.StatusCreated
	switch {
	case len(report.Indexed) == 0:
		status = http.StatusUnprocessableEntity
	case len(report.Failed) > 0:
		status = http.StatusMultiStatus
	}
	s.respondJSON(w, status, report)
}

func (s *Server) handleIngestDocument(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		s.respondError(w, http.StatusNotImplemented, "document ingest not enabled")
		return
	}
	var doc models.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if doc.Filepath == "" {
		s.respondError(w, http.StatusBadRequest, "filepath is required")
		return
	}
	s.logger.Debug("ingest document request", zap.String("filepath", doc.Filepath))
	res, err := s.pipeline.IngestDocument(r.Context(), &doc)
	if errors.Is(err, ingest.ErrPartial) {
		s.logger.Warn("document ingest skipped passages", zap.String("filepath", doc.Filepath), zap.Error(err))
		status := http.StatusMultiStatus
		if len(res.Report.Indexed) == 0 {
			status = http.StatusUnprocessableEntity
		}
		s.respondJSON(w, status, res)
		return
	}
	if err != nil {
		s.fail(w, "document ingest failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleGetPassage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	passages, err := s.store.Get(r.Context(), []string{id})
	var nf *storage.NotFoundError
	if err != nil && !errors.As(err, &nf) {
		s.fail(w, "get passage failed", err)
		return
	}
	if len(passages) == 0 {
		s.respondError(w, http.StatusNotFound, "passage not found")
		return
	}
	s.respondJSON(w, http.StatusOK, passages[0])
}

func (s *Server) handleDeletePassage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete passage request", zap.String("id", id))
	if err := s.retrieval.Delete(r.Context(), []string{id}); err != nil {
		s.fail(w, "deletion failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req models.RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(s.cfg.Retrieval.DefaultTopK, s.cfg.Retrieval.MaxTopK); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Rerank && s.reranker == nil {
		s.respondError(w, http.StatusNotImplemented, "rerank not enabled")
		return
	}
	s.logger.Debug("retrieve request",
		zap.String("query", req.Query),
		zap.Int("top_k", req.TopK),
		zap.Bool("filtered", req.HasFilter()),
		zap.Bool("rerank", req.Rerank))

	start := time.Now()
	var (
		res *models.RetrievalResult
		err error
	)
	if pred := retrieval.FromRequest(&req); pred != nil {
		res, err = s.retrieval.RetrieveWithFilter(r.Context(), req.Query, req.TopK, pred)
	} else {
		res, err = s.retrieval.RetrieveWithScores(r.Context(), req.Query, req.TopK)
	}
	if err != nil {
		s.fail(w, "retrieval failed", err)
		return
	}
	if req.Rerank {
		if err := s.reranker.RerankResult(r.Context(), req.Query, res); err != nil {
			s.fail(w, "rerank failed", err)
			return
		}
	}
	s.respondJSON(w, http.StatusOK, &models.RetrieveResponse{
		Query:     req.Query,
		Hits:      res.Hits,
		Stale:     res.Stale,
		Truncated: res.Truncated,
		Reranked:  req.Rerank,
		QueryTime: time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleRerank(w http.ResponseWriter, r *http.Request) {
	if s.reranker == nil {
		s.respondError(w, http.StatusNotImplemented, "rerank not enabled")
		return
	}
	var req models.RerankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for _, p := range req.Passages {
		if p == nil {
			s.respondError(w, http.StatusBadRequest, "passages cannot contain null")
			return
		}
	}
	passages, err := s.reranker.Rerank(r.Context(), req.Query, req.Passages)
	if err != nil {
		s.fail(w, "rerank failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"query": req.Query, "passages": passages})
}

func (s *Server) handleLikelihood(w http.ResponseWriter, r *http.Request) {
	if s.reranker == nil {
		s.respondError(w, http.StatusNotImplemented, "rerank not enabled")
		return
	}
	var req models.LikelihoodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	l, err := s.reranker.CalculateLikelihood(r.Context(), req.Question, req.Contexts)
	if err != nil {
		s.fail(w, "likelihood failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, l.Response())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.Count(r.Context())
	if err != nil {
		s.fail(w, "status: count passages failed", err)
		return
	}
	resp := map[string]interface{}{"passages": count}

	configInfo := map[string]interface{}{}
	if s.index != nil {
		resp["vector_index_size"] = s.index.Size()
		configInfo["vector_index_type"] = s.index.Type()
	}
	if s.cfg != nil {
		configInfo["retrieval_mode"] = s.cfg.Retrieval.Mode
		configInfo["embedding_provider"] = s.cfg.Embedding.Provider
		configInfo["embedding_dimensions"] = s.cfg.Embedding.Dimensions
		configInfo["chunk_size"] = s.cfg.Ingest.ChunkSize
		configInfo["chunk_overlap"] = s.cfg.Ingest.ChunkOverlap
		configInfo["rerank_enabled"] = s.reranker != nil
		configInfo["rerank_scorer"] = s.cfg.Rerank.Scorer
		configInfo["storage_driver"] = s.cfg.Storage.Driver

		if usage, err := storage.MeasureDiskUsage(s.cfg.Storage); err == nil {
			resp["disk_usage"] = usage
		} else {
			s.logger.Warn("Failed to measure disk usage", zap.Error(err))
		}
	}
	resp["config"] = configInfo
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Roots()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	if err := s.watch.AddRoot(abs); err != nil {
		s.fail(w, "watch add directory failed", err)
		return
	}
	if req.Sync == nil || *req.Sync {
		if _, err := s.watch.Sync(r.Context()); err != nil {
			s.logger.Warn("initial sync of watched directory incomplete", zap.String("path", abs), zap.Error(err))
		}
	}
	s.persistWatchRoots()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := s.watch.RemoveRoot(abs); err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.persistWatchRoots()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchRoots() {
	if s.configPath == "" || s.cfg == nil {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.cfg.Watch.Directories = s.watch.Roots()
	if err := config.Save(s.configPath, s.cfg); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

// fail maps err to a status code and writes it.
func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	if err == nil {
		err = errors.New(msg)
	}
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	s.respondError(w, status, err.Error())
}

func statusFor(err error) int {
	var nf *storage.NotFoundError
	switch {
	case errors.Is(err, retrieval.ErrEmptyIndex):
		return http.StatusConflict
	case errors.Is(err, retrieval.ErrInvalidTopK),
		errors.Is(err, embedding.ErrEmptyText),
		errors.Is(err, rerank.ErrEmptyQuestion):
		return http.StatusBadRequest
	case errors.As(err, &nf):
		return http.StatusNotFound
	case retrieval.IsRetryable(err), rerank.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
