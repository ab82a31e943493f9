package config

import "time"

const dataRoot = "/usr/local/var/ragchain/data"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = dataRoot + "/db/passages.db"
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = dataRoot + "/indices/bleve"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = dataRoot + "/indices/vectors"
	}
	if cfg.Storage.GetPolicy == "" {
		cfg.Storage.GetPolicy = "partial"
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "hashing"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Embedding.Ollama.BaseURL == "" {
		cfg.Embedding.Ollama.BaseURL = "http://localhost:11434"
	}
	if cfg.Embedding.Ollama.Model == "" {
		cfg.Embedding.Ollama.Model = "nomic-embed-text"
	}
	if cfg.Embedding.Ollama.Concurrency == 0 {
		cfg.Embedding.Ollama.Concurrency = 4
	}

	if cfg.Vector.Type == "" {
		cfg.Vector.Type = "memory"
	}
	if cfg.Vector.Qdrant.Host == "" {
		cfg.Vector.Qdrant.Host = "localhost"
	}
	if cfg.Vector.Qdrant.Port == 0 {
		cfg.Vector.Qdrant.Port = 6334
	}
	if cfg.Vector.Qdrant.Collection == "" {
		cfg.Vector.Qdrant.Collection = "ragchain_passages"
	}

	if cfg.Retrieval.Mode == "" {
		cfg.Retrieval.Mode = "vector"
	}
	if cfg.Retrieval.DefaultTopK == 0 {
		cfg.Retrieval.DefaultTopK = 4
	}
	if cfg.Retrieval.MaxTopK == 0 {
		cfg.Retrieval.MaxTopK = 100
	}
	if cfg.Retrieval.Concurrency == 0 {
		cfg.Retrieval.Concurrency = 4
	}
	if cfg.Retrieval.FilterInitialMultiplier == 0 {
		cfg.Retrieval.FilterInitialMultiplier = 3
	}
	if cfg.Retrieval.FilterMaxCandidates == 0 {
		cfg.Retrieval.FilterMaxCandidates = 1000
	}
	if cfg.Retrieval.VectorWeight == 0 && cfg.Retrieval.KeywordWeight == 0 {
		cfg.Retrieval.VectorWeight = 0.5
		cfg.Retrieval.KeywordWeight = 0.5
	}

	if cfg.Rerank.Scorer == "" {
		cfg.Rerank.Scorer = "query_likelihood"
	}
	if cfg.Rerank.Concurrency == 0 {
		cfg.Rerank.Concurrency = 4
	}
	if cfg.Rerank.Timeout == 0 {
		cfg.Rerank.Timeout = 30 * time.Second
	}
	if cfg.Rerank.Smoothing == 0 {
		cfg.Rerank.Smoothing = 10
	}
	if cfg.Rerank.Completion.BaseURL == "" {
		cfg.Rerank.Completion.BaseURL = "http://localhost:8000/v1"
	}
	if cfg.Rerank.ONNX.MaxTokens == 0 {
		cfg.Rerank.ONNX.MaxTokens = 512
	}

	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 500
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = 50
	}

	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".rst", ".pdf", ".docx", ".xlsx", ".pptx", ".odt", ".rtf"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
