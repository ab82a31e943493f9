// Package config provides configuration loading and structs for the ragchain server and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override (e.g. RAGCHAIN_SERVER_PORT).
const EnvPrefix = "RAGCHAIN_"

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug" env:"DEBUG"`
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Storage   StorageConfig   `yaml:"storage" envPrefix:"STORAGE_"`
	Embedding EmbeddingConfig `yaml:"embedding" envPrefix:"EMBEDDING_"`
	Vector    VectorConfig    `yaml:"vector" envPrefix:"VECTOR_"`
	Retrieval RetrievalConfig `yaml:"retrieval" envPrefix:"RETRIEVAL_"`
	Rerank    RerankConfig    `yaml:"rerank" envPrefix:"RERANK_"`
	Ingest    IngestConfig    `yaml:"ingest" envPrefix:"INGEST_"`
	Watch     WatchConfig     `yaml:"watch"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host" env:"HOST"`
	Port int    `yaml:"port" env:"PORT" validate:"min=1,max=65535"`
}

// StorageConfig selects the passage store and the on-disk index paths.
type StorageConfig struct {
	Driver           string `yaml:"driver" env:"DRIVER" validate:"oneof=sqlite postgres"`
	DatabasePath     string `yaml:"database_path" env:"DATABASE_PATH"`
	PostgresDSN      string `yaml:"postgres_dsn" env:"POSTGRES_DSN" validate:"required_if=Driver postgres"`
	KeywordIndexPath string `yaml:"keyword_index_path" env:"KEYWORD_INDEX_PATH"`
	VectorIndexPath  string `yaml:"vector_index_path" env:"VECTOR_INDEX_PATH"`
	// GetPolicy decides what Get does with missing ids: "strict" fails with the
	// missing ids, "partial" returns what was found.
	GetPolicy string `yaml:"get_policy" env:"GET_POLICY" validate:"oneof=strict partial"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider" env:"PROVIDER" validate:"oneof=hashing ollama onnx"`
	Dimensions int           `yaml:"dimensions" env:"DIMENSIONS" validate:"min=1"`
	ModelPath  string        `yaml:"model_path" env:"MODEL_PATH" validate:"required_if=Provider onnx"`
	MaxTokens  int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	CacheSize  int           `yaml:"cache_size" env:"CACHE_SIZE" validate:"min=0"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Ollama     OllamaConfig  `yaml:"ollama" envPrefix:"OLLAMA_"`
}

// OllamaConfig holds settings for the Ollama embedding API.
type OllamaConfig struct {
	BaseURL     string `yaml:"base_url" env:"BASE_URL"`
	Model       string `yaml:"model" env:"MODEL"`
	Concurrency int    `yaml:"concurrency" env:"CONCURRENCY"`
}

// VectorConfig selects the vector index backend.
type VectorConfig struct {
	Type   string       `yaml:"type" env:"TYPE" validate:"oneof=memory faiss qdrant"`
	Qdrant QdrantConfig `yaml:"qdrant" envPrefix:"QDRANT_"`
}

// QdrantConfig holds the Qdrant gRPC connection and collection.
type QdrantConfig struct {
	Host       string `yaml:"host" env:"HOST"`
	Port       int    `yaml:"port" env:"PORT"`
	Collection string `yaml:"collection" env:"COLLECTION"`
	APIKey     string `yaml:"api_key" env:"API_KEY"`
	UseTLS     bool   `yaml:"use_tls" env:"USE_TLS"`
}

// RetrievalConfig holds query-time retrieval settings.
type RetrievalConfig struct {
	// Mode is the retrieval strategy used by the server and CLI.
	Mode        string `yaml:"mode" env:"MODE" validate:"oneof=vector bm25 hybrid"`
	DefaultTopK int    `yaml:"default_top_k" env:"DEFAULT_TOP_K" validate:"min=1"`
	MaxTopK     int    `yaml:"max_top_k" env:"MAX_TOP_K" validate:"gtefield=DefaultTopK"`
	// Concurrency bounds parallel embedding calls during ingest.
	Concurrency int `yaml:"concurrency" env:"CONCURRENCY" validate:"min=1"`
	// FilterInitialMultiplier sets the first over-fetch window to multiplier*top_k.
	FilterInitialMultiplier int `yaml:"filter_initial_multiplier" env:"FILTER_INITIAL_MULTIPLIER" validate:"min=1"`
	// FilterMaxCandidates caps the candidates examined by one filtered retrieval.
	FilterMaxCandidates int     `yaml:"filter_max_candidates" env:"FILTER_MAX_CANDIDATES" validate:"min=1"`
	VectorWeight        float64 `yaml:"vector_weight" env:"VECTOR_WEIGHT" validate:"min=0"`
	KeywordWeight       float64 `yaml:"keyword_weight" env:"KEYWORD_WEIGHT" validate:"min=0"`
}

// RerankConfig selects the likelihood scorer used by the reranker.
type RerankConfig struct {
	Enabled     bool          `yaml:"enabled" env:"ENABLED"`
	Scorer      string        `yaml:"scorer" env:"SCORER" validate:"oneof=query_likelihood completion onnx"`
	Concurrency int           `yaml:"concurrency" env:"CONCURRENCY" validate:"min=1"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// Smoothing is the Dirichlet prior of the query_likelihood scorer.
	Smoothing  float64          `yaml:"smoothing" env:"SMOOTHING" validate:"gt=0"`
	Completion CompletionConfig `yaml:"completion" envPrefix:"COMPLETION_"`
	ONNX       ONNXScorerConfig `yaml:"onnx" envPrefix:"ONNX_"`
}

// CompletionConfig points at an OpenAI-compatible completions endpoint that can echo
// prompt log-probabilities.
type CompletionConfig struct {
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	Model   string `yaml:"model" env:"MODEL"`
	APIKey  string `yaml:"api_key" env:"API_KEY"`
}

// ONNXScorerConfig holds the relevance model used by the onnx scorer.
type ONNXScorerConfig struct {
	ModelPath string `yaml:"model_path" env:"MODEL_PATH"`
	MaxTokens int    `yaml:"max_tokens" env:"MAX_TOKENS"`
}

// IngestConfig holds passage splitting settings (in words).
type IngestConfig struct {
	ChunkSize    int `yaml:"chunk_size" env:"CHUNK_SIZE" validate:"min=1"`
	ChunkOverlap int `yaml:"chunk_overlap" env:"CHUNK_OVERLAP" validate:"min=0,ltfield=ChunkSize"`
}

// Load reads the config file at path, applies a .env file and RAGCHAIN_* environment
// overrides, expands paths, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// .env is optional
	_ = godotenv.Load()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	if cfg.Rerank.ONNX.ModelPath != "" {
		cfg.Rerank.ONNX.ModelPath = expandPath(cfg.Rerank.ONNX.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated options and numeric ranges.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
