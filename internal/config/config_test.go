package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
rerank:
  timeout: 5s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Rerank.Timeout != 5*time.Second {
		t.Errorf("rerank timeout = %v, want 5s", cfg.Rerank.Timeout)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_envOverride(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
vector:
  type: memory
`)
	t.Setenv("RAGCHAIN_SERVER_PORT", "9100")
	t.Setenv("RAGCHAIN_RETRIEVAL_DEFAULT_TOP_K", "6")
	t.Setenv("RAGCHAIN_VECTOR_QDRANT_COLLECTION", "custom")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want env override 9100", cfg.Server.Port)
	}
	if cfg.Retrieval.DefaultTopK != 6 {
		t.Errorf("default_top_k = %d, want 6", cfg.Retrieval.DefaultTopK)
	}
	if cfg.Vector.Qdrant.Collection != "custom" {
		t.Errorf("qdrant collection = %q, want custom", cfg.Vector.Qdrant.Collection)
	}
}

func TestLoad_rejectsUnknownVariant(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"vector type", "vector:\n  type: annoy\n"},
		{"embedding provider", "embedding:\n  provider: word2vec\n"},
		{"scorer", "rerank:\n  scorer: bm25\n"},
		{"storage driver", "storage:\n  driver: redis\n"},
		{"postgres without dsn", "storage:\n  driver: postgres\n"},
		{"overlap not below size", "ingest:\n  chunk_size: 10\n  chunk_overlap: 10\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Errorf("expected validation error for %s", tt.name)
			}
		})
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./data/db/passages.db"
watch:
  directories: ["./dev/sample"]
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wantDB := filepath.Join(dir, "data", "db", "passages.db")
	if cfg.Storage.DatabasePath != wantDB {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, wantDB)
	}
	if len(cfg.Watch.Directories) != 1 {
		t.Fatalf("watch directories: got %d", len(cfg.Watch.Directories))
	}
	wantWatch := filepath.Join(dir, "dev", "sample")
	if cfg.Watch.Directories[0] != wantWatch {
		t.Errorf("watch directory = %s, want %s", cfg.Watch.Directories[0], wantWatch)
	}
}

func TestLoad_memoryDatabaseUnchanged(t *testing.T) {
	cfg, err := Load(writeConfig(t, "storage:\n  database_path: \":memory:\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.DatabasePath != ":memory:" {
		t.Errorf("database_path = %q, want :memory:", cfg.Storage.DatabasePath)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8080 {
		t.Errorf("default server: got %+v", cfg.Server)
	}
	if cfg.Vector.Type != "memory" || cfg.Embedding.Provider != "hashing" || cfg.Rerank.Scorer != "query_likelihood" {
		t.Errorf("default variants: vector=%s embedding=%s scorer=%s",
			cfg.Vector.Type, cfg.Embedding.Provider, cfg.Rerank.Scorer)
	}
	if cfg.Retrieval.FilterInitialMultiplier != 3 || cfg.Retrieval.FilterMaxCandidates != 1000 {
		t.Errorf("over-fetch defaults: multiplier=%d cap=%d",
			cfg.Retrieval.FilterInitialMultiplier, cfg.Retrieval.FilterMaxCandidates)
	}
	if cfg.Retrieval.VectorWeight != 0.5 || cfg.Retrieval.KeywordWeight != 0.5 {
		t.Errorf("hybrid weights: got %v/%v", cfg.Retrieval.VectorWeight, cfg.Retrieval.KeywordWeight)
	}
	if len(cfg.Watch.Extensions) == 0 || cfg.Watch.Extensions[0] != ".txt" {
		t.Errorf("watch extensions: got %v", cfg.Watch.Extensions)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestApplyDefaults_WatchRecursiveWhenDirectoriesSet(t *testing.T) {
	cfg := &Config{Watch: WatchConfig{Directories: []string{"/tmp/docs"}}}
	ApplyDefaults(cfg)
	if cfg.Watch.Recursive == nil || !*cfg.Watch.Recursive {
		t.Error("recursive should default to true when directories are set")
	}
}

func TestWatchConfig_RecursiveOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		w := &WatchConfig{}
		if got := w.RecursiveOrDefault(); !got {
			t.Errorf("RecursiveOrDefault() = %v, want true", got)
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		w := &WatchConfig{Recursive: &f}
		if got := w.RecursiveOrDefault(); got {
			t.Errorf("RecursiveOrDefault() = %v, want false", got)
		}
	})
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{DatabasePath: "/tmp/db"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
}
