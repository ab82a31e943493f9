package vector

import (
	"context"
	"testing"

	"github.com/hyperjump/ragchain/internal/config"
)

func TestNew_Memory(t *testing.T) {
	idx, err := New(context.Background(), config.VectorConfig{Type: "memory"}, 3)
	if err != nil {
		t.Fatalf("New(memory): %v", err)
	}
	defer idx.Close()

	err = idx.Upsert(context.Background(), []string{"a"}, [][]float32{{1, 0, 0}})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if idx.Size() != 1 {
		t.Errorf("Size=%d, want 1", idx.Size())
	}
	if idx.Type() != "memory" {
		t.Errorf("Type=%s", idx.Type())
	}
}

func TestNew_Empty(t *testing.T) {
	idx, err := New(context.Background(), config.VectorConfig{}, 3)
	if err != nil {
		t.Fatalf("New(''): %v", err)
	}
	defer idx.Close()
	if idx.Size() != 0 {
		t.Errorf("Size=%d, want 0", idx.Size())
	}
}

func TestNew_Unknown(t *testing.T) {
	if _, err := New(context.Background(), config.VectorConfig{Type: "annoy"}, 3); err == nil {
		t.Error("expected error for unknown index type")
	}
}

func TestNew_InvalidDimension(t *testing.T) {
	if _, err := New(context.Background(), config.VectorConfig{Type: "memory"}, 0); err == nil {
		t.Error("expected error for zero dimension")
	}
}

func TestNew_FAISS(t *testing.T) {
	if !IsFAISSAvailable() {
		t.Skip("FAISS not available (build with -tags=faiss)")
	}
	idx, err := New(context.Background(), config.VectorConfig{Type: "faiss"}, 2)
	if err != nil {
		t.Fatalf("New(faiss): %v", err)
	}
	defer idx.Close()
	ctx := context.Background()
	_ = idx.Upsert(ctx, []string{"a", "b"}, [][]float32{{1, 0}, {0, 1}})
	_ = idx.Upsert(ctx, []string{"a"}, [][]float32{{0, 1}})
	if idx.Size() != 2 {
		t.Errorf("Size=%d, want 2", idx.Size())
	}
	results, err := idx.Search(ctx, []float32{0, 1}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].ID != "a" {
		t.Errorf("replaced vector should tie and win by insertion order: %+v", results)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float32{2, 0}, []float32{5, 0}); got < 0.9999 {
		t.Errorf("parallel vectors: %v", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{-1, 0}); got > -0.9999 {
		t.Errorf("opposite vectors: %v", got)
	}
	if got := CosineSimilarity([]float32{0, 0}, []float32{1, 0}); got != 0 {
		t.Errorf("zero vector: %v", got)
	}
}
