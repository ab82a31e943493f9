package retrieval

import (
	"context"
	"fmt"
	"testing"

	"github.com/hyperjump/ragchain/internal/embedding"
	"github.com/hyperjump/ragchain/internal/storage"
	"github.com/hyperjump/ragchain/internal/vector"
)

func BenchmarkFuse(b *testing.B) {
	vc := make([]Candidate, 100)
	kc := make([]Candidate, 100)
	for i := range vc {
		vc[i] = Candidate{ID: fmt.Sprintf("p%d", i), Score: float64(100-i) / 100}
		kc[i] = Candidate{ID: fmt.Sprintf("p%d", i+50), Score: float64(i)}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = fuse(vc, kc, 0.5, 0.5)
	}
}

func BenchmarkVectorDBRetrieval_RetrieveWithFilter(b *testing.B) {
	ctx := context.Background()
	store, err := storage.NewSQLiteStore(":memory:", storage.GetPolicyPartial)
	if err != nil {
		b.Fatal(err)
	}
	defer store.Close()
	idx, err := vector.NewMemoryIndex(testDims)
	if err != nil {
		b.Fatal(err)
	}
	r := NewVectorDBRetrieval(embedding.NewHashingEmbedder(testDims), idx, store)
	if _, err := r.Ingest(ctx, searchPassages(500)); err != nil {
		b.Fatal(err)
	}
	pred := ContentContainsAny("number 49")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = r.RetrieveWithFilter(ctx, "This is test number 7", 5, pred)
	}
}
