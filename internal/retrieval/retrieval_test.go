package retrieval

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hyperjump/ragchain/internal/config"
	"github.com/hyperjump/ragchain/internal/embedding"
	"github.com/hyperjump/ragchain/internal/keyword"
	"github.com/hyperjump/ragchain/internal/models"
	"github.com/hyperjump/ragchain/internal/storage"
	"github.com/hyperjump/ragchain/internal/vector"
)

const testDims = 64

var testPassages = []*models.Passage{
	{ID: "visconde-1", Content: "Visconde is a question answering structure over large documents", Filepath: "visconde.txt"},
	{ID: "visconde-2", Content: "The visconde structure has three steps: decompose, retrieve and aggregate", Filepath: "visconde.txt"},
	{ID: "visconde-3", Content: "Each retrieved passage is read by a language model", Filepath: "visconde.txt"},
	{ID: "jeans-1", Content: "New Jeans is a South Korean girl group formed by ADOR", Filepath: "jeans.txt"},
	{ID: "jeans-2", Content: "Their debut single Attention topped several charts", Filepath: "jeans.txt"},
	{ID: "weather-1", Content: "Tomorrow the weather will be sunny with light wind", Filepath: "weather.txt"},
	{ID: "cook-1", Content: "Boil the pasta for nine minutes and drain it", Filepath: "cook.txt"},
	{ID: "cook-2", Content: "Add the tomato sauce and stir gently", Filepath: "cook.txt"},
	{ID: "space-1", Content: "The spacecraft entered orbit around Jupiter last year", Filepath: "space.txt"},
	{ID: "space-2", Content: "Saturn has the most known moons of any planet", Filepath: "space.txt"},
}

func searchPassages(n int) []*models.Passage {
	out := make([]*models.Passage, n)
	for i := range out {
		num := i + 1
		out[i] = &models.Passage{
			ID:       fmt.Sprintf("test_id_%d_search", num),
			Content:  fmt.Sprintf("This is test number %d", num),
			Filepath: "search.txt",
		}
	}
	return out
}

type fixture struct {
	store storage.PassageStore
	index *countingIndex
	r     *VectorDBRetrieval
}

// countingIndex records how many searches reach the underlying index.
type countingIndex struct {
	vector.VectorIndex
	searches int
}

func (c *countingIndex) Search(ctx context.Context, query []float32, k int) ([]*vector.VectorResult, error) {
	c.searches++
	return c.VectorIndex.Search(ctx, query, k)
}

func newFixture(t *testing.T, policy storage.GetPolicy, opts ...Option) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:", policy)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	mem, err := vector.NewMemoryIndex(testDims)
	require.NoError(t, err)
	idx := &countingIndex{VectorIndex: mem}
	return &fixture{
		store: store,
		index: idx,
		r:     NewVectorDBRetrieval(embedding.NewHashingEmbedder(testDims), idx, store, opts...),
	}
}

func (f *fixture) ingest(t *testing.T, passages []*models.Passage) {
	t.Helper()
	report, err := f.r.Ingest(context.Background(), passages)
	require.NoError(t, err)
	require.Len(t, report.Indexed, len(passages))
}

func assertNonIncreasing(t *testing.T, scores []float64) {
	t.Helper()
	assert.True(t, sort.SliceIsSorted(scores, func(i, j int) bool { return scores[i] > scores[j] }),
		"scores not in descending order: %v", scores)
}

func TestVectorDBRetrieval_Retrieve(t *testing.T) {
	f := newFixture(t, storage.GetPolicyPartial)
	f.ingest(t, testPassages)
	ctx := context.Background()
	const query = "What is visconde structure?"
	const topK = 6

	ids, err := f.r.RetrieveID(ctx, query, topK)
	require.NoError(t, err)
	require.Len(t, ids, topK)
	unique := map[string]bool{}
	for _, id := range ids {
		unique[id] = true
	}
	assert.Len(t, unique, topK)

	passages, err := f.r.Retrieve(ctx, query, topK)
	require.NoError(t, err)
	require.Len(t, passages, topK)
	assert.Equal(t, ids, models.PassageIDs(passages))
	assert.Contains(t, []string{"visconde-1", "visconde-2"}, passages[0].ID)

	ids2, scores, err := f.r.RetrieveIDWithScores(ctx, query, topK)
	require.NoError(t, err)
	assert.Equal(t, ids, ids2)
	require.Len(t, scores, len(ids2))
	assertNonIncreasing(t, scores)
}

func TestVectorDBRetrieval_TopKExceedsIndex(t *testing.T) {
	f := newFixture(t, storage.GetPolicyPartial)
	f.ingest(t, testPassages[:3])

	ids, err := f.r.RetrieveID(context.Background(), "visconde", 10)
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}

func TestVectorDBRetrieval_EmptyIndex(t *testing.T) {
	f := newFixture(t, storage.GetPolicyPartial)

	_, err := f.r.RetrieveID(context.Background(), "anything", 3)
	assert.ErrorIs(t, err, ErrEmptyIndex)
}

func TestVectorDBRetrieval_InvalidTopK(t *testing.T) {
	f := newFixture(t, storage.GetPolicyPartial)
	f.ingest(t, testPassages)

	_, err := f.r.RetrieveID(context.Background(), "visconde", 0)
	assert.ErrorIs(t, err, ErrInvalidTopK)
}

func TestVectorDBRetrieval_Deterministic(t *testing.T) {
	f := newFixture(t, storage.GetPolicyPartial)
	f.ingest(t, testPassages)
	ctx := context.Background()

	first, firstScores, err := f.r.RetrieveIDWithScores(ctx, "girl group debut", 5)
	require.NoError(t, err)
	second, secondScores, err := f.r.RetrieveIDWithScores(ctx, "girl group debut", 5)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, firstScores, secondScores)
}

func TestVectorDBRetrieval_ReingestIsIdempotent(t *testing.T) {
	f := newFixture(t, storage.GetPolicyPartial)
	f.ingest(t, testPassages)
	ctx := context.Background()
	before, beforeScores, err := f.r.RetrieveIDWithScores(ctx, "pasta sauce", 4)
	require.NoError(t, err)

	f.ingest(t, testPassages)
	count, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, len(testPassages), count)

	after, afterScores, err := f.r.RetrieveIDWithScores(ctx, "pasta sauce", 4)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, beforeScores, afterScores)
}

func TestVectorDBRetrieval_IngestSkipsFailedItems(t *testing.T) {
	f := newFixture(t, storage.GetPolicyPartial)
	batch := []*models.Passage{
		testPassages[0],
		{ID: "blank", Content: "   "},
		{ID: "", Content: "no id"},
		testPassages[1],
	}

	report, err := f.r.Ingest(context.Background(), batch)
	require.Error(t, err)
	assert.ErrorIs(t, err, embedding.ErrEmptyText)
	assert.Equal(t, []string{"visconde-1", "visconde-2"}, report.Indexed)
	require.Len(t, report.Failed, 2)
	assert.Equal(t, "blank", report.Failed[0].ID)
	assert.Equal(t, "", report.Failed[1].ID)
	assert.Equal(t, 2, f.index.Size())
}

func TestVectorDBRetrieval_RetrieveWithFilter(t *testing.T) {
	f := newFixture(t, storage.GetPolicyPartial)
	f.ingest(t, testPassages)
	f.ingest(t, searchPassages(10))
	ctx := context.Background()

	// "This is test number 1" is contained in test number 10 as well.
	res, err := f.r.RetrieveWithFilter(ctx, "What is visconde structure?", 6,
		ContentContainsAny("This is test number 1", "This is test number 3"))
	require.NoError(t, err)
	ids := res.IDs()
	assert.Len(t, ids, 3)
	assert.ElementsMatch(t, []string{"test_id_1_search", "test_id_3_search", "test_id_10_search"}, ids)
	assertNonIncreasing(t, res.Scores())
}

func TestVectorDBRetrieval_FilterReturnsTopKWhenEnoughMatch(t *testing.T) {
	f := newFixture(t, storage.GetPolicyPartial)
	f.ingest(t, testPassages)
	f.ingest(t, searchPassages(20))

	// Every search passage matches, but the query favors the unrelated ones.
	pred := ContentContainsAll("test number")
	for _, topK := range []int{1, 5, 20} {
		res, err := f.r.RetrieveWithFilter(context.Background(), "visconde structure steps", topK, pred)
		require.NoError(t, err)
		require.Len(t, res.Hits, topK)
		for _, h := range res.Hits {
			assert.True(t, pred(h.Passage))
		}
	}
}

func TestVectorDBRetrieval_FilterStopsWhenExhausted(t *testing.T) {
	f := newFixture(t, storage.GetPolicyPartial)
	f.ingest(t, testPassages)

	res, err := f.r.RetrieveWithFilter(context.Background(), "anything", 2, ContentIn("not stored"))
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	// 6 candidates, then a 12 window that returns all 10
	assert.Equal(t, 2, f.index.searches)
	assert.Equal(t, len(testPassages), res.Examined)
}

func TestVectorDBRetrieval_FilterCandidateCap(t *testing.T) {
	f := newFixture(t, storage.GetPolicyPartial, WithFilterPolicy(3, 4))
	f.ingest(t, testPassages)

	res, err := f.r.RetrieveWithFilter(context.Background(), "anything", 2, ContentIn("not stored"))
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.Equal(t, 1, f.index.searches)
	assert.Equal(t, 4, res.Examined)
	assert.True(t, res.Truncated)
}

func TestVectorDBRetrieval_FilterCapIsReported(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	f := newFixture(t, storage.GetPolicyPartial, WithFilterPolicy(1, 4), WithLogger(zap.New(core)))
	passages := searchPassages(20)
	passages[17].Content = "a rare passage"
	passages[18].Content = "another rare passage"
	f.ingest(t, passages)

	res, err := f.r.RetrieveWithFilter(context.Background(), "This is test number 3", 2, ContentContainsAny("rare"))
	require.NoError(t, err)
	assert.Less(t, len(res.Hits), 2)
	assert.Equal(t, 4, res.Examined)
	assert.True(t, res.Truncated)

	entries := logs.FilterMessage("Candidate cap reached before topK matches").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, string(ModeVector), fields["mode"])
	assert.EqualValues(t, 2, fields["top_k"])
	assert.EqualValues(t, 4, fields["examined"])
}

func TestVectorDBRetrieval_FilterExhaustedIsNotTruncated(t *testing.T) {
	f := newFixture(t, storage.GetPolicyPartial, WithFilterPolicy(3, 20))
	f.ingest(t, testPassages)

	res, err := f.r.RetrieveWithFilter(context.Background(), "anything", 2, ContentIn("not stored"))
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.False(t, res.Truncated)
}

func TestVectorDBRetrieval_SkipsStaleIDs(t *testing.T) {
	for _, policy := range []storage.GetPolicy{storage.GetPolicyPartial, storage.GetPolicyStrict} {
		t.Run(string(policy), func(t *testing.T) {
			f := newFixture(t, policy)
			f.ingest(t, testPassages)
			ctx := context.Background()

			top, err := f.r.RetrieveID(ctx, "visconde structure", 1)
			require.NoError(t, err)
			// Remove the best hit from the store only.
			require.NoError(t, f.store.Delete(ctx, top))

			res, err := f.r.RetrieveWithScores(ctx, "visconde structure", 3)
			require.NoError(t, err)
			assert.Len(t, res.Hits, 3)
			assert.NotContains(t, res.IDs(), top[0])
			assert.Equal(t, top, res.Stale)

			var ce *IndexConsistencyError
			require.ErrorAs(t, ConsistencyError(res), &ce)
			assert.Equal(t, top, ce.IDs)
		})
	}
}

func TestVectorDBRetrieval_Delete(t *testing.T) {
	f := newFixture(t, storage.GetPolicyPartial)
	f.ingest(t, testPassages)
	ctx := context.Background()

	require.NoError(t, f.r.Delete(ctx, []string{"visconde-1", "visconde-2"}))
	ids, err := f.r.RetrieveID(ctx, "visconde structure", len(testPassages))
	require.NoError(t, err)
	assert.Len(t, ids, len(testPassages)-2)
	assert.NotContains(t, ids, "visconde-1")
	assert.NotContains(t, ids, "visconde-2")
}

// blockingEmbedder waits for the context to end.
type blockingEmbedder struct{ embedding.Embedder }

func (blockingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestVectorDBRetrieval_EmbedTimeoutIsRetryable(t *testing.T) {
	f := newFixture(t, storage.GetPolicyPartial)
	f.ingest(t, testPassages)

	slow := NewVectorDBRetrieval(blockingEmbedder{embedding.NewHashingEmbedder(testDims)}, f.index, f.store,
		WithEmbedTimeout(20*time.Millisecond))
	_, err := slow.RetrieveID(context.Background(), "visconde", 3)
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(&embedding.EmbeddingError{Err: embedding.ErrEmptyText}))
	assert.True(t, IsRetryable(&embedding.EmbeddingError{Err: fmt.Errorf("reset"), Retryable: true}))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
}

func newBM25(t *testing.T) (*BM25Retrieval, storage.PassageStore, *keyword.BleveIndex) {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:", storage.GetPolicyPartial)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	idx, err := keyword.NewBleveIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return NewBM25Retrieval(idx, store), store, idx
}

func TestBM25Retrieval(t *testing.T) {
	r, _, _ := newBM25(t)
	ctx := context.Background()

	_, err := r.RetrieveID(ctx, "visconde", 3)
	assert.ErrorIs(t, err, ErrEmptyIndex)

	report, err := r.Ingest(ctx, testPassages)
	require.NoError(t, err)
	assert.Len(t, report.Indexed, len(testPassages))

	ids, scores, err := r.RetrieveIDWithScores(ctx, "visconde structure", 3)
	require.NoError(t, err)
	require.NotEmpty(t, ids)
	assert.Contains(t, []string{"visconde-1", "visconde-2"}, ids[0])
	assertNonIncreasing(t, scores)

	res, err := r.RetrieveWithFilter(ctx, "visconde", 5, FilepathIn("visconde.txt"))
	require.NoError(t, err)
	for _, h := range res.Hits {
		assert.Equal(t, "visconde.txt", h.Passage.Filepath)
	}

	require.NoError(t, r.Delete(ctx, []string{"visconde-2"}))
	ids, err = r.RetrieveID(ctx, "visconde structure", 3)
	require.NoError(t, err)
	assert.NotContains(t, ids, "visconde-2")
}

func TestHybridRetrieval(t *testing.T) {
	f := newFixture(t, storage.GetPolicyPartial)
	kidx, err := keyword.NewBleveIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { kidx.Close() })
	h := NewHybridRetrieval(f.r, NewBM25Retrieval(kidx, f.store), 0.5, 0.5)
	ctx := context.Background()

	report, err := h.Ingest(ctx, testPassages)
	require.NoError(t, err)
	assert.Len(t, report.Indexed, len(testPassages))
	count, err := kidx.DocCount()
	require.NoError(t, err)
	assert.EqualValues(t, len(testPassages), count)

	ids, scores, err := h.RetrieveIDWithScores(ctx, "visconde structure", 4)
	require.NoError(t, err)
	require.Len(t, ids, 4)
	assert.Contains(t, []string{"visconde-1", "visconde-2"}, ids[0])
	assertNonIncreasing(t, scores)

	res, err := h.RetrieveWithFilter(ctx, "visconde structure", 2, FilepathIn("space.txt"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"space-1", "space-2"}, res.IDs())
}

func TestFuse(t *testing.T) {
	vc := []Candidate{{ID: "a", Score: 0.9}, {ID: "b", Score: 0.5}}
	kc := []Candidate{{ID: "b", Score: 4}, {ID: "c", Score: 2}}

	got := fuse(vc, kc, 0.5, 0.5)
	require.Len(t, got, 3)
	assert.Equal(t, "b", got[0].ID)
	assert.InDelta(t, 0.75, got[0].Score, 1e-9)
	assert.Equal(t, "a", got[1].ID)
	assert.InDelta(t, 0.45, got[1].Score, 1e-9)
	assert.Equal(t, "c", got[2].ID)
	assert.InDelta(t, 0.25, got[2].Score, 1e-9)
}

func TestNew(t *testing.T) {
	store, err := storage.NewSQLiteStore(":memory:", storage.GetPolicyPartial)
	require.NoError(t, err)
	defer store.Close()
	mem, err := vector.NewMemoryIndex(testDims)
	require.NoError(t, err)
	kidx, err := keyword.NewBleveIndex("")
	require.NoError(t, err)
	defer kidx.Close()
	full := Components{Embedder: embedding.NewHashingEmbedder(testDims), Vector: mem, Keyword: kidx, Store: store}

	tests := []struct {
		mode    string
		c       Components
		want    any
		wantErr bool
	}{
		{"vector", full, &VectorDBRetrieval{}, false},
		{"bm25", full, &BM25Retrieval{}, false},
		{"hybrid", full, &HybridRetrieval{}, false},
		{"bm25", Components{Store: store}, nil, true},
		{"hybrid", Components{Store: store, Keyword: kidx}, nil, true},
		{"vector", Components{}, nil, true},
		{"graph", full, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			r, err := New(config.RetrievalConfig{Mode: tt.mode, VectorWeight: 0.5, KeywordWeight: 0.5}, tt.c)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, r)
		})
	}
}
