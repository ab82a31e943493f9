package vector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQdrant keeps points in memory and scores them by inner product.
type fakeQdrant struct {
	created bool
	points  map[string]*qdrant.PointStruct
	limits  []int
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{points: make(map[string]*qdrant.PointStruct)}
}

func (f *fakeQdrant) CollectionExists(context.Context, string) (bool, error) { return f.created, nil }

func (f *fakeQdrant) CreateCollection(context.Context, *qdrant.CreateCollection) error {
	f.created = true
	return nil
}

func (f *fakeQdrant) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	for _, p := range req.Points {
		f.points[p.Id.GetUuid()] = p
	}
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeQdrant) Get(_ context.Context, req *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error) {
	var out []*qdrant.RetrievedPoint
	for _, id := range req.Ids {
		if p, ok := f.points[id.GetUuid()]; ok {
			out = append(out, &qdrant.RetrievedPoint{Id: p.Id, Payload: p.Payload})
		}
	}
	return out, nil
}

func (f *fakeQdrant) Query(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	query := req.Query.GetNearest().GetDense().GetData()
	var out []*qdrant.ScoredPoint
	for _, p := range f.points {
		vec := p.Vectors.GetVector().GetData()
		out = append(out, &qdrant.ScoredPoint{
			Id:      p.Id,
			Payload: p.Payload,
			Score:   float32(CosineSimilarity(query, vec)),
		})
	}
	// Equal scores come back newest first, the opposite of insertion order.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Payload[payloadSeq].GetIntegerValue() > out[j].Payload[payloadSeq].GetIntegerValue()
	})
	f.limits = append(f.limits, int(req.GetLimit()))
	if limit := int(req.GetLimit()); limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeQdrant) Delete(_ context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
	for _, id := range req.Points.GetPoints().GetIds() {
		delete(f.points, id.GetUuid())
	}
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeQdrant) Count(context.Context, *qdrant.CountPoints) (uint64, error) {
	return uint64(len(f.points)), nil
}

func (f *fakeQdrant) Close() error { return nil }

func newTestQdrantIndex(t *testing.T) (*QdrantIndex, *fakeQdrant) {
	t.Helper()
	fake := newFakeQdrant()
	idx, err := newQdrantIndex(context.Background(), fake, "passages", 2)
	require.NoError(t, err)
	require.True(t, fake.created, "collection should be created")
	clock := time.Unix(0, 0)
	idx.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return idx, fake
}

func TestQdrantIndex_UpsertSearch(t *testing.T) {
	idx, _ := newTestQdrantIndex(t)
	ctx := context.Background()

	_, err := idx.Search(ctx, []float32{1, 0}, 3)
	require.True(t, errors.Is(err, ErrEmptyIndex), "got %v", err)

	require.NoError(t, idx.Upsert(ctx, []string{"p1", "p2", "p3"}, [][]float32{{1, 0}, {0, 1}, {1, 0}}))
	assert.Equal(t, 3, idx.Size())

	results, err := idx.Search(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "p1", results[0].ID, "tie broken by insertion order")
	assert.Equal(t, "p3", results[1].ID)
}

func TestQdrantIndex_SearchTieStraddlingK(t *testing.T) {
	idx, fake := newTestQdrantIndex(t)
	ctx := context.Background()

	n := 3*tieMargin + 1
	ids := make([]string, n)
	vecs := make([][]float32, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("tie-%02d", i)
		vecs[i] = []float32{1, 0}
	}
	require.NoError(t, idx.Upsert(ctx, ids, vecs))

	results, err := idx.Search(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "tie-00", results[0].ID)
	assert.Equal(t, "tie-01", results[1].ID)
	assert.Equal(t, []int{2 + tieMargin, 2 * (2 + tieMargin), 4 * (2 + tieMargin)}, fake.limits)
}

func TestQdrantIndex_SearchStopsAtScoreDrop(t *testing.T) {
	idx, fake := newTestQdrantIndex(t)
	ctx := context.Background()

	n := 2 * tieMargin
	ids := make([]string, n)
	vecs := make([][]float32, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("p%02d", i)
		vecs[i] = []float32{1, float32(i) / 10}
	}
	require.NoError(t, idx.Upsert(ctx, ids, vecs))

	results, err := idx.Search(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p00", results[0].ID)
	assert.Equal(t, []int{1 + tieMargin}, fake.limits)
}

func TestQdrantIndex_ReupsertKeepsSequence(t *testing.T) {
	idx, fake := newTestQdrantIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []string{"p1"}, [][]float32{{1, 0}}))
	first := fake.points[PointID("p1")].Payload[payloadSeq].GetIntegerValue()
	require.NoError(t, idx.Upsert(ctx, []string{"p1"}, [][]float32{{0, 1}}))

	assert.Len(t, fake.points, 1)
	assert.Equal(t, first, fake.points[PointID("p1")].Payload[payloadSeq].GetIntegerValue())
	assert.Equal(t, []float32{0, 1}, fake.points[PointID("p1")].Vectors.GetVector().GetData())
}

func TestQdrantIndex_Remove(t *testing.T) {
	idx, _ := newTestQdrantIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, []string{"p1", "p2"}, [][]float32{{1, 0}, {0, 1}}))
	require.NoError(t, idx.Remove(ctx, []string{"p1"}))
	assert.Equal(t, 1, idx.Size())
}

func TestPointID(t *testing.T) {
	assert.Equal(t, PointID("abc"), PointID("abc"))
	assert.NotEqual(t, PointID("abc"), PointID("abd"))
}
