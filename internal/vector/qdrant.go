package vector

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/hyperjump/ragchain/internal/config"
)

const (
	payloadPassageID = "passage_id"
	payloadSeq       = "seq"

	// tieMargin is how many points past k a search fetches.
	tieMargin = 8
)

// pointNamespace derives stable Qdrant point UUIDs from passage ids.
var pointNamespace = uuid.MustParse("6f1c1f3e-7c55-4b59-9a36-2d0c4f1b8a21")

// qdrantClient is the subset of *qdrant.Client used by QdrantIndex.
type qdrantClient interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Get(ctx context.Context, request *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	Close() error
}

// QdrantIndex keeps vectors in a Qdrant collection with cosine distance. Each point
// carries the passage id and its first insertion time, used to break score ties.
type QdrantIndex struct {
	client     qdrantClient
	collection string
	dimensions int
	now        func() time.Time
}

// NewQdrantIndex connects to Qdrant and creates the collection if it does not exist.
func NewQdrantIndex(ctx context.Context, cfg config.QdrantConfig, dimensions int) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	idx, err := newQdrantIndex(ctx, client, cfg.Collection, dimensions)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return idx, nil
}

func newQdrantIndex(ctx context.Context, client qdrantClient, collection string, dimensions int) (*QdrantIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	exists, err := client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		err := client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimensions),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create collection: %w", err)
		}
	}
	return &QdrantIndex{client: client, collection: collection, dimensions: dimensions, now: time.Now}, nil
}

// PointID returns the Qdrant point UUID for a passage id.
func PointID(passageID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(passageID)).String()
}

func pointIDs(ids []string) []*qdrant.PointId {
	out := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		out[i] = qdrant.NewIDUUID(PointID(id))
	}
	return out
}

// Upsert writes the points, reusing the stored sequence of ids already present.
func (q *QdrantIndex) Upsert(ctx context.Context, ids []string, vectors [][]float32) error {
	if err := checkBatch(ids, vectors, q.dimensions); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	existing, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.collection,
		Ids:            pointIDs(ids),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return fmt.Errorf("failed to read existing points: %w", err)
	}
	seqs := make(map[string]int64, len(existing))
	for _, p := range existing {
		if v, ok := p.GetPayload()[payloadPassageID]; ok {
			seqs[v.GetStringValue()] = p.GetPayload()[payloadSeq].GetIntegerValue()
		}
	}

	base := q.now().UnixNano()
	points := make([]*qdrant.PointStruct, len(ids))
	for i, id := range ids {
		seq, ok := seqs[id]
		if !ok {
			seq = base + int64(i)
			seqs[id] = seq
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(id)),
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: vectors[i]}},
			},
			Payload: map[string]*qdrant.Value{
				payloadPassageID: qdrant.NewValueString(id),
				payloadSeq:       qdrant.NewValueInt(seq),
			},
		}
	}

	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// Search queries the collection and reorders equal scores by insertion sequence.
func (q *QdrantIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != q.dimensions {
		return nil, &DimensionError{Got: len(query), Want: q.dimensions}
	}
	if k <= 0 {
		return []*VectorResult{}, nil
	}
	// Qdrant orders equal scores by its own rule, so the window must reach past
	// every point tied with the k-th before seq can decide.
	var points []*qdrant.ScoredPoint
	for limit := k + tieMargin; ; limit *= 2 {
		var err error
		points, err = q.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: q.collection,
			Query:          qdrant.NewQuery(query...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to search: %w", err)
		}
		if len(points) < limit || points[len(points)-1].GetScore() < points[k-1].GetScore() {
			break
		}
	}
	if len(points) == 0 {
		n, err := q.count(ctx)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, ErrEmptyIndex
		}
	}

	cands := make([]ranked, 0, len(points))
	for _, p := range points {
		payload := p.GetPayload()
		cands = append(cands, ranked{
			id:    payload[payloadPassageID].GetStringValue(),
			seq:   payload[payloadSeq].GetIntegerValue(),
			score: float64(p.GetScore()),
		})
	}
	return topK(cands, k), nil
}

// Remove deletes the points of ids.
func (q *QdrantIndex) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs(ids)},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

func (q *QdrantIndex) count(ctx context.Context) (uint64, error) {
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return n, nil
}

// Save is a no-op; Qdrant persists the collection server-side.
func (q *QdrantIndex) Save(string) error { return nil }

// Load is a no-op; Qdrant persists the collection server-side.
func (q *QdrantIndex) Load(string) error { return nil }

// Size returns the number of points, or 0 if the count fails.
func (q *QdrantIndex) Size() int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n, err := q.count(ctx)
	if err != nil {
		return 0
	}
	return int(n)
}

// Type returns the index type identifier.
func (q *QdrantIndex) Type() string {
	return string(IndexTypeQdrant)
}

// Close closes the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
