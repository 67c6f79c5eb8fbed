package vector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"

	"github.com/dkrasnove/kbase/internal/core"
)

const upsertRetries = 3

// Index implements core.VectorIndex against a Qdrant instance. All chunks
// live in a single collection; the payload carries the chunk text so search
// results need no second lookup.
type Index struct {
	client     *qdrant.Client
	collection string
	dim        int
	logger     *slog.Logger
}

func NewIndex(host string, port int, collection string, dim int, logger *slog.Logger) (*Index, error) {
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant: %w", err)
	}
	return &Index{client: client, collection: collection, dim: dim, logger: logger}, nil
}

func (i *Index) EnsureCollection(ctx context.Context) error {
	names, err := i.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, name := range names {
		if name == i.collection {
			return nil
		}
	}
	i.logger.Info("creating collection", "name", i.collection, "dim", i.dim)
	err = i.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: i.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(i.dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %q: %w", i.collection, err)
	}
	return nil
}

func (i *Index) UpsertPoints(ctx context.Context, points []core.Point) error {
	if len(points) == 0 {
		return nil
	}
	qpoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		if len(p.Vector) != i.dim {
			return fmt.Errorf("point %s has dimension %d, collection expects %d", p.ID, len(p.Vector), i.dim)
		}
		qpoints = append(qpoints, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{"content": p.Content}),
		})
	}

	op := func() error {
		_, err := i.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: i.collection,
			Points:         qpoints,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	}
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), upsertRetries)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return fmt.Errorf("upsert %d points: %w", len(qpoints), err)
	}
	return nil
}

func (i *Index) Search(ctx context.Context, vector []float32, topK int) ([]core.SearchResult, error) {
	if len(vector) != i.dim {
		return nil, fmt.Errorf("query vector has dimension %d, collection expects %d", len(vector), i.dim)
	}
	hits, err := i.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: i.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	results := make([]core.SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, core.SearchResult{
			PointID: h.GetId().GetUuid(),
			Score:   h.GetScore(),
			Content: h.GetPayload()["content"].GetStringValue(),
		})
	}
	return results, nil
}

func (i *Index) DeletePoints(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(id))
	}
	_, err := i.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: i.collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("delete %d points: %w", len(ids), err)
	}
	return nil
}
