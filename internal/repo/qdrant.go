package repo

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
)

// QdrantRepo implements the vector+FTS half of the Retrieval
// Repository Port: one collection per tenant, a hybrid dense+sparse
// vector config, rows surfaced in the Port's Row shape.
type QdrantRepo struct {
	client *qdrant.Client
}

// NewQdrantRepo dials Qdrant at url ("host:port").
func NewQdrantRepo(ctx context.Context, url string) (*QdrantRepo, error) {
	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		host = url
		portStr = "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return &QdrantRepo{client: client}, nil
}

// Close closes the underlying Qdrant connection.
func (r *QdrantRepo) Close() error { return r.client.Close() }

func (r *QdrantRepo) collectionName(tenantID string) string {
	return fmt.Sprintf("tenant_%s", tenantID)
}

// EnsureCollection creates a hybrid (dense+sparse) collection for a
// tenant if it does not already exist.
func (r *QdrantRepo) EnsureCollection(ctx context.Context, tenantID string, dimension int) error {
	name := r.collectionName(tenantID)
	exists, err := r.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection existence: %w", err)
	}
	if exists {
		return nil
	}
	return r.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			denseVectorName: {Size: uint64(dimension), Distance: qdrant.Distance_Cosine},
		}),
		SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			sparseVectorName: {},
		}),
	})
}

func rowFromPoint(point *qdrant.ScoredPoint) Row {
	meta := make(map[string]any, len(point.Payload))
	for k, v := range point.Payload {
		meta[k] = qdrantValueToAny(v)
	}
	content, _ := meta["content"].(string)
	return Row{
		ID:         qdrantPointID(point.Id),
		Content:    content,
		Similarity: float64(point.Score),
		Score:      float64(point.Score),
		Metadata:   meta,
	}
}

func qdrantPointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func qdrantValueToAny(v *qdrant.Value) any {
	switch kind := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	default:
		return nil
	}
}

// RetrieveHybridOptimized queries a tenant's collection with the dense
// query vector only and tags every row with source layer "hybrid". It
// runs no sparse (keyword) leg and no server-side fusion.
func (r *QdrantRepo) RetrieveHybridOptimized(ctx context.Context, req HybridSearchRequest) (HybridSearchResult, error) {
	name := r.collectionName(req.TenantID)
	limit := uint64(req.FetchK)
	if limit == 0 {
		limit = uint64(req.K)
	}

	resp, err := r.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(req.QueryVector...),
		Using:          qdrant.PtrOf(denseVectorName),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return HybridSearchResult{}, fmt.Errorf("hybrid query: %w", err)
	}

	rows := make([]Row, 0, len(resp))
	for _, point := range resp {
		row := rowFromPoint(point)
		row.SourceLayer = "hybrid"
		rows = append(rows, row)
	}
	return HybridSearchResult{Rows: rows}, nil
}

// SearchVectorsOnly runs dense-vector-only search.
func (r *QdrantRepo) SearchVectorsOnly(ctx context.Context, req HybridSearchRequest) ([]Row, error) {
	name := r.collectionName(req.TenantID)
	limit := uint64(req.FetchK)
	if limit == 0 {
		limit = uint64(req.K)
	}
	resp, err := r.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(req.QueryVector...),
		Using:          qdrant.PtrOf(denseVectorName),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vector-only query: %w", err)
	}
	rows := make([]Row, 0, len(resp))
	for _, point := range resp {
		row := rowFromPoint(point)
		row.SourceLayer = "vector"
		rows = append(rows, row)
	}
	return rows, nil
}

// SearchFTSOnly runs sparse-vector (keyword) only search.
func (r *QdrantRepo) SearchFTSOnly(ctx context.Context, req HybridSearchRequest) ([]Row, error) {
	name := r.collectionName(req.TenantID)
	limit := uint64(req.FetchK)
	if limit == 0 {
		limit = uint64(req.K)
	}
	resp, err := r.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Using:          qdrant.PtrOf(sparseVectorName),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("fts-only query: %w", err)
	}
	rows := make([]Row, 0, len(resp))
	for _, point := range resp {
		row := rowFromPoint(point)
		row.SourceLayer = "vector"
		row.SourceType = "fts"
		rows = append(rows, row)
	}
	return rows, nil
}

// FetchChunksByIDs hydrates chunk content by point id, seeding
// similarity to 0.0 per the Port contract (the caller, typically the
// summary-resolution path, overwrites it with a derived score).
func (r *QdrantRepo) FetchChunksByIDs(ctx context.Context, tenantID string, ids []string) ([]Row, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	name := r.collectionName(tenantID)
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}
	points, err := r.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: name,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch chunks by ids: %w", err)
	}
	rows := make([]Row, 0, len(points))
	for _, point := range points {
		meta := make(map[string]any, len(point.Payload))
		for k, v := range point.Payload {
			meta[k] = qdrantValueToAny(v)
		}
		content, _ := meta["content"].(string)
		rows = append(rows, Row{
			ID:         qdrantPointID(point.Id),
			Content:    content,
			Similarity: 0.0,
			Score:      0.0,
			Metadata:   meta,
		})
	}
	return rows, nil
}
