package repo

import (
	"context"
	"fmt"
)

// CompositeRepo implements the full Retrieval Repository Port by
// dispatching vector/FTS operations to Qdrant and graph/summary
// operations to Postgres. This is the concrete Port every coordinator
// is wired against; the split mirrors the physical store boundary
// (pgvector for trees, Qdrant for chunk vectors) without leaking it
// into the Port's method set.
type CompositeRepo struct {
	Vector *QdrantRepo
	Trees  *PostgresRepo
}

// NewCompositeRepo builds a CompositeRepo from its two backing stores.
func NewCompositeRepo(vector *QdrantRepo, trees *PostgresRepo) *CompositeRepo {
	return &CompositeRepo{Vector: vector, Trees: trees}
}

func (c *CompositeRepo) RetrieveHybridOptimized(ctx context.Context, req HybridSearchRequest) (HybridSearchResult, error) {
	return c.Vector.RetrieveHybridOptimized(ctx, req)
}

func (c *CompositeRepo) SearchVectorsOnly(ctx context.Context, req HybridSearchRequest) ([]Row, error) {
	return c.Vector.SearchVectorsOnly(ctx, req)
}

func (c *CompositeRepo) SearchFTSOnly(ctx context.Context, req HybridSearchRequest) ([]Row, error) {
	return c.Vector.SearchFTSOnly(ctx, req)
}

func (c *CompositeRepo) MatchSummaries(ctx context.Context, req SummarySearchRequest) ([]Row, error) {
	return c.Trees.MatchSummaries(ctx, req)
}

func (c *CompositeRepo) FetchChunksByIDs(ctx context.Context, tenantID string, ids []string) ([]Row, error) {
	return c.Vector.FetchChunksByIDs(ctx, tenantID, ids)
}

func (c *CompositeRepo) ResolveSummariesToChunkIDs(ctx context.Context, tenantID string, summaryIDs []string, maxDepth int) (map[string][]ScoredChunkID, error) {
	return c.Trees.ResolveSummariesToChunkIDs(ctx, tenantID, summaryIDs, maxDepth)
}

func (c *CompositeRepo) RetrieveGraphNodes(ctx context.Context, req GraphSearchRequest) ([]Row, error) {
	return c.Trees.RetrieveGraphNodes(ctx, req)
}

var _ Port = (*CompositeRepo)(nil)

// HydrateSummaryChunks resolves a batch of summary ids to chunk rows,
// carrying the traversal-derived score through instead of leaving
// FetchChunksByIDs' zero-seeded similarity.
func (c *CompositeRepo) HydrateSummaryChunks(ctx context.Context, tenantID string, summaryIDs []string, maxDepth int) ([]Row, error) {
	resolved, err := c.ResolveSummariesToChunkIDs(ctx, tenantID, summaryIDs, maxDepth)
	if err != nil {
		return nil, fmt.Errorf("resolve summaries to chunk ids: %w", err)
	}

	scoreByChunk := make(map[string]float64)
	var ids []string
	for _, scored := range resolved {
		for _, sc := range scored {
			if _, seen := scoreByChunk[sc.ChunkID]; !seen {
				ids = append(ids, sc.ChunkID)
			}
			if sc.Score > scoreByChunk[sc.ChunkID] {
				scoreByChunk[sc.ChunkID] = sc.Score
			}
		}
	}

	rows, err := c.FetchChunksByIDs(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if score, ok := scoreByChunk[rows[i].ID]; ok {
			rows[i].Similarity = score
			rows[i].Score = score
		}
		rows[i].SourceLayer = "graph_grounded"
	}
	return rows, nil
}
