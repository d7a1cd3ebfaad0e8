// Package repo defines the Retrieval Repository Port, the abstract
// RPC boundary to the persistence layer (vector + FTS store, summary
// tree, graph store), plus its Qdrant- and Postgres-backed adapters.
package repo

import "context"

// Row is one raw result row returned by a repository RPC, prior to
// normalization into model.Item.
type Row struct {
	ID          string
	Content     string
	Similarity  float64
	Score       float64
	Metadata    map[string]any
	SourceLayer string
	SourceType  string
}

// HybridSearchRequest is the payload for retrieve_hybrid_optimized.
type HybridSearchRequest struct {
	TenantID      string
	CollectionID  string
	QueryVector   []float32
	QueryText     string
	K             int
	FetchK        int
	RerankEnabled bool
	NormalizedScope []string
	Metadata      map[string]any
}

// HybridSearchResult bundles rows with the RPC's own trace warnings.
type HybridSearchResult struct {
	Rows     []Row
	Warnings []string
}

// GraphSearchRequest is the payload for retrieve_graph_nodes.
type GraphSearchRequest struct {
	TenantID     string
	CollectionID string
	QueryText    string
	QueryVector  []float32
	MaxHops      int
	K            int
}

// SummarySearchRequest is the payload for match_summaries.
type SummarySearchRequest struct {
	TenantID     string
	CollectionID string
	QueryVector  []float32
	K            int
}

// Port is the abstract persistence RPC surface. Every method issues a
// network call and must respect ctx cancellation.
type Port interface {
	// RetrieveHybridOptimized runs the store's combined dense+FTS
	// search with server-side fusion.
	RetrieveHybridOptimized(ctx context.Context, req HybridSearchRequest) (HybridSearchResult, error)

	// SearchVectorsOnly runs dense-vector-only search.
	SearchVectorsOnly(ctx context.Context, req HybridSearchRequest) ([]Row, error)

	// SearchFTSOnly runs full-text-only search.
	SearchFTSOnly(ctx context.Context, req HybridSearchRequest) ([]Row, error)

	// MatchSummaries finds RAPTOR summary nodes nearest a query vector.
	MatchSummaries(ctx context.Context, req SummarySearchRequest) ([]Row, error)

	// FetchChunksByIDs hydrates full chunk content for a set of ids.
	// Similarity is seeded to 0.0 unless the caller has a derived score
	// to carry through (see ResolveSummariesToChunkIDs).
	FetchChunksByIDs(ctx context.Context, tenantID string, ids []string) ([]Row, error)

	// ResolveSummariesToChunkIDs performs a bounded DFS (depth <= 5)
	// over the summary tree, returning the leaf chunk ids each summary
	// ultimately covers, paired with the hop-derived score that
	// produced them.
	ResolveSummariesToChunkIDs(ctx context.Context, tenantID string, summaryIDs []string, maxDepth int) (map[string][]ScoredChunkID, error)

	// RetrieveGraphNodes runs the graph pipeline's traversal query.
	RetrieveGraphNodes(ctx context.Context, req GraphSearchRequest) ([]Row, error)
}

// ScoredChunkID pairs a resolved chunk id with the score derived from
// the summary-tree traversal that found it, carried through rather
// than left at 0.
type ScoredChunkID struct {
	ChunkID string
	Score   float64
}
