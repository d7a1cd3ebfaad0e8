package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepo implements the graph- and summary-tree half of the
// Retrieval Repository Port: a pgxpool connection and plain SQL, no
// ORM.
type PostgresRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresRepo dials Postgres and verifies the connection.
func NewPostgresRepo(ctx context.Context, databaseURL string) (*PostgresRepo, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresRepo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *PostgresRepo) Close() { r.pool.Close() }

// MatchSummaries finds RAPTOR summary nodes nearest a query vector
// using pgvector's cosine-distance operator.
func (r *PostgresRepo) MatchSummaries(ctx context.Context, req SummarySearchRequest) ([]Row, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, content, metadata, 1 - (embedding <=> $1) AS similarity
		FROM summary_nodes
		WHERE tenant_id = $2 AND ($3 = '' OR collection_id = $3)
		ORDER BY embedding <=> $1
		LIMIT $4
	`, pgVector(req.QueryVector), req.TenantID, req.CollectionID, req.K)
	if err != nil {
		return nil, fmt.Errorf("match summaries: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var id, content string
		var metaJSON []byte
		var similarity float64
		if err := rows.Scan(&id, &content, &metaJSON, &similarity); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		meta := decodeMeta(metaJSON)
		out = append(out, Row{
			ID:          id,
			Content:     content,
			Similarity:  similarity,
			Score:       similarity,
			Metadata:    meta,
			SourceLayer: "raptor",
		})
	}
	return out, rows.Err()
}

// ResolveSummariesToChunkIDs performs a bounded depth-first traversal
// of the summary tree (depth capped at 5), collecting the leaf
// chunk ids each summary ultimately covers along with a score derived
// from (parent score) / (depth + 1), starting from a score of 1.0 at
// each root summary, so graph-adjacent recall
// does not simply collapse all descendants to equal weight.
func (r *PostgresRepo) ResolveSummariesToChunkIDs(ctx context.Context, tenantID string, summaryIDs []string, maxDepth int) (map[string][]ScoredChunkID, error) {
	if maxDepth <= 0 || maxDepth > 5 {
		maxDepth = 5
	}

	out := make(map[string][]ScoredChunkID, len(summaryIDs))
	for _, summaryID := range summaryIDs {
		resolved, err := r.dfsResolve(ctx, tenantID, summaryID, 1.0, 0, maxDepth)
		if err != nil {
			return nil, err
		}
		out[summaryID] = resolved
	}
	return out, nil
}

func (r *PostgresRepo) dfsResolve(ctx context.Context, tenantID, nodeID string, parentScore float64, depth, maxDepth int) ([]ScoredChunkID, error) {
	if depth >= maxDepth {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT child_id, child_is_chunk
		FROM summary_tree_edges
		WHERE tenant_id = $1 AND parent_id = $2
	`, tenantID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("resolve summary tree edges: %w", err)
	}
	defer rows.Close()

	childScore := parentScore / float64(depth+1)

	var out []ScoredChunkID
	for rows.Next() {
		var childID string
		var isChunk bool
		if err := rows.Scan(&childID, &isChunk); err != nil {
			return nil, fmt.Errorf("scan summary tree edge: %w", err)
		}
		if isChunk {
			out = append(out, ScoredChunkID{ChunkID: childID, Score: childScore})
			continue
		}
		nested, err := r.dfsResolve(ctx, tenantID, childID, childScore, depth+1, maxDepth)
		if err != nil {
			return nil, err
		}
		out = append(out, nested...)
	}
	return out, rows.Err()
}

// RetrieveGraphNodes traverses the normative-entity knowledge graph
// outward from nodes matching the query, up to MaxHops away.
func (r *PostgresRepo) RetrieveGraphNodes(ctx context.Context, req GraphSearchRequest) ([]Row, error) {
	maxHops := req.MaxHops
	if maxHops < 1 {
		maxHops = 1
	}
	if maxHops > 4 {
		maxHops = 4
	}

	rows, err := r.pool.Query(ctx, `
		WITH RECURSIVE seed AS (
			SELECT id, content, metadata, 1 - (embedding <=> $1) AS similarity, 0 AS hop
			FROM graph_nodes
			WHERE tenant_id = $2
			ORDER BY embedding <=> $1
			LIMIT $3
		),
		expanded AS (
			SELECT * FROM seed
			UNION ALL
			SELECT n.id, n.content, n.metadata, e.similarity / (e.hop + 2), e.hop + 1
			FROM expanded e
			JOIN graph_edges ge ON ge.from_id = e.id
			JOIN graph_nodes n ON n.id = ge.to_id
			WHERE e.hop + 1 <= $4
		)
		SELECT DISTINCT ON (id) id, content, metadata, similarity
		FROM expanded
		ORDER BY id, similarity DESC
	`, pgVector(req.QueryVector), req.TenantID, req.K, maxHops)
	if err != nil {
		return nil, fmt.Errorf("retrieve graph nodes: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var id, content string
		var metaJSON []byte
		var similarity float64
		if err := rows.Scan(&id, &content, &metaJSON, &similarity); err != nil {
			return nil, fmt.Errorf("scan graph node: %w", err)
		}
		meta := decodeMeta(metaJSON)
		out = append(out, Row{
			ID:          id,
			Content:     content,
			Similarity:  similarity,
			Score:       similarity,
			Metadata:    meta,
			SourceLayer: "graph",
		})
	}
	return out, rows.Err()
}

func decodeMeta(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return map[string]any{}
	}
	return meta
}

// pgVector renders a float32 vector as pgvector's text literal.
func pgVector(v []float32) string {
	b, _ := json.Marshal(v)
	return string(b)
}
