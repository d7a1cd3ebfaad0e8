// Package hybrid implements the single-query retrieval path: embed,
// call the repository's hybrid RPC, normalize rows, merge trace
// warnings, and run every item through the leak canary before it ever
// reaches a caller.
package hybrid

import (
	"context"
	"log/slog"
	"time"

	"github.com/normcite/retrieval-core/internal/apierr"
	"github.com/normcite/retrieval-core/internal/canary"
	"github.com/normcite/retrieval-core/internal/embedding"
	"github.com/normcite/retrieval-core/internal/model"
	"github.com/normcite/retrieval-core/internal/reranker"
	"github.com/normcite/retrieval-core/internal/repo"
	"github.com/normcite/retrieval-core/internal/scope"
)

// Retriever wires the Embedding Port, Retrieval Repository Port, and
// optional Reranker Port into the single-query retrieval path.
type Retriever struct {
	Embedder  embedding.Port
	Repo      repo.Port
	Reranker  reranker.Port
	Validator *scope.Validator
	Logger    *slog.Logger
}

// New builds a Retriever. reranker may be nil to disable rerank entirely.
func New(embedder embedding.Port, repository repo.Port, rr reranker.Port, validator *scope.Validator, logger *slog.Logger) *Retriever {
	return &Retriever{Embedder: embedder, Repo: repository, Reranker: rr, Validator: validator, Logger: logger}
}

// Result bundles the retrieved items with their trace.
type Result struct {
	Items []model.Item
	Trace model.Trace
}

// Retrieve runs the hybrid retrieval algorithm for one query.
func (r *Retriever) Retrieve(ctx context.Context, q model.Query, rawFilters scope.RawFilters) (Result, error) {
	start := time.Now()
	trace := model.Trace{EngineMode: "hybrid"}

	validation := r.Validator.Validate(q.Text, rawFilters)
	if !validation.Valid {
		return Result{}, apierr.ErrScopeValidationFailed("scope validation failed").WithDetails(validation.Violations)
	}

	filtersApplied := make(map[string]any)
	if len(validation.NormalizedScope) > 0 {
		filtersApplied["source_standards"] = validation.NormalizedScope
	}
	if len(q.Filters.Metadata) > 0 {
		filtersApplied["metadata"] = q.Filters.Metadata
	}
	if len(filtersApplied) > 0 {
		trace.FiltersApplied = filtersApplied
	}

	embedStart := time.Now()
	vectors, err := r.Embedder.Embed(ctx, []string{q.Text}, embedding.TaskRetrievalQuery)
	if err != nil {
		return Result{}, apierr.ErrRetrievalChunksFailed("embedding failed: " + err.Error())
	}
	trace.TimingsMS.Embed = time.Since(embedStart).Milliseconds()

	rerankEnabled := q.Rerank.Enabled && !q.SkipExternalRerank

	retrieveStart := time.Now()
	hybridResult, err := r.Repo.RetrieveHybridOptimized(ctx, repo.HybridSearchRequest{
		TenantID:        q.TenantID,
		CollectionID:    q.CollectionID,
		QueryVector:     vectors[0],
		QueryText:       q.Text,
		K:               q.K,
		FetchK:          q.FetchK,
		RerankEnabled:   rerankEnabled,
		NormalizedScope: validation.NormalizedScope,
		Metadata:        q.Filters.Metadata,
	})
	if err != nil {
		return Result{}, apierr.ErrRetrievalChunksFailed(err.Error())
	}
	trace.TimingsMS.Retrieve = time.Since(retrieveStart).Milliseconds()

	items := normalizeRows(hybridResult.Rows, validation.NormalizedScope)
	trace.ScoreSpace = model.ScoreSpaceSimilarity

	if rerankEnabled && r.Reranker != nil && len(items) > 0 {
		rerankStart := time.Now()
		items, err = r.applyRerank(ctx, q.Text, items, q.Rerank.TopN)
		if err != nil {
			trace.AddWarning("rerank_failed:" + err.Error())
		} else {
			trace.ScoreSpace = model.ScoreSpaceRerank
		}
		trace.TimingsMS.Rerank = time.Since(rerankStart).Milliseconds()
	}

	trace.MergeWarnings(validation.Warnings, hybridResult.Warnings)
	trace.ScopePenalizedCount, trace.ScopePenalizedRatio = scopePenaltyStats(items)

	if err := canary.Check(r.Logger, q.TenantID, items); err != nil {
		return Result{}, apierr.ErrSecurityIsolationBreach(err.Error())
	}

	trace.TimingsMS.Total = time.Since(start).Milliseconds()
	return Result{Items: items, Trace: trace}, nil
}

// normalizeRows converts repository rows into Retrieval Items, lifting
// similarity, jina_relevance_score, and scope_penalized into metadata.
// normalizedScope is the validated set of
// standards the query asked for ("ISO 9001", ...); a row tagged with a
// source_standard outside that set is kept (the repository ranks it
// rather than dropping it) but flagged scope_penalized so downstream
// coordinators can discount or drop the branch that produced it.
func normalizeRows(rows []repo.Row, normalizedScope []string) []model.Item {
	items := make([]model.Item, 0, len(rows))
	for _, row := range rows {
		item := model.Item{
			Source:  row.ID,
			Content: row.Content,
			Score:   model.FiniteOr(row.Score, 0),
		}
		meta := item.EnsureMetadata()
		for k, v := range row.Metadata {
			meta[k] = v
		}
		meta["similarity"] = model.FiniteOr(row.Similarity, 0)
		if meta["source_layer"] == nil {
			meta["source_layer"] = string(row.SourceLayer)
		}
		if meta["source_type"] == nil {
			meta["source_type"] = row.SourceType
		}
		if _, ok := meta["jina_relevance_score"]; !ok {
			meta["jina_relevance_score"] = 0.0
		}
		if _, ok := meta["scope_penalized"]; !ok {
			meta["scope_penalized"] = rowOutOfScope(meta, normalizedScope)
		}
		if _, ok := meta["score_space"]; !ok {
			meta["score_space"] = string(model.ScoreSpaceSimilarity)
		}
		items = append(items, item)
	}
	return items
}

// rowOutOfScope reports whether a row's source_standard metadata falls
// outside the requested scope. No requested scope means no penalty.
func rowOutOfScope(meta map[string]any, normalizedScope []string) bool {
	if len(normalizedScope) == 0 {
		return false
	}
	standard, _ := meta["source_standard"].(string)
	if standard == "" {
		return false
	}
	for _, s := range normalizedScope {
		if s == standard {
			return false
		}
	}
	return true
}

// scopePenaltyStats counts how many items were returned outside the
// validated scope (the repository still surfaces them, ranked below
// in-scope results, rather than dropping them outright) so the
// multi-query coordinator can decide whether a sub-query branch
// strayed too far out of scope to keep.
func scopePenaltyStats(items []model.Item) (int, float64) {
	if len(items) == 0 {
		return 0, 0
	}
	count := 0
	for _, item := range items {
		if item.MetaBool("scope_penalized") {
			count++
		}
	}
	return count, float64(count) / float64(len(items))
}

func (r *Retriever) applyRerank(ctx context.Context, query string, items []model.Item, topN int) ([]model.Item, error) {
	documents := make([]string, len(items))
	for i, item := range items {
		documents[i] = item.Content
	}

	results, err := r.Reranker.RerankDocuments(ctx, query, documents, topN)
	if err != nil {
		return items, err
	}

	reranked := make([]model.Item, 0, len(results))
	for _, res := range results {
		if res.Index < 0 || res.Index >= len(items) {
			continue
		}
		item := items[res.Index]
		item.Score = res.RelevanceScore
		meta := item.EnsureMetadata()
		meta["jina_relevance_score"] = res.RelevanceScore
		meta["score_space"] = string(model.ScoreSpaceRerank)
		reranked = append(reranked, item)
	}
	return reranked, nil
}
