// Package comprehensive implements the Comprehensive Coordinator: a
// three-way concurrent fan-out across chunks, graph, and summary
// pipelines, merged by quota-based late fusion and policy
// post-processing.
package comprehensive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/normcite/retrieval-core/internal/apierr"
	"github.com/normcite/retrieval-core/internal/canary"
	"github.com/normcite/retrieval-core/internal/embedding"
	"github.com/normcite/retrieval-core/internal/fusion"
	"github.com/normcite/retrieval-core/internal/hybrid"
	"github.com/normcite/retrieval-core/internal/model"
	"github.com/normcite/retrieval-core/internal/policy"
	"github.com/normcite/retrieval-core/internal/repo"
	"github.com/normcite/retrieval-core/internal/scope"
)

// DefaultGraphExpansionMaxHops is the hop cap used when a Coordinator is
// built without an explicit configured cap.
const DefaultGraphExpansionMaxHops = 2

// Coordinator runs the three pipelines and fuses their output.
type Coordinator struct {
	Retriever *hybrid.Retriever
	Embedder  embedding.Port
	Repo      repo.Port
	Quota     fusion.Quota

	// GraphExpansionMaxHops is the configured cap
	// (RETRIEVAL_COVERAGE_GRAPH_EXPANSION_MAX_HOPS) the graph pipeline's
	// per-request hop count is clamped against: [1, min(4, configured_cap)].
	GraphExpansionMaxHops int
}

// New builds a Coordinator with the default quota (chunks:3, graph:2,
// raptor:1) and the given configured graph-expansion hop cap.
func New(retriever *hybrid.Retriever, embedder embedding.Port, repository repo.Port, graphExpansionMaxHops int) *Coordinator {
	if graphExpansionMaxHops < 1 {
		graphExpansionMaxHops = DefaultGraphExpansionMaxHops
	}
	return &Coordinator{
		Retriever:             retriever,
		Embedder:              embedder,
		Repo:                  repository,
		Quota:                 fusion.DefaultQuota,
		GraphExpansionMaxHops: graphExpansionMaxHops,
	}
}

// Result bundles the fused items, coverage diagnostics, and trace.
type Result struct {
	Items     []model.Item
	Coverage  fusion.CoverageDiagnostics
	Trace     model.Trace
	LatencyMS int64
}

// Run executes the three pipelines concurrently, merges by late fusion,
// and applies the retrieval policy.
func (c *Coordinator) Run(ctx context.Context, q model.Query, rawFilters scope.RawFilters, requestedStandards []string, pol model.RetrievalPolicy) (Result, error) {
	start := time.Now()
	trace := model.Trace{EngineMode: "comprehensive"}

	queryClauseRefs := fusion.QueryClauseRefs(q.Text)

	hints := append(append([]model.SearchHint{}, pol.Hints...), q.SearchHints...)
	if expanded, fired := policy.ExpandQuery(q.Text, hints); len(fired) > 0 {
		q.Text = expanded
		trace.HintsApplied = fired
	}

	var chunkItems, graphItems, raptorItems []model.Item
	var traceMu sync.Mutex

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		q2 := q
		q2.Rerank.Enabled = true
		res, err := c.Retriever.Retrieve(gctx, q2, rawFilters)
		if err != nil {
			traceMu.Lock()
			trace.AddWarning("chunks_pipeline_failed:" + err.Error())
			traceMu.Unlock()
			return nil
		}
		chunkItems = tagSource(res.Items, "chunks")
		return nil
	})

	group.Go(func() error {
		items, err := c.runGraphPipeline(gctx, q)
		if err != nil {
			traceMu.Lock()
			trace.AddWarning("graph_pipeline_failed:" + err.Error())
			traceMu.Unlock()
			return nil
		}
		graphItems = tagSource(items, "graph")
		return nil
	})

	group.Go(func() error {
		items, err := c.runSummaryPipeline(gctx, q)
		if err != nil {
			traceMu.Lock()
			trace.AddWarning("summaries_pipeline_failed:" + err.Error())
			traceMu.Unlock()
			return nil
		}
		raptorItems = tagSource(items, "raptor")
		return nil
	})

	if err := group.Wait(); err != nil {
		return Result{}, err
	}

	k := q.K
	if k <= 0 {
		k = 10
	}
	fusionStart := time.Now()
	merged := fusion.LateFusion(chunkItems, graphItems, raptorItems, c.Quota, k)
	trace.TimingsMS.Fusion = time.Since(fusionStart).Milliseconds()

	policyStart := time.Now()
	merged, minScoreResult := policy.ApplyMinScore(merged, pol.MinScore)
	trace.PolicyDroppedMinScore = minScoreResult.Dropped
	trace.ScoreSpaceBypassed = minScoreResult.ScoreSpaceBypassed

	merged, noiseResult := policy.ReduceStructuralNoise(merged)
	trace.PolicyDroppedStructural = noiseResult.Dropped
	trace.TimingsMS.Policy = time.Since(policyStart).Milliseconds()

	coverage := fusion.Coverage(merged, requestedStandards, pol.RequireAllScopes, queryClauseRefs, pol.MinClauseRefsRequired)
	trace.MissingScopes = coverage.MissingScopes
	trace.MissingClauseRefs = coverage.MissingClauseRefs

	// Graph and summary rows never pass through the hybrid retriever's
	// canary check; the fused list is checked as a whole.
	if err := canary.Check(c.Retriever.Logger, q.TenantID, merged); err != nil {
		return Result{}, apierr.ErrSecurityIsolationBreach(err.Error())
	}

	trace.ScoreSpace = model.ScoreSpaceMixed
	trace.TimingsMS.Total = time.Since(start).Milliseconds()

	return Result{
		Items:     merged,
		Coverage:  coverage,
		Trace:     trace,
		LatencyMS: trace.TimingsMS.Total,
	}, nil
}

func (c *Coordinator) runGraphPipeline(ctx context.Context, q model.Query) ([]model.Item, error) {
	vectors, err := c.Embedder.Embed(ctx, []string{q.Text}, embedding.TaskRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("embed for graph pipeline: %w", err)
	}

	hopCap := c.GraphExpansionMaxHops
	if hopCap < 1 {
		hopCap = DefaultGraphExpansionMaxHops
	}
	if hopCap > 4 {
		hopCap = 4
	}

	maxHops := q.Graph.MaxHops
	if maxHops < 1 {
		maxHops = 1
	}
	if maxHops > hopCap {
		maxHops = hopCap
	}

	rows, err := c.Repo.RetrieveGraphNodes(ctx, repo.GraphSearchRequest{
		TenantID:     q.TenantID,
		CollectionID: q.CollectionID,
		QueryText:    q.Text,
		QueryVector:  vectors[0],
		MaxHops:      maxHops,
		K:            q.K,
	})
	if err != nil {
		return nil, err
	}
	return rowsToItems(rows), nil
}

func (c *Coordinator) runSummaryPipeline(ctx context.Context, q model.Query) ([]model.Item, error) {
	vectors, err := c.Embedder.Embed(ctx, []string{q.Text}, embedding.TaskRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("embed for summary pipeline: %w", err)
	}

	rows, err := c.Repo.MatchSummaries(ctx, repo.SummarySearchRequest{
		TenantID:     q.TenantID,
		CollectionID: q.CollectionID,
		QueryVector:  vectors[0],
		K:            q.K,
	})
	if err != nil {
		return nil, err
	}
	return rowsToItems(rows), nil
}

func rowsToItems(rows []repo.Row) []model.Item {
	items := make([]model.Item, 0, len(rows))
	for _, row := range rows {
		item := model.Item{Source: row.ID, Content: row.Content, Score: model.FiniteOr(row.Score, 0)}
		meta := item.EnsureMetadata()
		for k, v := range row.Metadata {
			meta[k] = v
		}
		meta["similarity"] = model.FiniteOr(row.Similarity, 0)
		meta["source_layer"] = string(row.SourceLayer)
		meta["source_type"] = row.SourceType
		items = append(items, item)
	}
	return items
}

func tagSource(items []model.Item, fusionSource string) []model.Item {
	out := make([]model.Item, len(items))
	for i, item := range items {
		meta := item.EnsureMetadata()
		meta["fusion_source"] = fusionSource
		out[i] = item
	}
	return out
}
