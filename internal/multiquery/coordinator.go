// Package multiquery implements the Multi-Query Coordinator: dedup by
// scope fingerprint, bounded-parallel sub-query execution, scope-
// penalty dropout, and RRF merge.
package multiquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/normcite/retrieval-core/internal/apierr"
	"github.com/normcite/retrieval-core/internal/fusion"
	"github.com/normcite/retrieval-core/internal/hybrid"
	"github.com/normcite/retrieval-core/internal/model"
	"github.com/normcite/retrieval-core/internal/scope"
)

// SubQuery is one of the N related queries submitted to the coordinator.
type SubQuery struct {
	Query   model.Query
	Filters scope.RawFilters
}

// MergeOptions configures the RRF merge stage.
type MergeOptions struct {
	RRFK int
	TopK int
}

// Options configures the coordinator's concurrency and dropout policy.
type Options struct {
	MaxParallel                int
	SubqueryTimeout            time.Duration
	DropScopePenalizedBranches bool
	ScopePenaltyDropThreshold  float64
}

// DefaultOptions holds the standard coordinator settings.
var DefaultOptions = Options{
	MaxParallel:                4,
	SubqueryTimeout:            8 * time.Second,
	DropScopePenalizedBranches: true,
	ScopePenaltyDropThreshold:  0.95,
}

// SubQueryRecord is the per-sub-query outcome surfaced in the response.
type SubQueryRecord struct {
	Fingerprint string `json:"fingerprint"`
	Status      string `json:"status"`
	Code        string `json:"code,omitempty"`
	Error       string `json:"error,omitempty"`
	ItemCount   int    `json:"item_count"`
}

// Result bundles the merged items with per-sub-query diagnostics.
type Result struct {
	Items      []model.Item
	SubQueries []SubQueryRecord
	Partial    bool
	Trace      model.Trace
}

// Coordinator executes N sub-queries in parallel bounded by a semaphore
// and merges surviving results by Reciprocal Rank Fusion.
type Coordinator struct {
	Retriever *hybrid.Retriever
	Options   Options
}

// New builds a Coordinator. Options is clamped to its permitted bounds.
func New(retriever *hybrid.Retriever, opts Options) *Coordinator {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = DefaultOptions.MaxParallel
	}
	if opts.MaxParallel > 8 {
		opts.MaxParallel = 8
	}
	if opts.SubqueryTimeout <= 0 {
		opts.SubqueryTimeout = DefaultOptions.SubqueryTimeout
	}
	return &Coordinator{Retriever: retriever, Options: opts}
}

// Fingerprint computes the deduplication key for a sub-query:
// scope_clause::<standard>::<clause> when both a source_standard
// filter and metadata.clause_id are present, else
// query::<normalized text>.
func Fingerprint(sq SubQuery) string {
	standard := sq.Filters["source_standard"]
	var clauseID string
	if meta, ok := sq.Filters["metadata"].(map[string]any); ok {
		if v, ok := meta["clause_id"].(string); ok {
			clauseID = v
		}
	}
	if standardStr, ok := standard.(string); ok && standardStr != "" && clauseID != "" {
		return fmt.Sprintf("scope_clause::%s::%s", standardStr, clauseID)
	}
	normalized := strings.Join(strings.Fields(strings.ToLower(sq.Query.Text)), " ")
	return "query::" + normalized
}

// Execute runs every distinct sub-query under bounded parallelism and
// merges surviving results by RRF.
func (c *Coordinator) Execute(ctx context.Context, subQueries []SubQuery, merge MergeOptions) (Result, error) {
	start := time.Now()
	trace := model.Trace{EngineMode: "multi_query"}

	seen := make(map[string]bool, len(subQueries))
	records := make([]SubQueryRecord, len(subQueries))
	groups := make([]fusion.RankedGroup, len(subQueries))
	runnable := make([]bool, len(subQueries))

	for i, sq := range subQueries {
		fp := Fingerprint(sq)
		records[i] = SubQueryRecord{Fingerprint: fp}
		if seen[fp] {
			records[i].Status = "error"
			records[i].Code = "SUBQUERY_SKIPPED_DUPLICATE"
			continue
		}
		seen[fp] = true
		runnable[i] = true
	}

	sem := semaphore.NewWeighted(int64(c.Options.MaxParallel))
	done := make(chan int, len(subQueries))

	for i, sq := range subQueries {
		if !runnable[i] {
			done <- i
			continue
		}
		go func(idx int, sq SubQuery) {
			defer func() { done <- idx }()
			if err := sem.Acquire(ctx, 1); err != nil {
				records[idx].Status = "error"
				records[idx].Code = "SUBQUERY_FAILED"
				records[idx].Error = err.Error()
				return
			}
			defer sem.Release(1)

			subCtx, cancel := context.WithTimeout(ctx, c.Options.SubqueryTimeout)
			defer cancel()

			q := sq.Query
			q.SkipPlanner = true
			q.SkipExternalRerank = true

			res, err := c.Retriever.Retrieve(subCtx, q, sq.Filters)
			if err != nil {
				records[idx].Status = "error"
				if subCtx.Err() == context.DeadlineExceeded {
					records[idx].Code = "SUBQUERY_TIMEOUT"
				} else if apiErr, ok := err.(*apierr.Error); ok {
					records[idx].Code = apiErr.Code
				} else {
					records[idx].Code = "SUBQUERY_FAILED"
				}
				records[idx].Error = err.Error()
				return
			}

			if c.Options.DropScopePenalizedBranches && res.Trace.ScopePenalizedRatio >= c.Options.ScopePenaltyDropThreshold {
				records[idx].Status = "error"
				records[idx].Code = "SUBQUERY_OUT_OF_SCOPE"
				return
			}

			records[idx].Status = "ok"
			records[idx].ItemCount = len(res.Items)
			groups[idx] = fusion.RankedGroup{Items: res.Items}
		}(i, sq)
	}

	for range subQueries {
		<-done
	}

	var surviving []fusion.RankedGroup
	succeeded, failed := 0, 0
	for i := range subQueries {
		switch {
		case records[i].Status == "ok":
			succeeded++
			surviving = append(surviving, groups[i])
		case records[i].Code == "SUBQUERY_SKIPPED_DUPLICATE":
			// A skipped duplicate lost nothing: its twin executed.
		default:
			failed++
		}
	}

	if succeeded == 0 && failed > 0 {
		return Result{}, apierr.ErrMultiQueryAllFailed(records)
	}

	fusionStart := time.Now()
	merged := fusion.RRF(surviving, merge.RRFK, merge.TopK)
	trace.ScoreSpace = model.ScoreSpaceRRF
	trace.TimingsMS.Fusion = time.Since(fusionStart).Milliseconds()
	trace.TimingsMS.Total = time.Since(start).Milliseconds()

	return Result{
		Items:      merged,
		SubQueries: records,
		Partial:    failed > 0,
		Trace:      trace,
	}, nil
}
