// Package fusion implements identity-based deduplication, quota-based
// late fusion, Reciprocal Rank Fusion, and coverage diagnostics.
package fusion

import (
	"regexp"
	"sort"
	"strings"

	"github.com/normcite/retrieval-core/internal/model"
)

// Identity returns the stable identity key for an item: "row::<id>" if
// a stable id is present in metadata, else a deterministic fallback
// keyed on source and the first 120 characters of content.
func Identity(item model.Item) string {
	if id := item.MetaString("id"); id != "" {
		return "row::" + id
	}
	if id := item.MetaString("chunk_id"); id != "" {
		return "row::" + id
	}
	content := item.Content
	if len(content) > 120 {
		content = content[:120]
	}
	return "fallback::" + item.Source + "::" + content
}

// Dedup removes later occurrences of an identity already seen,
// preserving first-seen order.
func Dedup(items []model.Item) []model.Item {
	seen := make(map[string]bool, len(items))
	out := make([]model.Item, 0, len(items))
	for _, item := range items {
		id := Identity(item)
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, item)
	}
	return out
}

// RankedGroup is one sub-query's ranked result list, as input to RRF.
type RankedGroup struct {
	Items []model.Item
}

// RRF performs Reciprocal Rank Fusion over a set of ranked groups.
// Determinism: the same groups, rrf_k, and topK
// always yield the same emitted id sequence, achieved by iterating
// groups and items in their given order and breaking tie scores by
// first-seen order, never by map iteration order.
func RRF(groups []RankedGroup, rrfK int, topK int) []model.Item {
	if rrfK <= 0 {
		rrfK = 60
	}

	type accum struct {
		item      model.Item
		score     float64
		firstSeen int
	}

	order := make([]string, 0)
	byID := make(map[string]*accum)
	seq := 0

	for _, group := range groups {
		for rank, item := range group.Items {
			id := Identity(item)
			a, ok := byID[id]
			if !ok {
				a = &accum{item: item, firstSeen: seq}
				byID[id] = a
				order = append(order, id)
				seq++
			}
			a.score += 1.0 / float64(rrfK+rank+1)
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		ai, aj := byID[order[i]], byID[order[j]]
		if ai.score != aj.score {
			return ai.score > aj.score
		}
		return ai.firstSeen < aj.firstSeen
	})

	if topK > 0 && len(order) > topK {
		order = order[:topK]
	}

	out := make([]model.Item, 0, len(order))
	for _, id := range order {
		a := byID[id]
		item := a.item
		item.Score = a.score
		meta := item.EnsureMetadata()
		meta["score_space"] = string(model.ScoreSpaceRRF)
		out = append(out, item)
	}
	return out
}

// Quota is the fixed slot ratio for late fusion.
type Quota struct {
	Chunks int
	Graph  int
	Raptor int
}

// DefaultQuota is the standard ratio: chunks:3, graph:2, raptor:1.
var DefaultQuota = Quota{Chunks: 3, Graph: 2, Raptor: 1}

// LateFusion interleaves three independently-ranked pipelines into a
// single list honoring the quota, deduplicating on Identity, and
// topping up from whichever pipeline still has supply if the quota
// round under-fills k. Ordering within each pipeline's contribution is
// preserved.
func LateFusion(chunks, graph, raptor []model.Item, quota Quota, k int) []model.Item {
	seen := make(map[string]bool)
	var out []model.Item

	take := func(src []model.Item, n int, cursor *int) {
		taken := 0
		for taken < n && *cursor < len(src) {
			item := src[*cursor]
			*cursor++
			id := Identity(item)
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, item)
			taken++
		}
	}

	chunkCursor, graphCursor, raptorCursor := 0, 0, 0
	take(chunks, quota.Chunks, &chunkCursor)
	take(graph, quota.Graph, &graphCursor)
	take(raptor, quota.Raptor, &raptorCursor)

	for len(out) < k {
		before := len(out)
		if chunkCursor < len(chunks) {
			take(chunks, 1, &chunkCursor)
		}
		if len(out) >= k {
			break
		}
		if graphCursor < len(graph) {
			take(graph, 1, &graphCursor)
		}
		if len(out) >= k {
			break
		}
		if raptorCursor < len(raptor) {
			take(raptor, 1, &raptorCursor)
		}
		if len(out) == before {
			break // all three pipelines exhausted
		}
	}

	if len(out) > k {
		out = out[:k]
	}
	return out
}

var clauseRe = regexp.MustCompile(`\d+(\.\d+)+`)

// QueryClauseRefs extracts the dotted clause references a query asks
// about (e.g. "9.1.2"), deduplicated in first-seen order. These are
// the refs Coverage checks the returned items against; they are a
// distinct concept from the requested standard names.
func QueryClauseRefs(query string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, ref := range clauseRe.FindAllString(query, -1) {
		if seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, ref)
	}
	return out
}

// ClauseRefs extracts every clause reference an item carries: its
// metadata.clause_id, each entry of metadata.clause_refs, and every
// dotted section reference found in its content.
func ClauseRefs(item model.Item) []string {
	var refs []string
	if id := item.MetaString("clause_id"); id != "" {
		refs = append(refs, id)
	}
	if raw, ok := item.Metadata["clause_refs"]; ok {
		switch v := raw.(type) {
		case []string:
			refs = append(refs, v...)
		case []any:
			for _, x := range v {
				if s, ok := x.(string); ok {
					refs = append(refs, s)
				}
			}
		}
	}
	refs = append(refs, clauseRe.FindAllString(item.Content, -1)...)
	return refs
}

// CoverageDiagnostics holds the missing-scope/missing-clause findings.
type CoverageDiagnostics struct {
	MissingScopes     []string
	MissingClauseRefs []string
}

// Coverage computes missing_scopes (when requireAllScopes is set) and
// missing_clause_refs (when minClauseRefsRequired > 0 and the uncovered
// count exceeds that threshold).
func Coverage(items []model.Item, requestedStandards []string, requireAllScopes bool, requiredClauses []string, minClauseRefsRequired int) CoverageDiagnostics {
	var diag CoverageDiagnostics

	if requireAllScopes {
		covered := make(map[string]bool)
		for _, item := range items {
			scope := item.MetaString("source_standard")
			if scope == "" {
				continue
			}
			covered[normalizeScope(scope)] = true
		}
		for _, std := range requestedStandards {
			if !covered[normalizeScope(std)] {
				diag.MissingScopes = append(diag.MissingScopes, std)
			}
		}
	}

	if minClauseRefsRequired > 0 && len(requiredClauses) > 0 {
		covered := make(map[string]bool)
		for _, item := range items {
			for _, ref := range ClauseRefs(item) {
				covered[ref] = true
			}
		}
		var missing []string
		for _, clause := range requiredClauses {
			if !covered[clause] {
				missing = append(missing, clause)
			}
		}
		if len(missing) > minClauseRefsRequired {
			diag.MissingClauseRefs = missing
		}
	}

	return diag
}

func normalizeScope(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
