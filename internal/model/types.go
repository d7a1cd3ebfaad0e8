// Package model defines the wire-level data model shared by every
// retrieval path: queries, retrieval items, traces, and scope
// resolution. These types are the JSON shapes returned to callers.
package model

import (
	"math"
	"regexp"
	"strings"
)

// TenantIDPattern is the required shape of an opaque tenant identifier.
var TenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{1,127}$`)

// SourceLayer identifies which retrieval layer produced an item.
type SourceLayer string

const (
	SourceLayerVector        SourceLayer = "vector"
	SourceLayerGraph         SourceLayer = "graph"
	SourceLayerGraphGrounded SourceLayer = "graph_grounded"
	SourceLayerRaptor        SourceLayer = "raptor"
	SourceLayerHybrid        SourceLayer = "hybrid"
)

// ScoreSpace tags the semantic scale a score was computed on.
type ScoreSpace string

const (
	ScoreSpaceSimilarity ScoreSpace = "similarity"
	ScoreSpaceRerank     ScoreSpace = "rerank"
	ScoreSpaceRRF        ScoreSpace = "rrf"
	ScoreSpaceMixed      ScoreSpace = "mixed"
)

// RetrievalMode is the query-intent classification outcome.
type RetrievalMode string

const (
	ModeLiteralList      RetrievalMode = "literal_list"
	ModeLiteralNormative RetrievalMode = "literal_normative"
	ModeComparative      RetrievalMode = "comparative"
	ModeExplanatory      RetrievalMode = "explanatory"
	ModeAmbiguousScope   RetrievalMode = "ambiguous_scope"
)

// TimeRange bounds a result set to a field's value window.
type TimeRange struct {
	Field string `json:"field,omitempty"`
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
}

// ScopeFilters is the strongly-typed decoding of a query's open filter
// map. Unknown keys are rejected by the scope validator before this
// struct is ever populated downstream.
type ScopeFilters struct {
	Metadata        map[string]any `json:"metadata,omitempty"`
	TimeRange       *TimeRange     `json:"time_range,omitempty"`
	SourceStandard  string         `json:"source_standard,omitempty"`
	SourceStandards []string       `json:"source_standards,omitempty"`
}

// GraphOptions configures the graph pipeline's traversal.
type GraphOptions struct {
	MaxHops int  `json:"max_hops,omitempty"`
	Enabled bool `json:"enabled,omitempty"`
}

// RerankOptions configures cross-encoder reranking for a single request.
type RerankOptions struct {
	Enabled bool `json:"enabled,omitempty"`
	TopN    int  `json:"top_n,omitempty"`
}

// SearchHint declares a term-triggered query expansion.
type SearchHint struct {
	Term     string   `json:"term"`
	ExpandTo []string `json:"expand_to"`
}

// RetrievalPolicy configures the post-processing policy phase.
type RetrievalPolicy struct {
	Hints                 []SearchHint `json:"hints,omitempty"`
	MinScore              float64      `json:"min_score,omitempty"`
	RequireAllScopes      bool         `json:"require_all_scopes,omitempty"`
	MinClauseRefsRequired int          `json:"min_clause_refs_required,omitempty"`
}

// Query is the shared request shape accepted by every retrieval path.
type Query struct {
	Text            string          `json:"query"`
	TenantID        string          `json:"tenant_id"`
	CollectionID    string          `json:"collection_id,omitempty"`
	K               int             `json:"k,omitempty"`
	FetchK          int             `json:"fetch_k,omitempty"`
	Filters         ScopeFilters    `json:"filters,omitempty"`
	Rerank          RerankOptions   `json:"rerank,omitempty"`
	Graph           GraphOptions    `json:"graph,omitempty"`
	SearchHints     []SearchHint    `json:"search_hints,omitempty"`
	RetrievalPolicy RetrievalPolicy `json:"retrieval_policy,omitempty"`

	// Internal hints, never set by a caller directly; propagated by
	// coordinators to sub-query invocations.
	SkipPlanner        bool `json:"-"`
	SkipExternalRerank bool `json:"-"`
}

// Item is the unit of every retrieval response.
type Item struct {
	Source   string         `json:"source"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// MetaString reads a string metadata field, returning "" if absent or
// not a string.
func (it *Item) MetaString(key string) string {
	if it.Metadata == nil {
		return ""
	}
	v, ok := it.Metadata[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// MetaBool reads a bool metadata field, returning false if absent or
// not a bool.
func (it *Item) MetaBool(key string) bool {
	if it.Metadata == nil {
		return false
	}
	v, ok := it.Metadata[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// EnsureMetadata returns the item's metadata map, allocating it if nil.
func (it *Item) EnsureMetadata() map[string]any {
	if it.Metadata == nil {
		it.Metadata = make(map[string]any)
	}
	return it.Metadata
}

// FiniteOr returns v unless it is NaN or infinite, in which case def.
// Every surfaced score and similarity must be a finite real number.
func FiniteOr(v, def float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return v
}

// PhaseTimings records per-phase latencies in milliseconds.
type PhaseTimings struct {
	Total    int64 `json:"total"`
	Embed    int64 `json:"embed,omitempty"`
	Retrieve int64 `json:"retrieve,omitempty"`
	Rerank   int64 `json:"rerank,omitempty"`
	Fusion   int64 `json:"fusion,omitempty"`
	Policy   int64 `json:"policy,omitempty"`
}

// Trace is the diagnostic object accompanying every response.
type Trace struct {
	FiltersApplied          map[string]any `json:"filters_applied,omitempty"`
	EngineMode              string         `json:"engine_mode,omitempty"`
	PlannerUsed             bool           `json:"planner_used"`
	FallbackTaken           bool           `json:"fallback_taken"`
	TimingsMS               PhaseTimings   `json:"timings_ms"`
	Warnings                []string       `json:"warnings,omitempty"`
	WarningCodes            []string       `json:"warning_codes,omitempty"`
	ScopePenalizedCount     int            `json:"scope_penalized_count"`
	ScopePenalizedRatio     float64        `json:"scope_penalized_ratio"`
	ScoreSpace              ScoreSpace     `json:"score_space,omitempty"`
	MissingScopes           []string       `json:"missing_scopes,omitempty"`
	MissingClauseRefs       []string       `json:"missing_clause_refs,omitempty"`
	HintsApplied            []string       `json:"hints_applied,omitempty"`
	PolicyDroppedMinScore   int            `json:"policy_dropped_min_score,omitempty"`
	PolicyDroppedStructural int            `json:"policy_dropped_structural,omitempty"`
	ScoreSpaceBypassed      int            `json:"score_space_bypassed,omitempty"`
}

// AddWarning appends a warning, deduplicating against what is already
// present while preserving first-occurrence order.
func (t *Trace) AddWarning(w string) {
	for _, existing := range t.Warnings {
		if existing == w {
			return
		}
	}
	t.Warnings = append(t.Warnings, w)
}

// AddWarningCode appends a warning code, deduplicating while
// preserving first-occurrence order.
func (t *Trace) AddWarningCode(code string) {
	for _, existing := range t.WarningCodes {
		if existing == code {
			return
		}
	}
	t.WarningCodes = append(t.WarningCodes, code)
}

// MergeWarnings appends validation warnings first (stable order), then
// repository warnings, deduplicating while preserving first
// occurrence, and lifts HYBRID_RPC_SIGNATURE_MISMATCH_HNSW whenever a
// warning mentions both "signature_mismatch" and "hnsw".
func (t *Trace) MergeWarnings(validationWarnings, repoWarnings []string) {
	for _, w := range validationWarnings {
		t.AddWarning(w)
	}
	for _, w := range repoWarnings {
		t.AddWarning(w)
		lower := strings.ToLower(w)
		if strings.Contains(lower, "signature_mismatch") && strings.Contains(lower, "hnsw") {
			t.AddWarningCode("HYBRID_RPC_SIGNATURE_MISMATCH_HNSW")
		}
	}
}

// ScopeResolution is the outcome of parsing a query for normative
// standard references.
type ScopeResolution struct {
	RequestedStandards         []string `json:"requested_standards"`
	RequiresScopeClarification bool     `json:"requires_scope_clarification"`
	SuggestedScopes            []string `json:"suggested_scopes"`
}

// Plan is produced by intent classification ahead of dispatch.
type Plan struct {
	Mode                   RetrievalMode `json:"mode"`
	ChunkK                 int           `json:"chunk_k"`
	ChunkFetchK            int           `json:"chunk_fetch_k"`
	SummaryK               int           `json:"summary_k"`
	RequireLiteralEvidence bool          `json:"require_literal_evidence"`
	RequestedStandards     []string      `json:"requested_standards"`
}
