// Package answer implements the thin knowledge-answer boundary: it
// drives the Comprehensive Coordinator for context, then asks the LLM
// Port for synthesis. On ambiguous scope it short-circuits before ever
// calling the coordinator or the model.
package answer

import (
	"context"
	"strings"

	"github.com/normcite/retrieval-core/internal/comprehensive"
	"github.com/normcite/retrieval-core/internal/llm"
	"github.com/normcite/retrieval-core/internal/model"
	"github.com/normcite/retrieval-core/internal/planner"
	"github.com/normcite/retrieval-core/internal/scope"
)

// modeAmbiguousScope is the wire value for an ambiguous-scope
// response, distinct from the lowercase internal planner mode constant
// of the same meaning.
const modeAmbiguousScope = "AMBIGUOUS_SCOPE"

// Response is the /knowledge/answer payload.
type Response struct {
	Answer        string       `json:"answer"`
	ContextChunks []model.Item `json:"context_chunks"`
	Citations     []string     `json:"citations"`
	Mode          string       `json:"mode"`
	ScopeMessage  string       `json:"scope_message,omitempty"`
}

// Handler wires the scope resolver, Comprehensive Coordinator, and LLM
// Port into the synthesis boundary.
type Handler struct {
	Resolver    *scope.Resolver
	Coordinator *comprehensive.Coordinator
	LLM         llm.Synthesizer
	Model       string
}

// New builds a Handler.
func New(resolver *scope.Resolver, coordinator *comprehensive.Coordinator, llmPort llm.Synthesizer, llmModel string) *Handler {
	return &Handler{Resolver: resolver, Coordinator: coordinator, LLM: llmPort, Model: llmModel}
}

// Answer resolves scope, short-circuits on ambiguity, otherwise runs
// the comprehensive retrieval path and synthesizes an answer grounded
// in its context chunks.
func (h *Handler) Answer(ctx context.Context, q model.Query, rawFilters scope.RawFilters) (Response, error) {
	resolution := h.Resolver.Resolve(q.Text)
	if resolution.RequiresScopeClarification {
		return Response{
			ContextChunks: []model.Item{},
			Citations:     []string{},
			Mode:          modeAmbiguousScope,
			ScopeMessage:  scopeMessage(resolution.SuggestedScopes),
		}, nil
	}

	plan := planner.Classify(q.Text, resolution)
	if q.K <= 0 {
		q.K = plan.ChunkK
	}
	if q.FetchK <= 0 {
		q.FetchK = plan.ChunkFetchK
	}

	result, err := h.Coordinator.Run(ctx, q, rawFilters, resolution.RequestedStandards, q.RetrievalPolicy)
	if err != nil {
		return Response{}, err
	}

	synthesized, err := h.LLM.Synthesize(ctx, q.Text, result.Items, llm.SynthesisOptions{
		Model:       h.Model,
		Temperature: llm.DefaultSynthesisTemperature,
	})
	if err != nil {
		return Response{}, err
	}

	// Prefer the sources the model actually cited; an answer with no
	// citation markers still reports every retrieved source.
	cited := synthesized.CitedSources
	if len(cited) == 0 {
		cited = citations(result.Items)
	}

	return Response{
		Answer:        synthesized.Answer,
		ContextChunks: result.Items,
		Citations:     cited,
		Mode:          string(plan.Mode),
	}, nil
}

func scopeMessage(suggested []string) string {
	if len(suggested) == 0 {
		return "query scope is ambiguous; no clear standard could be inferred"
	}
	return "query scope is ambiguous; candidates: " + strings.Join(suggested, ", ")
}

func citations(items []model.Item) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Source)
	}
	return out
}
