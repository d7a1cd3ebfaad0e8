package answer

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normcite/retrieval-core/internal/comprehensive"
	"github.com/normcite/retrieval-core/internal/embedding"
	"github.com/normcite/retrieval-core/internal/hybrid"
	"github.com/normcite/retrieval-core/internal/llm"
	"github.com/normcite/retrieval-core/internal/model"
	"github.com/normcite/retrieval-core/internal/repo"
	"github.com/normcite/retrieval-core/internal/scope"
)

type stubEmbedder struct{ vector []float32 }

func (s *stubEmbedder) Embed(ctx context.Context, texts []string, task embedding.Task) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vector
	}
	return out, nil
}
func (s *stubEmbedder) ChunkAndEncode(ctx context.Context, text string) ([]embedding.Span, error) {
	return nil, nil
}
func (s *stubEmbedder) Profile() embedding.Profile { return embedding.Profile{Provider: "stub"} }

type stubRepo struct{ rows []repo.Row }

func (s *stubRepo) RetrieveHybridOptimized(ctx context.Context, req repo.HybridSearchRequest) (repo.HybridSearchResult, error) {
	return repo.HybridSearchResult{Rows: s.rows}, nil
}
func (s *stubRepo) SearchVectorsOnly(ctx context.Context, req repo.HybridSearchRequest) ([]repo.Row, error) {
	return nil, nil
}
func (s *stubRepo) SearchFTSOnly(ctx context.Context, req repo.HybridSearchRequest) ([]repo.Row, error) {
	return nil, nil
}
func (s *stubRepo) MatchSummaries(ctx context.Context, req repo.SummarySearchRequest) ([]repo.Row, error) {
	return nil, nil
}
func (s *stubRepo) FetchChunksByIDs(ctx context.Context, tenantID string, ids []string) ([]repo.Row, error) {
	return nil, nil
}
func (s *stubRepo) ResolveSummariesToChunkIDs(ctx context.Context, tenantID string, summaryIDs []string, maxDepth int) (map[string][]repo.ScoredChunkID, error) {
	return nil, nil
}
func (s *stubRepo) RetrieveGraphNodes(ctx context.Context, req repo.GraphSearchRequest) ([]repo.Row, error) {
	return nil, nil
}

type stubLLM struct {
	response string
	cited    []string
	query    string
	evidence []model.Item
}

func (s *stubLLM) Synthesize(ctx context.Context, query string, evidence []model.Item, opts llm.SynthesisOptions) (llm.Synthesis, error) {
	s.query = query
	s.evidence = evidence
	return llm.Synthesis{Answer: s.response, CitedSources: s.cited}, nil
}
func (s *stubLLM) SynthesizeStream(ctx context.Context, query string, evidence []model.Item, opts llm.SynthesisOptions) (<-chan llm.SynthesisChunk, error) {
	return nil, nil
}

func TestAnswer_ShortCircuitsOnAmbiguousScopeWithoutCallingLLM(t *testing.T) {
	resolver := scope.New(nil)
	llmClient := &stubLLM{response: "should never be used"}
	h := New(resolver, nil, llmClient, "test-model")

	res, err := h.Answer(context.Background(), model.Query{Text: "what does clause 4.2 say", TenantID: "tenant-a"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "AMBIGUOUS_SCOPE", res.Mode)
	assert.NotEmpty(t, res.ScopeMessage)
	assert.Empty(t, llmClient.query)
	assert.Nil(t, llmClient.evidence)
}

func TestAnswer_SynthesizesFromRetrievedContext(t *testing.T) {
	resolver := scope.New(nil)
	validator := scope.NewValidator(resolver)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repository := &stubRepo{rows: []repo.Row{
		{ID: "1", Content: "Document control requires retention of records.", Metadata: map[string]any{"tenant_id": "tenant-a"}},
	}}
	retriever := hybrid.New(&stubEmbedder{vector: []float32{0.1}}, repository, nil, validator, logger)
	coordinator := comprehensive.New(retriever, &stubEmbedder{vector: []float32{0.1}}, repository, 4)
	llmClient := &stubLLM{response: "Retain records per document control."}

	h := New(resolver, coordinator, llmClient, "test-model")
	res, err := h.Answer(context.Background(), model.Query{Text: "ISO 9001 document control requirements", TenantID: "tenant-a", K: 4}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Retain records per document control.", res.Answer)
	assert.NotEmpty(t, res.Citations)
	require.NotEmpty(t, llmClient.evidence)
	assert.Contains(t, llmClient.evidence[0].Content, "Document control requires retention")
}

func TestAnswer_CitationsPreferTheSourcesTheModelCited(t *testing.T) {
	resolver := scope.New(nil)
	validator := scope.NewValidator(resolver)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repository := &stubRepo{rows: []repo.Row{
		{ID: "c1", Content: "Records must be retained.", Metadata: map[string]any{"tenant_id": "tenant-a"}},
		{ID: "c2", Content: "Audits occur annually.", Metadata: map[string]any{"tenant_id": "tenant-a"}},
	}}
	retriever := hybrid.New(&stubEmbedder{vector: []float32{0.1}}, repository, nil, validator, logger)
	coordinator := comprehensive.New(retriever, &stubEmbedder{vector: []float32{0.1}}, repository, 4)
	llmClient := &stubLLM{response: "Retention is required [c1].", cited: []string{"c1"}}

	h := New(resolver, coordinator, llmClient, "test-model")
	res, err := h.Answer(context.Background(), model.Query{Text: "ISO 9001 retention", TenantID: "tenant-a", K: 4}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, res.Citations)
}
