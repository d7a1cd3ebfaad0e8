package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normcite/retrieval-core/internal/embedding"
	"github.com/normcite/retrieval-core/internal/hybrid"
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

func newTestServer() *Server {
	resolver := scope.New(nil)
	validator := scope.NewValidator(resolver)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repository := &stubRepo{rows: []repo.Row{
		{ID: "1", Content: "Document control requires retention.", Metadata: map[string]any{"tenant_id": "tenant-a"}},
	}}
	retriever := hybrid.New(&stubEmbedder{vector: []float32{0.1}}, repository, nil, validator, logger)
	h := &Handlers{Resolver: resolver, Validator: validator, HybridRetriever: retriever, RRFK: 60}
	return New(Config{Port: 0, Logger: logger}, h)
}

func doRequest(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz_ReturnsHealthy(t *testing.T) {
	srv := newTestServer()
	rec := doRequest(t, srv.Router(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestValidateScope_ReturnsValidationResult(t *testing.T) {
	srv := newTestServer()
	rec := doRequest(t, srv.Router(), http.MethodPost, "/retrieval/validate-scope", map[string]any{
		"query": "ISO 9001 clause 8.5.1",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "valid")
}

func TestHybrid_MalformedBodyReturnsScopeValidationFailed(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/retrieval/hybrid", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "SCOPE_VALIDATION_FAILED")
}

func TestHybrid_ReturnsItemsOnSuccess(t *testing.T) {
	srv := newTestServer()
	rec := doRequest(t, srv.Router(), http.MethodPost, "/retrieval/hybrid", map[string]any{
		"query":     "document control requirements",
		"tenant_id": "tenant-a",
		"k":         4,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Document control requires retention")
}

func TestExplain_TruncatesToTopN(t *testing.T) {
	resolver := scope.New(nil)
	validator := scope.NewValidator(resolver)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repository := &stubRepo{rows: []repo.Row{
		{ID: "1", Content: "Document control requires retention.", Metadata: map[string]any{"tenant_id": "tenant-a"}},
		{ID: "2", Content: "Management review occurs annually.", Metadata: map[string]any{"tenant_id": "tenant-a"}},
	}}
	retriever := hybrid.New(&stubEmbedder{vector: []float32{0.1}}, repository, nil, validator, logger)
	h := &Handlers{Resolver: resolver, Validator: validator, HybridRetriever: retriever, RRFK: 60}
	srv := New(Config{Port: 0, Logger: logger}, h)

	rec := doRequest(t, srv.Router(), http.MethodPost, "/retrieval/explain", map[string]any{
		"query":     "document control requirements",
		"tenant_id": "tenant-a",
		"top_n":     1,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Items []map[string]any `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	assert.Contains(t, body.Items[0], "score_components")
}

func TestAnswer_RejectsMissingTenantID(t *testing.T) {
	srv := newTestServer()
	rec := doRequest(t, srv.Router(), http.MethodPost, "/knowledge/answer", map[string]any{
		"query": "what does document control require",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "TENANT_ID_REQUIRED")
}
