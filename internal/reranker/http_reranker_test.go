package reranker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRerankDocuments_SortsAndFiltersByMinRelevance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "document control", req.Query)
		_ = json.NewEncoder(w).Encode(rerankResponse{Results: []rerankResponseItem{
			{Index: 0, RelevanceScore: 0.2},
			{Index: 1, RelevanceScore: 0.9},
			{Index: 2, RelevanceScore: 0.5},
		}})
	}))
	defer server.Close()

	r := NewHTTPReranker(server.URL, 0.3)
	results, err := r.RerankDocuments(context.TODO(), "document control", []string{"a", "b", "c"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].Index)
	assert.Equal(t, 2, results[1].Index)
}

func TestRerankDocuments_TruncatesToTopN(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(rerankResponse{Results: []rerankResponseItem{
			{Index: 0, RelevanceScore: 0.9},
			{Index: 1, RelevanceScore: 0.8},
			{Index: 2, RelevanceScore: 0.7},
		}})
	}))
	defer server.Close()

	r := NewHTTPReranker(server.URL, 0)
	results, err := r.RerankDocuments(context.TODO(), "q", []string{"a", "b", "c"}, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestRerankDocuments_EmptyDocumentsSkipsRequest(t *testing.T) {
	r := NewHTTPReranker("http://unused.invalid", 0)
	results, err := r.RerankDocuments(context.TODO(), "q", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRerankDocuments_PropagatesUpstreamErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	r := NewHTTPReranker(server.URL, 0)
	_, err := r.RerankDocuments(context.TODO(), "q", []string{"a"}, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
