package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
)

// HTTPReranker calls a Jina-compatible cross-encoder rerank HTTP
// endpoint, filtering results below RERANK_MIN_RELEVANCE_SCORE: a
// single small JSON-over-HTTP request/response pair, no retries,
// context-aware.
type HTTPReranker struct {
	baseURL      string
	minRelevance float64
	client       *http.Client
}

// NewHTTPReranker builds an HTTPReranker.
func NewHTTPReranker(baseURL string, minRelevance float64) *HTTPReranker {
	return &HTTPReranker{baseURL: baseURL, minRelevance: minRelevance, client: &http.Client{}}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponseItem struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type rerankResponse struct {
	Results []rerankResponseItem `json:"results"`
}

// RerankDocuments scores query/document pairs via the remote
// cross-encoder and returns results sorted by descending relevance,
// truncated to topN and filtered by the configured minimum score.
func (r *HTTPReranker) RerankDocuments(ctx context.Context, query string, documents []string, topN int) ([]Result, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(rerankRequest{Query: query, Documents: documents, TopN: topN})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reranker: connection error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("reranker error (status %d): %s", resp.StatusCode, string(b))
	}

	var decoded rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(decoded.Results))
	for _, item := range decoded.Results {
		if item.RelevanceScore < r.minRelevance {
			continue
		}
		results = append(results, Result{Index: item.Index, RelevanceScore: item.RelevanceScore})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})

	if topN > 0 && len(results) > topN {
		results = results[:topN]
	}
	return results, nil
}

var _ Port = (*HTTPReranker)(nil)
