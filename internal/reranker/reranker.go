// Package reranker provides the cross-encoder Reranker Port and an
// HTTP-backed implementation that scores query/document pairs directly
// instead of prompting a generation model.
package reranker

import "context"

// Result is one reranked document.
type Result struct {
	Index          int
	RelevanceScore float64
}

// Port is the abstract cross-encoder reranker every retrieval path may
// optionally call.
type Port interface {
	// RerankDocuments scores each document against the query and
	// returns the top_n highest-scoring results, filtered by the
	// configured minimum relevance score.
	RerankDocuments(ctx context.Context, query string, documents []string, topN int) ([]Result, error)
}
