// Package embedding defines the Embedding Port (text -> vector) and its
// caching, concurrency, and provider-selection layers. Concrete cloud
// and local providers are adapters; callers depend only on Port.
package embedding

import "context"

// Task distinguishes the embedding task so providers and caches can
// apply task-specific behavior (only "retrieval.query" is cached).
type Task string

const (
	TaskRetrievalQuery   Task = "retrieval.query"
	TaskRetrievalPassage Task = "retrieval.passage"
)

// Span is one late-chunked span of a chunk_and_encode call.
type Span struct {
	Content    string
	Embedding  []float32
	CharStart  int
	CharEnd    int
}

// Profile describes a provider's identity.
type Profile struct {
	Provider   string
	Model      string
	Dimensions int
}

// Port is the abstract embedding service every retrieval path depends on.
type Port interface {
	// Embed returns one vector per input text.
	Embed(ctx context.Context, texts []string, task Task) ([][]float32, error)

	// ChunkAndEncode embeds text under global context, then pools
	// per-span embeddings (late-chunking semantics).
	ChunkAndEncode(ctx context.Context, text string) ([]Span, error)

	// Profile reports the active provider/model/dimensions.
	Profile() Profile
}
