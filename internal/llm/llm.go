// Package llm defines the abstract answer-synthesis port the
// /knowledge/answer boundary uses to turn retrieved evidence into a
// grounded natural-language answer, plus an Ollama-backed
// implementation of it.
package llm

import (
	"context"

	"github.com/normcite/retrieval-core/internal/model"
)

// SynthesisOptions configures an answer-synthesis call.
type SynthesisOptions struct {
	// Model overrides the synthesizer's configured default model.
	Model string

	// Temperature controls randomness in generation (0.0 = deterministic, 1.0 = creative).
	Temperature float32

	// MaxTokens limits the maximum number of tokens in the answer.
	MaxTokens int
}

// Synthesis is a completed grounded answer. CitedSources lists the
// evidence labels the answer actually cited, in evidence order; a
// caller that needs full provenance can still fall back to every
// retrieved item's source.
type Synthesis struct {
	Answer       string
	CitedSources []string
}

// SynthesisChunk is a single streamed token of a synthesized answer.
type SynthesisChunk struct {
	// Token contains the generated text fragment.
	Token string

	// Done indicates whether this is the final chunk in the stream.
	Done bool

	// Error contains any error that occurred during streaming.
	Error error
}

// Synthesizer is the abstract LLM port: it turns a query plus grounding
// evidence (the items a coordinator already retrieved) into a cited
// answer. The model itself lives behind this port; only the port and
// its wiring belong here.
type Synthesizer interface {
	// Synthesize sends the query and its grounding evidence to the model
	// and returns the complete answer with the sources it cited. It
	// blocks until the full response is received or an error occurs.
	Synthesize(ctx context.Context, query string, evidence []model.Item, opts SynthesisOptions) (Synthesis, error)

	// SynthesizeStream streams the answer token by token. The channel is
	// closed when generation completes or an error occurs. Callers
	// should check SynthesisChunk.Error and SynthesisChunk.Done to
	// detect completion and errors.
	SynthesizeStream(ctx context.Context, query string, evidence []model.Item, opts SynthesisOptions) (<-chan SynthesisChunk, error)
}
