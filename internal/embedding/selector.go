package embedding

import "context"

// Selector chooses between a primary provider and an optional fallback
// provider, enforcing that LOCAL providers are never used in a
// deployed environment and retrying a technical failure on passage
// tasks through the fallback exactly once.
type Selector struct {
	primary  Port
	fallback Port // optional, may be nil
	deployed bool
}

// NewSelector builds a Selector. If deployed is true and primary
// reports a LOCAL profile, NewSelector panics: this is a startup-time
// configuration error, not a runtime one.
func NewSelector(primary, fallback Port, deployed bool) *Selector {
	if deployed && primary.Profile().Provider == "LOCAL" {
		panic("embedding: LOCAL provider is not permitted in a deployed environment")
	}
	return &Selector{primary: primary, fallback: fallback, deployed: deployed}
}

// Embed calls the primary provider, falling back to the configured
// fallback provider exactly once when the primary fails with a
// technical error on a passage task. Query-task errors are never
// retried.
func (s *Selector) Embed(ctx context.Context, texts []string, task Task) ([][]float32, error) {
	vectors, err := s.primary.Embed(ctx, texts, task)
	if err == nil {
		return vectors, nil
	}
	if task == TaskRetrievalPassage && s.fallback != nil && IsTechnicalFailure(err) {
		return s.fallback.Embed(ctx, texts, task)
	}
	return nil, err
}

// ChunkAndEncode delegates to the primary provider only; late-chunking
// is a passage-ingestion operation the fallback policy does not cover.
func (s *Selector) ChunkAndEncode(ctx context.Context, text string) ([]Span, error) {
	return s.primary.ChunkAndEncode(ctx, text)
}

// Profile reports the primary provider's identity.
func (s *Selector) Profile() Profile {
	return s.primary.Profile()
}

var _ Port = (*Selector)(nil)
