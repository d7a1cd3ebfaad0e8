package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// LocalProvider is an in-process-style embedding provider speaking the
// Ollama embeddings protocol. The "local model" is represented here as
// a lazily-initialized HTTP client to a sidecar process; the
// load-once-behind-a-mutex shape is preserved even though the
// transport is HTTP rather than an in-memory model handle.
type LocalProvider struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client

	loadOnce sync.Once
	loaded   bool
	loadMu   sync.Mutex
}

// NewLocalProvider builds a LocalProvider. The underlying client is
// not created until the first Embed/ChunkAndEncode call.
func NewLocalProvider(baseURL, model string, dimension int) *LocalProvider {
	return &LocalProvider{baseURL: baseURL, model: model, dimension: dimension}
}

func (p *LocalProvider) ensureLoaded() {
	p.loadOnce.Do(func() {
		p.loadMu.Lock()
		defer p.loadMu.Unlock()
		if p.client == nil {
			p.client = &http.Client{}
		}
		p.loaded = true
	})
}

type localEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type localEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed generates one embedding per input text, sequentially; the
// Ollama embeddings API takes one prompt per request.
func (p *LocalProvider) Embed(ctx context.Context, texts []string, task Task) ([][]float32, error) {
	p.ensureLoaded()

	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := p.embedOne(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("local provider: embed text %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func (p *LocalProvider) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(localEmbedRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("local embedding provider error (status %d): %s", resp.StatusCode, string(b))
	}

	var decoded localEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	if len(decoded.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned from local provider")
	}

	out := make([]float32, len(decoded.Embedding))
	for i, v := range decoded.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// ChunkAndEncode performs whole-text embedding once and returns it as
// a single span spanning the full text; true late-chunking pooling is
// implemented by CloudProvider, which actually splits long text.
func (p *LocalProvider) ChunkAndEncode(ctx context.Context, text string) ([]Span, error) {
	p.ensureLoaded()

	v, err := p.embedOne(ctx, text)
	if err != nil {
		return nil, err
	}
	return []Span{{Content: text, Embedding: v, CharStart: 0, CharEnd: len(text)}}, nil
}

// Profile reports this provider's identity.
func (p *LocalProvider) Profile() Profile {
	return Profile{Provider: "LOCAL", Model: p.model, Dimensions: p.dimension}
}

var _ Port = (*LocalProvider)(nil)
