package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxSafeChars is the boundary past which a text is split before being
// sent to the cloud API.
const maxSafeChars = 15000

// CloudProvider is an HTTP embedding provider. Long texts are split on
// safe boundaries (paragraph, then sentence, then word, then hard cut) and the
// per-text embedding is reconstructed by mean-pooling the pieces.
type CloudProvider struct {
	baseURL    string
	model      string
	dimension  int
	httpClient *http.Client
}

// NewCloudProvider builds a CloudProvider.
func NewCloudProvider(baseURL, model string, dimension int) *CloudProvider {
	return &CloudProvider{
		baseURL:    baseURL,
		model:      model,
		dimension:  dimension,
		httpClient: &http.Client{},
	}
}

type cloudEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
	Task  string   `json:"task"`
}

type cloudEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed splits any over-length text, calls the provider once for all
// pieces across all inputs, then mean-pools each input's pieces back
// into a single vector.
func (p *CloudProvider) Embed(ctx context.Context, texts []string, task Task) ([][]float32, error) {
	allPieces := make([]string, 0, len(texts))
	spans := make([][2]int, len(texts)) // [start,end) index range into allPieces

	for i, text := range texts {
		pieces := splitLongText(text, maxSafeChars)
		start := len(allPieces)
		allPieces = append(allPieces, pieces...)
		spans[i] = [2]int{start, len(allPieces)}
	}

	vectors, err := p.rawEmbed(ctx, allPieces, task)
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, span := range spans {
		out[i] = meanPool(vectors[span[0]:span[1]])
	}
	return out, nil
}

func (p *CloudProvider) rawEmbed(ctx context.Context, texts []string, task Task) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(cloudEmbedRequest{Model: p.model, Input: texts, Task: string(task)})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloud embedding provider: connection error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("cloud embedding provider error (status %d): %s", resp.StatusCode, string(b))
	}

	var decoded cloudEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	if len(decoded.Embeddings) != len(texts) {
		return nil, fmt.Errorf("cloud embedding provider returned %d vectors for %d inputs", len(decoded.Embeddings), len(texts))
	}
	return decoded.Embeddings, nil
}

// ChunkAndEncode implements late chunking: the whole text is embedded
// once for global context, the text is then split into spans, and each
// span's embedding is approximated by re-embedding the span pooled
// together with the whole-text vector. A true late-chunking model
// would pool token-level states; without one, pooling the span
// embedding with the global embedding is the documented approximation.
func (p *CloudProvider) ChunkAndEncode(ctx context.Context, text string) ([]Span, error) {
	global, err := p.rawEmbed(ctx, []string{text}, TaskRetrievalPassage)
	if err != nil {
		return nil, err
	}
	globalVec := global[0]

	pieces := splitLongText(text, maxSafeChars/4)
	if len(pieces) == 0 {
		return nil, nil
	}
	local, err := p.rawEmbed(ctx, pieces, TaskRetrievalPassage)
	if err != nil {
		return nil, err
	}

	spans := make([]Span, len(pieces))
	cursor := 0
	for i, piece := range pieces {
		start := strings.Index(text[cursor:], piece)
		if start < 0 {
			start = 0
		} else {
			start += cursor
		}
		end := start + len(piece)
		spans[i] = Span{
			Content:   piece,
			Embedding: meanPool([][]float32{local[i], globalVec}),
			CharStart: start,
			CharEnd:   end,
		}
		cursor = end
	}
	return spans, nil
}

// Profile reports this provider's identity.
func (p *CloudProvider) Profile() Profile {
	return Profile{Provider: "CLOUD", Model: p.model, Dimensions: p.dimension}
}

var _ Port = (*CloudProvider)(nil)

// meanPool averages a set of equal-length vectors.
func meanPool(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	if len(vectors) == 1 {
		return vectors[0]
	}
	out := make([]float32, len(vectors[0]))
	for _, v := range vectors {
		for i, x := range v {
			if i < len(out) {
				out[i] += x
			}
		}
	}
	n := float32(len(vectors))
	for i := range out {
		out[i] /= n
	}
	return out
}

// splitLongText splits text into pieces no longer than maxChars,
// preferring paragraph breaks, then sentence breaks, then the last
// space, then a hard cut.
func splitLongText(text string, maxChars int) []string {
	if len(text) <= maxChars {
		return []string{text}
	}

	var pieces []string
	remaining := text
	for len(remaining) > maxChars {
		cut := findSafeCut(remaining, maxChars)
		pieces = append(pieces, remaining[:cut])
		remaining = remaining[cut:]
	}
	if len(remaining) > 0 {
		pieces = append(pieces, remaining)
	}
	return pieces
}

func findSafeCut(text string, maxChars int) int {
	window := text[:maxChars]
	if idx := strings.LastIndex(window, "\n\n"); idx > maxChars/2 {
		return idx + 2
	}
	if idx := strings.LastIndexAny(window, ".!?"); idx > maxChars/2 {
		return idx + 1
	}
	if idx := strings.LastIndex(window, " "); idx > 0 {
		return idx + 1
	}
	return maxChars
}

// IsTechnicalFailure reports whether an error message looks like a
// transient/infrastructure failure eligible for cross-provider
// fallback on a passage task.
func IsTechnicalFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"timeout", "connection", "rate limit", "502", "503", "504"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
