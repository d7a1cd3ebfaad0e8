package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normcite/retrieval-core/internal/model"
)

func TestSynthesize_ReturnsAnswerWithCitedSources(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3.2", req.Model)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Contains(t, req.Messages[0].Content, "[C1] ISO 9001 8.5.1: Document control requires retention.")
		assert.Equal(t, "user", req.Messages[1].Role)
		assert.Equal(t, "what does document control require", req.Messages[1].Content)

		_ = json.NewEncoder(w).Encode(chatResponse{
			Message: chatMessage{Role: "assistant", Content: "Records must be retained [C1]."},
			Done:    true,
		})
	}))
	defer server.Close()

	client := NewOllamaSynthesizer(server.URL, "")
	evidence := []model.Item{{
		Source:   "C1",
		Content:  "Document control requires retention.",
		Metadata: map[string]any{"source_standard": "ISO 9001", "clause_id": "8.5.1"},
	}}
	out, err := client.Synthesize(context.Background(), "what does document control require", evidence, SynthesisOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Records must be retained [C1].", out.Answer)
	assert.Equal(t, []string{"C1"}, out.CitedSources)
}

func TestSynthesize_ReportsOnlyLabelsTheAnswerCites(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse{
			Message: chatMessage{Role: "assistant", Content: "Per [C2], audits run annually."},
			Done:    true,
		})
	}))
	defer server.Close()

	client := NewOllamaSynthesizer(server.URL, "")
	evidence := []model.Item{
		{Source: "C1", Content: "Document control requires retention."},
		{Source: "C2", Content: "Internal audits occur annually."},
	}
	out, err := client.Synthesize(context.Background(), "how often are audits", evidence, SynthesisOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"C2"}, out.CitedSources)
}

func TestSynthesize_UsesPerCallModelOverride(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mistral", req.Model)
		_ = json.NewEncoder(w).Encode(chatResponse{Message: chatMessage{Content: "ok"}, Done: true})
	}))
	defer server.Close()

	client := NewOllamaSynthesizer(server.URL, "llama3.2")
	_, err := client.Synthesize(context.Background(), "hi", nil, SynthesisOptions{Model: "mistral"})
	require.NoError(t, err)
}

func TestSynthesize_PropagatesUpstreamErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("model busy"))
	}))
	defer server.Close()

	client := NewOllamaSynthesizer(server.URL, "")
	_, err := client.Synthesize(context.Background(), "hi", nil, SynthesisOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model busy")
}

func TestSynthesizeStream_DeliversTokensUntilDone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		for _, chunk := range []chatResponse{
			{Message: chatMessage{Content: "the "}, Done: false},
			{Message: chatMessage{Content: "answer"}, Done: true},
		} {
			_ = json.NewEncoder(w).Encode(chunk)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer server.Close()

	client := NewOllamaSynthesizer(server.URL, "")
	stream, err := client.SynthesizeStream(context.Background(), "hi", nil, SynthesisOptions{})
	require.NoError(t, err)

	var tokens []string
	for chunk := range stream {
		require.NoError(t, chunk.Error)
		tokens = append(tokens, chunk.Token)
		if chunk.Done {
			break
		}
	}
	assert.Equal(t, []string{"the ", "answer"}, tokens)
}

func TestEvidenceBlock_LabelsUnsourcedItemsByPosition(t *testing.T) {
	block, labels := evidenceBlock([]model.Item{
		{Source: "C1", Content: "first"},
		{Content: "second"},
	})
	assert.Equal(t, []string{"C1", "S2"}, labels)
	assert.Contains(t, block, "[C1]: first")
	assert.Contains(t, block, "[S2]: second")
}
