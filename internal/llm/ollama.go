package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/normcite/retrieval-core/internal/model"
)

const (
	// DefaultOllamaBaseURL is the default Ollama API endpoint.
	DefaultOllamaBaseURL = "http://localhost:11434"

	// DefaultSynthesisModel is the default answer-synthesis model.
	DefaultSynthesisModel = "llama3.2"

	// DefaultSynthesisTemperature favors deterministic, evidence-grounded
	// answers over creative ones.
	DefaultSynthesisTemperature = 0.3

	// maxEvidenceChars bounds how much of a single item's content is
	// quoted into the context window.
	maxEvidenceChars = 2000
)

const groundingInstructions = "You answer questions about normative standards using only " +
	"the evidence fragments below. Cite every claim with the bracketed label of the " +
	"fragment that supports it, e.g. [C1]. If the evidence does not answer the " +
	"question, say so instead of guessing."

// OllamaSynthesizer implements Synthesizer over Ollama's chat API. The
// retrieved evidence is rendered as a labeled fragment list in the
// system message, and the finished answer is scanned for which labels
// it actually cited.
type OllamaSynthesizer struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaSynthesizer builds an OllamaSynthesizer. Empty arguments
// fall back to the defaults above.
func NewOllamaSynthesizer(baseURL, model string) *OllamaSynthesizer {
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	if model == "" {
		model = DefaultSynthesisModel
	}
	return &OllamaSynthesizer{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

// Synthesize sends the query and its labeled evidence to the model and
// returns the answer together with the evidence labels it cited.
func (s *OllamaSynthesizer) Synthesize(ctx context.Context, query string, evidence []model.Item, opts SynthesisOptions) (Synthesis, error) {
	block, labels := evidenceBlock(evidence)

	resp, err := s.chat(ctx, query, block, opts, false)
	if err != nil {
		return Synthesis{}, err
	}
	defer resp.Body.Close()

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Synthesis{}, fmt.Errorf("decoding chat response: %w", err)
	}

	answer := decoded.Message.Content
	return Synthesis{Answer: answer, CitedSources: citedLabels(answer, labels)}, nil
}

// SynthesizeStream streams the answer token by token over the same
// labeled-evidence chat exchange.
func (s *OllamaSynthesizer) SynthesizeStream(ctx context.Context, query string, evidence []model.Item, opts SynthesisOptions) (<-chan SynthesisChunk, error) {
	block, _ := evidenceBlock(evidence)

	resp, err := s.chat(ctx, query, block, opts, true)
	if err != nil {
		return nil, err
	}

	chunks := make(chan SynthesisChunk)
	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var decoded chatResponse
			if err := json.Unmarshal(line, &decoded); err != nil {
				chunks <- SynthesisChunk{Error: fmt.Errorf("parsing stream line: %w", err), Done: true}
				return
			}

			select {
			case <-ctx.Done():
				chunks <- SynthesisChunk{Error: ctx.Err(), Done: true}
				return
			case chunks <- SynthesisChunk{Token: decoded.Message.Content, Done: decoded.Done}:
			}

			if decoded.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			chunks <- SynthesisChunk{Error: fmt.Errorf("reading stream: %w", err), Done: true}
		}
	}()

	return chunks, nil
}

// chat issues one chat call: grounding instructions plus the evidence
// block as the system message, the user's question as the user message.
func (s *OllamaSynthesizer) chat(ctx context.Context, query, evidence string, opts SynthesisOptions, stream bool) (*http.Response, error) {
	chatModel := opts.Model
	if chatModel == "" {
		chatModel = s.model
	}

	reqBody := chatRequest{
		Model: chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: groundingInstructions + "\n\nEvidence:\n" + evidence},
			{Role: "user", Content: query},
		},
		Stream: stream,
	}

	options := make(map[string]any)
	if opts.Temperature > 0 {
		options["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	if len(options) > 0 {
		reqBody.Options = options
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling ollama: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("ollama chat error (status %d): %s", resp.StatusCode, string(b))
	}
	return resp, nil
}

// evidenceBlock renders retrieved items as labeled fragments the model
// can cite: each line carries the item's source label, its standard and
// clause when known, and its content bounded to maxEvidenceChars.
// Returns the rendered block and the labels in evidence order.
func evidenceBlock(evidence []model.Item) (string, []string) {
	var b strings.Builder
	labels := make([]string, len(evidence))
	for i, item := range evidence {
		label := item.Source
		if label == "" {
			label = fmt.Sprintf("S%d", i+1)
		}
		labels[i] = label

		b.WriteString("[" + label + "]")
		if standard := item.MetaString("source_standard"); standard != "" {
			b.WriteString(" " + standard)
			if clause := item.MetaString("clause_id"); clause != "" {
				b.WriteString(" " + clause)
			}
		}

		content := item.Content
		if len(content) > maxEvidenceChars {
			content = content[:maxEvidenceChars]
		}
		b.WriteString(": " + content + "\n")
	}
	return b.String(), labels
}

// citedLabels returns the evidence labels the answer cites, in
// evidence order.
func citedLabels(answer string, labels []string) []string {
	var cited []string
	for _, label := range labels {
		if strings.Contains(answer, "["+label+"]") {
			cited = append(cited, label)
		}
	}
	return cited
}

var _ Synthesizer = (*OllamaSynthesizer)(nil)
