package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "llama3.2-vision:11b"

	// Local vision models are slow on CPU.
	ollamaTimeout = 2 * time.Minute
)

// OllamaProvider talks to a local Ollama server over its chat endpoint.
type OllamaProvider struct {
	endpoint string
	model    string
	client   *http.Client
	usageCounter
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	if model == "" {
		model = defaultOllamaModel
	}
	return &OllamaProvider{
		endpoint: strings.TrimRight(baseURL, "/") + "/api/chat",
		model:    model,
		client:   &http.Client{Timeout: ollamaTimeout},
	}
}

func (p *OllamaProvider) Name() string { return p.model }

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message         ollamaMessage `json:"message"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

func (p *OllamaProvider) Describe(ctx context.Context, jpeg []byte) (*PersonDescription, error) {
	resized, err := prepareImage(jpeg)
	if err != nil {
		return nil, err
	}

	req := ollamaRequest{
		Model:   p.model,
		Format:  "json",
		Options: map[string]any{"num_predict": maxOutputTokens},
		Messages: []ollamaMessage{
			{Role: "system", Content: personDescriptionPrompt},
			{Role: "user", Content: userMessage, Images: []string{base64.StdEncoding.EncodeToString(resized)}},
		},
	}

	ask := func(ctx context.Context) (string, error) {
		resp, err := p.chat(ctx, &req)
		if err != nil {
			return "", err
		}
		p.add(resp.PromptEvalCount, resp.EvalCount)
		return resp.Message.Content, nil
	}
	repair := func(answer, feedback string) {
		req.Messages = append(req.Messages,
			ollamaMessage{Role: "assistant", Content: answer},
			ollamaMessage{Role: "user", Content: feedback},
		)
	}
	return describe(ctx, "ollama", ask, repair)
}

func (p *OllamaProvider) chat(ctx context.Context, body *ollamaRequest) (*ollamaResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("chat returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	return &out, nil
}
