package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/kozaktomas/people-tracker/internal/plugin"
)

// SmolVLM asks a vision language model server what the person is doing.
type SmolVLM struct {
	url          string
	apiKey       string
	maxNewTokens int
	client       *http.Client
}

// NewSmolVLM creates the activity plugin. url is the full describe endpoint.
func NewSmolVLM(url, apiKey string, maxNewTokens int, client *http.Client) *SmolVLM {
	if maxNewTokens <= 0 {
		maxNewTokens = 200
	}
	return &SmolVLM{url: url, apiKey: apiKey, maxNewTokens: maxNewTokens, client: client}
}

func (*SmolVLM) Name() string            { return "smolvlm_activity" }
func (*SmolVLM) Input() plugin.InputKind { return plugin.InputBody }
func (*SmolVLM) Async() bool             { return true }

type smolvlmResponse struct {
	Description   string  `json:"description"`
	InferenceTime float64 `json:"inference_time"`
}

func (v *SmolVLM) Process(ctx context.Context, s plugin.Subject) (map[string]any, error) {
	body, err := postImage(ctx, v.client, imageUpload{
		URL:       v.url,
		Field:     "image",
		Filename:  "body_image.jpg",
		Image:     s.Observation.BodyImage,
		Fields:    map[string]string{"max_new_tokens": strconv.Itoa(v.maxNewTokens)},
		Bearer:    v.apiKey,
		RequestID: s.RequestID,
	})
	if err != nil {
		return nil, fmt.Errorf("activity API: %w", err)
	}

	var resp smolvlmResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse activity response: %w", err)
	}
	description := assistantReply(resp.Description)
	if description == "" {
		description = "No description available"
	}
	return map[string]any{
		"description":    description,
		"inference_time": resp.InferenceTime,
		"method":         "smolvlm_api",
	}, nil
}

// assistantReply drops the echoed chat transcript, keeping the text after
// the last "Assistant:" marker.
func assistantReply(s string) string {
	if i := strings.LastIndex(s, "Assistant:"); i >= 0 {
		s = s[i+len("Assistant:"):]
	}
	return strings.TrimSpace(s)
}
