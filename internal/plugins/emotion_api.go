package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kozaktomas/people-tracker/internal/plugin"
)

// EmotionAPIName is the registration name of the emotion plugin.
const EmotionAPIName = "emotion_api"

const healthTimeout = 5 * time.Second

// EmotionAPI sends face crops to a remote emotion classifier.
type EmotionAPI struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewEmotionAPI(baseURL string, client *http.Client, logger *slog.Logger) *EmotionAPI {
	return &EmotionAPI{baseURL: strings.TrimSuffix(baseURL, "/"), client: client, logger: logger}
}

func (*EmotionAPI) Name() string            { return EmotionAPIName }
func (*EmotionAPI) Input() plugin.InputKind { return plugin.InputFace }
func (*EmotionAPI) Async() bool             { return true }

// Start checks GET /health once. A failing service stays registered.
func (e *EmotionAPI) Start(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("emotion API unreachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("emotion API health check returned status %d", resp.StatusCode)
	}
	e.logger.Info("emotion API is healthy", "url", e.baseURL)
	return nil
}

type emotionResponse struct {
	Faces []struct {
		TopEmotion string             `json:"top_emotion"`
		Scores     map[string]float64 `json:"scores"`
	} `json:"faces"`
}

func (e *EmotionAPI) Process(ctx context.Context, s plugin.Subject) (map[string]any, error) {
	body, err := postImage(ctx, e.client, imageUpload{
		URL:       e.baseURL + "/detect",
		Field:     "file",
		Filename:  "face.jpg",
		Image:     s.Observation.FaceImage,
		RequestID: s.RequestID,
	})
	if err != nil {
		return nil, fmt.Errorf("emotion API: %w", err)
	}

	var resp emotionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse emotion response: %w", err)
	}
	if len(resp.Faces) == 0 {
		return map[string]any{
			"emotion":    "unknown",
			"confidence": 0.0,
			"method":     "api_emotion_detection",
			"note":       "no faces detected by API",
		}, nil
	}

	face := resp.Faces[0]
	top := face.TopEmotion
	if top == "" {
		top = "unknown"
	}
	return map[string]any{
		"emotion":    top,
		"confidence": face.Scores[top],
		"all_scores": face.Scores,
		"method":     "api_emotion_detection",
	}, nil
}
