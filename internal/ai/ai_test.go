package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kozaktomas/people-tracker/internal/config"
	"github.com/openai/openai-go/option"
)

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 96))
	for x := range 64 {
		for y := range 96 {
			img.Set(x, y, color.RGBA{120, 80, 60, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

const validAnswer = `{"summary":"A person in a red jacket","apparent_age":"adult","clothing":["red jacket"],"accessories":["glasses"],"expression":"smiling","confidence":0.8}`

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"surrounded", "Sure! {\"a\":{\"b\":2}} hope this helps", `{"a":{"b":2}}`},
		{"no object", "no json here", "no json here"},
		{"unterminated", `text {"a":1`, `{"a":1`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSON(tt.content); got != tt.want {
				t.Errorf("extractJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseDescription(t *testing.T) {
	d, err := parseDescription("```json\n" + validAnswer + "\n```")
	if err != nil {
		t.Fatalf("parseDescription() error: %v", err)
	}
	if d.Summary != "A person in a red jacket" || d.Expression != "smiling" || len(d.Clothing) != 1 {
		t.Errorf("description = %+v", d)
	}

	d, err = parseDescription(`{"summary":"x","confidence":4}`)
	if err != nil {
		t.Fatal(err)
	}
	if d.Confidence != 1 {
		t.Errorf("confidence = %v, want clamped to 1", d.Confidence)
	}

	if _, err := parseDescription(`{"expression":"neutral"}`); err == nil {
		t.Error("expected error for missing summary")
	}
	if _, err := parseDescription("not json"); err == nil {
		t.Error("expected error for malformed answer")
	}
}

func TestPersonDescription_PayloadCopies(t *testing.T) {
	d := &PersonDescription{Summary: "s", Clothing: []string{"hat"}}
	p := d.Payload()
	d.Clothing[0] = "scarf"
	if p["clothing"].([]string)[0] != "hat" {
		t.Error("payload shares the clothing slice")
	}
}

func TestOllamaProvider_DescribeRetriesMalformedJSON(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) < 2 || len(req.Messages[1].Images) != 1 {
			t.Errorf("request must carry one image, got %+v", req.Messages)
		}

		content := "I think it's {broken"
		if calls.Add(1) > 1 {
			if len(req.Messages) != 4 {
				t.Errorf("retry should append feedback, got %d messages", len(req.Messages))
			}
			content = validAnswer
		}
		resp := map[string]any{
			"model":             req.Model,
			"message":           map[string]string{"role": "assistant", "content": content},
			"done":              true,
			"prompt_eval_count": 100,
			"eval_count":        20,
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL+"/", "")
	d, err := p.Describe(context.Background(), testJPEG(t))
	if err != nil {
		t.Fatalf("Describe() error: %v", err)
	}
	if d.ApparentAge != "adult" {
		t.Errorf("description = %+v", d)
	}
	if u := p.Usage(); u.Requests != 2 || u.InputTokens != 200 || u.OutputTokens != 40 {
		t.Errorf("usage = %+v", u)
	}
	if p.Name() != defaultOllamaModel {
		t.Errorf("Name() = %q", p.Name())
	}
}

func TestOllamaProvider_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "llava").Describe(context.Background(), testJPEG(t))
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestOllamaProvider_EmptyAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":""},"done":true}`))
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "").Describe(context.Background(), testJPEG(t))
	if !errors.Is(err, ErrNoResponse) {
		t.Errorf("expected ErrNoResponse, got %v", err)
	}
}

func TestDescribe_InvalidImage(t *testing.T) {
	_, err := NewOllamaProvider("http://127.0.0.1:1", "").Describe(context.Background(), []byte("nope"))
	if err == nil || !strings.Contains(err.Error(), "resize") {
		t.Errorf("expected resize error, got %v", err)
	}
}

func TestOpenAIProvider_Describe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4.1-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": validAnswer},
			}},
			"usage": map[string]any{"prompt_tokens": 50, "completion_tokens": 10, "total_tokens": 60},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider("test-token", "", option.WithBaseURL(srv.URL+"/v1/"), option.WithMaxRetries(0))
	d, err := p.Describe(context.Background(), testJPEG(t))
	if err != nil {
		t.Fatalf("Describe() error: %v", err)
	}
	if d.Summary != "A person in a red jacket" {
		t.Errorf("description = %+v", d)
	}
	if u := p.Usage(); u.InputTokens != 50 || u.OutputTokens != 10 {
		t.Errorf("usage = %+v", u)
	}
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		provider string
		wantNil  bool
		wantErr  bool
	}{
		{"", true, false},
		{"openai", false, false},
		{"ollama", false, false},
		{"claude", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.Plugins.DescriptionProvider = tt.provider
			cfg.OpenAI.Token = "x"
			p, err := NewProvider(context.Background(), cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if (p == nil) != tt.wantNil {
				t.Errorf("provider = %v, wantNil %v", p, tt.wantNil)
			}
		})
	}
}

func TestDescribe_GivesUpAfterRetries(t *testing.T) {
	asks, repairs := 0, 0
	ask := func(context.Context) (string, error) {
		asks++
		return "still not json", nil
	}
	_, err := describe(context.Background(), "stub", ask, func(string, string) { repairs++ })
	if err == nil || !strings.Contains(err.Error(), "stub: no valid description") {
		t.Fatalf("expected exhaustion error, got %v", err)
	}
	if asks != maxRetries || repairs != maxRetries {
		t.Errorf("asks = %d, repairs = %d, want %d each", asks, repairs, maxRetries)
	}
}
