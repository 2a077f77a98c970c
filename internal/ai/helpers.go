package ai

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kozaktomas/people-tracker/internal/constants"
	"github.com/kozaktomas/people-tracker/internal/imaging"
)

//go:embed prompts/person_description.txt
var personDescriptionPrompt string

const (
	maxRetries      = 3
	maxOutputTokens = 300
	userMessage     = "Describe the person in this image."
)

// prepareImage downsizes the crop to what vision models need.
func prepareImage(jpeg []byte) ([]byte, error) {
	resized, err := imaging.ResizeImage(jpeg, constants.DescriptionImageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to resize image: %w", err)
	}
	return resized, nil
}

// parseDescription decodes a model answer, tolerating text around the JSON.
func parseDescription(content string) (*PersonDescription, error) {
	var d PersonDescription
	if err := json.Unmarshal([]byte(extractJSON(content)), &d); err != nil {
		return nil, err
	}
	if d.Summary == "" {
		return nil, fmt.Errorf("missing summary field")
	}
	d.Confidence = min(max(d.Confidence, 0), 1)
	return &d, nil
}

// exchange sends the running conversation and returns the model's text.
type exchange func(ctx context.Context) (string, error)

// describe drives the ask/parse/repair loop shared by all providers. repair
// appends the bad answer and a correction request to the conversation so
// the next exchange sees both.
func describe(ctx context.Context, provider string, ask exchange, repair func(answer, feedback string)) (*PersonDescription, error) {
	var (
		parseErr error
		answer   string
	)
	for range maxRetries {
		var err error
		answer, err = ask(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", provider, err)
		}
		if strings.TrimSpace(answer) == "" {
			return nil, fmt.Errorf("%s: %w", provider, ErrNoResponse)
		}

		desc, err := parseDescription(answer)
		if err == nil {
			return desc, nil
		}
		parseErr = err
		repair(answer, retryMessage(err))
	}
	return nil, fmt.Errorf("%s: no valid description after %d attempts: %w (last answer: %.200s)", provider, maxRetries, parseErr, answer)
}

// retryMessage asks the model to repair malformed JSON.
func retryMessage(err error) string {
	return fmt.Sprintf("JSON parse error: %v. Please fix the JSON and try again. Output ONLY valid JSON, no other text.", err)
}

// extractJSON attempts to extract JSON from a response that may contain extra text
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	if start == -1 {
		return content
	}

	depth := 0
	for i := start; i < len(content); i++ {
		switch content[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}

	// If no matching brace found, return from start
	return content[start:]
}
