package ai

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

type GeminiProvider struct {
	client *genai.Client
	model  string
	usageCounter
}

func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if model == "" {
		model = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

func (p *GeminiProvider) Name() string {
	return p.model
}

func (p *GeminiProvider) Describe(ctx context.Context, jpeg []byte) (*PersonDescription, error) {
	resized, err := prepareImage(jpeg)
	if err != nil {
		return nil, err
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: personDescriptionPrompt + "\n\n" + userMessage},
				{InlineData: &genai.Blob{Data: resized, MIMEType: "image/jpeg"}},
			},
		},
	}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		MaxOutputTokens:  maxOutputTokens,
	}

	ask := func(ctx context.Context) (string, error) {
		result, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
		if err != nil {
			return "", err
		}
		if u := result.UsageMetadata; u != nil {
			p.add(int(u.PromptTokenCount), int(u.CandidatesTokenCount))
		}
		return result.Text(), nil
	}
	repair := func(answer, feedback string) {
		contents = append(contents,
			genai.NewContentFromText(answer, genai.RoleModel),
			genai.NewContentFromText(feedback, genai.RoleUser),
		)
	}
	return describe(ctx, "gemini", ask, repair)
}
