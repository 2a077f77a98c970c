package ai

import (
	"context"
	"encoding/base64"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const defaultOpenAIModel = openai.ChatModelGPT4_1Mini

type OpenAIProvider struct {
	client *openai.Client
	model  openai.ChatModel
	usageCounter
}

// NewOpenAIProvider creates an OpenAI-backed provider. Extra options are
// appended to the client (tests point it at a local server).
func NewOpenAIProvider(apiKey, model string, opts ...option.RequestOption) *OpenAIProvider {
	chatModel := defaultOpenAIModel
	if model != "" {
		chatModel = openai.ChatModel(model)
	}
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &OpenAIProvider{client: &client, model: chatModel}
}

func (p *OpenAIProvider) Name() string {
	return string(p.model)
}

func (p *OpenAIProvider) Describe(ctx context.Context, jpeg []byte) (*PersonDescription, error) {
	resized, err := prepareImage(jpeg)
	if err != nil {
		return nil, err
	}
	imageURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(resized)

	messages := []openai.ChatCompletionMessageParamUnion{
		{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: openai.String(personDescriptionPrompt),
				},
			},
		},
		{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfArrayOfContentParts: []openai.ChatCompletionContentPartUnionParam{
						openai.TextContentPart(userMessage),
						openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
							URL:    imageURL,
							Detail: "low",
						}),
					},
				},
			},
		},
	}

	params := openai.ChatCompletionNewParams{
		Model:    p.model,
		Messages: messages,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		MaxTokens: openai.Int(maxOutputTokens),
	}

	ask := func(ctx context.Context) (string, error) {
		resp, err := p.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", err
		}
		p.add(int(resp.Usage.PromptTokens), int(resp.Usage.CompletionTokens))
		if len(resp.Choices) == 0 {
			return "", ErrNoResponse
		}
		return resp.Choices[0].Message.Content, nil
	}
	repair := func(answer, feedback string) {
		params.Messages = append(params.Messages,
			openai.AssistantMessage(answer),
			openai.UserMessage(feedback),
		)
	}
	return describe(ctx, "openai", ask, repair)
}
