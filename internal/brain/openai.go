package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIGenerator calls the OpenAI Responses API. Retries are handled by
// the Retrying wrapper, so the client's own retries are disabled.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

func NewOpenAIGenerator(apiKey, model, baseURL string) *OpenAIGenerator {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultOpenAIModel
	}
	client := openai.NewClient(opts...)
	return &OpenAIGenerator{client: &client, model: model}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	params := responses.ResponseNewParams{
		Model:       g.model,
		Temperature: openai.Float(req.Temperature),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(req.Prompt, responses.EasyInputMessageRoleUser),
			},
		},
	}
	if req.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.UserID != "" {
		params.User = openai.String(req.UserID)
	}

	resp, err := g.client.Responses.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return Response{}, &StatusError{Provider: ProviderOpenAI, Code: apiErr.StatusCode, Body: apiErr.Message}
		}
		return Response{}, fmt.Errorf("openai responses: %w", err)
	}
	text := strings.TrimSpace(resp.OutputText())
	if text == "" {
		return Response{}, errors.New("openai returned empty output")
	}
	return Response{
		Text:       text,
		TokensUsed: int(resp.Usage.TotalTokens),
		Provider:   ProviderOpenAI,
	}, nil
}
