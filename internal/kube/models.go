package kube

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// openAIClient returns an OpenAI SDK client whose base URL is the service's
// /v1/ path behind the API server proxy.
func (c *Client) openAIClient(ref ServiceRef) (openai.Client, error) {
	base, err := c.url(c.proxyPath(ref, "/v1/"))
	if err != nil {
		return openai.Client{}, err
	}
	return openai.NewClient(
		option.WithBaseURL(base),
		option.WithHTTPClient(c.http),
		// ModelAPIs authenticate upstream themselves.
		option.WithAPIKey("kaos"),
		option.WithMaxRetries(0),
	), nil
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &APIError{StatusCode: apiErr.StatusCode, Body: apiErr.Error()}
	}
	return err
}

// ListModels returns the model ids served by a ModelAPI.
func (c *Client) ListModels(ctx context.Context, ref ServiceRef) ([]string, error) {
	client, err := c.openAIClient(ref)
	if err != nil {
		return nil, err
	}
	page, err := client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing models of %s: %w", ref.Name, wrapOpenAIError(err))
	}
	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// ProbeCompletion sends a single non-streaming prompt and returns the reply.
// It is used to smoke-test a ModelAPI.
func (c *Client) ProbeCompletion(ctx context.Context, ref ServiceRef, model, prompt string) (string, error) {
	client, err := c.openAIClient(ref)
	if err != nil {
		return "", err
	}
	completion, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("probing %s: %w", ref.Name, wrapOpenAIError(err))
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("probing %s: no choices in completion response", ref.Name)
	}
	return completion.Choices[0].Message.Content, nil
}
