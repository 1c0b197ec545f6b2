package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/vigil-sec/vigil/internal/domain/analysis"
	"github.com/vigil-sec/vigil/internal/domain/faults"
	"github.com/vigil-sec/vigil/internal/infra/analysis/prompt"
)

const maxTokens = 2048

// Client adapts the hosted model API to the analysis port. The service is a
// black box: the verdict, including the evidence digest, is whatever it
// returns.
type Client struct {
	*openai.Client
	Model string
}

func NewClient(apiKey, model string) *Client {
	return &Client{Client: openai.NewClient(apiKey), Model: model}
}

func (c *Client) Analyze(ctx context.Context, req analysis.Request) (*analysis.Verdict, error) {
	model := c.Model
	if model == "" {
		model = "o3-2025-04-16"
	}
	creq := openai.ChatCompletionRequest{
		Model: model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.GetSystemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: prompt.GetUserPrompt(string(req.Type), req.Label, req.Content)},
		},
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4") || strings.HasPrefix(model, "gpt-5") {
		creq.MaxCompletionTokens = maxTokens
	} else {
		creq.MaxTokens = maxTokens
	}

	resp, err := c.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, fmt.Errorf("%w: chat completion: %v", faults.ErrRemoteUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty completion", faults.ErrRemoteUnavailable)
	}

	var verdict analysis.Verdict
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &verdict); err != nil {
		return nil, fmt.Errorf("%w: malformed verdict: %v", faults.ErrRemoteUnavailable, err)
	}
	return &verdict, nil
}
