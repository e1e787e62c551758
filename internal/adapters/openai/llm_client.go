package openai

import (
	"context"
	"fmt"

	"github.com/mikey/llm-phish-filter/internal/core"
	"github.com/mikey/llm-phish-filter/internal/utils"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ChatCompleter is the subset of the go-openai client used by the arbiter
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient is an implementation of the Arbiter interface using OpenAI
type OpenAIClient struct {
	client        ChatCompleter
	modelName     string
	maxTokens     int
	temperature   float32
	topP          float32
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewOpenAIClient creates a new OpenAI arbiter around an API client
func NewOpenAIClient(
	client ChatCompleter,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) *OpenAIClient {
	return &OpenAIClient{
		client:        client,
		modelName:     modelName,
		maxTokens:     maxTokens,
		temperature:   temperature,
		topP:          topP,
		maxBodySize:   maxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// AnalyzePhishing asks OpenAI for an independent phishing judgment
func (c *OpenAIClient) AnalyzePhishing(ctx context.Context, text string, metadata map[string]string) (*core.AIVerdict, error) {
	prompt := utils.BuildArbiterPrompt(c.textProcessor.ProcessText(text, c.maxBodySize), metadata)

	req := openai.ChatCompletionRequest{
		Model: c.modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: utils.ArbiterSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		TopP:        c.topP,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: openai chat completion: %v", core.ErrArbiterUnavailable, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty response from OpenAI", core.ErrArbiterUnavailable)
	}

	verdict, err := utils.ParseArbiterResponse(resp.Choices[0].Message.Content, c.modelName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrArbiterUnavailable, err)
	}

	c.logger.Debug("OpenAI arbiter responded",
		zap.String("model", c.modelName),
		zap.String("response_id", resp.ID))

	return verdict, nil
}
