package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"newsagent/internal/config"
)

// openAIClient implements Client against any OpenAI-compatible chat API.
// The base URL is configurable so SambaNova and similar providers work
// unchanged.
type openAIClient struct {
	client           *openai.Client
	model            string
	embedModel       string
	temperature      float32
	maxTokens        int
	timeout          time.Duration
	summarySentences int
	logger           *slog.Logger
}

func newOpenAIClient(cfg *config.Config, logger *slog.Logger) (*openAIClient, error) {
	if cfg.AI.Token == "" {
		return nil, errors.New("openai API token is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	aiConfig := openai.DefaultConfig(cfg.AI.Token)
	if cfg.AI.BaseURL != "" {
		aiConfig.BaseURL = strings.TrimSuffix(cfg.AI.BaseURL, "/")
	}

	return &openAIClient{
		client:           openai.NewClientWithConfig(aiConfig),
		model:            cfg.AI.Model,
		embedModel:       cfg.Search.EmbedModel,
		temperature:      cfg.AI.Temperature,
		maxTokens:        cfg.AI.MaxTokens,
		timeout:          cfg.AI.Timeout,
		summarySentences: cfg.AI.SummarySentences,
		logger:           logger.With("component", "ai", "backend", "openai"),
	}, nil
}

func (c *openAIClient) Complete(ctx context.Context, turns []ChatMessage) (string, error) {
	if len(turns) == 0 {
		return "", errors.New("empty prompt")
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, turn := range turns {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    turn.Role,
			Content: turn.Content,
		})
	}

	return c.chat(ctx, messages)
}

func (c *openAIClient) Summarize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("empty text")
	}

	return c.chat(ctx, []openai.ChatCompletionMessage{
		{Role: RoleSystem, Content: summaryInstruction(c.summarySentences)},
		{Role: RoleUser, Content: text},
	})
}

func (c *openAIClient) ClassifyNews(ctx context.Context, message string) (bool, error) {
	answer, err := c.chat(ctx, []openai.ChatCompletionMessage{
		{Role: RoleSystem, Content: "You are a helpful assistant."},
		{Role: RoleUser, Content: newsClassifyPrompt(message)},
	})
	if err != nil {
		return false, err
	}

	return parseYesNo(answer), nil
}

func (c *openAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("empty text")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateEmbeddings(timeoutCtx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.embedModel),
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "Embedding request failed", "error", err)
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding returned")
	}

	return resp.Data[0].Embedding, nil
}

func (c *openAIClient) chat(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	apiStart := time.Now()
	resp, err := c.client.CreateChatCompletion(timeoutCtx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	apiDuration := time.Since(apiStart)

	if err != nil {
		c.logger.ErrorContext(ctx, "Chat completion failed",
			"error", err, "duration_ms", apiDuration.Milliseconds())
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		c.logger.ErrorContext(ctx, "No response choices returned from AI service")
		return "", errors.New("no response choices returned")
	}

	c.logger.DebugContext(ctx, "Chat completion succeeded",
		"duration_ms", apiDuration.Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
