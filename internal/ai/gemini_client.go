package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"newsagent/internal/config"
)

// geminiClient implements Client using the Google Gemini SDK.
type geminiClient struct {
	client           *genai.Client
	model            string
	embedModel       string
	temperature      float32
	maxTokens        int
	timeout          time.Duration
	summarySentences int
	maxRetries       int
	retryDelay       time.Duration
	logger           *slog.Logger
}

var geminiSafetySettings = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
}

func newGeminiClient(cfg *config.Config, logger *slog.Logger) (*geminiClient, error) {
	if cfg.AI.Token == "" {
		return nil, errors.New("gemini API token is required")
	}
	if cfg.AI.Model == "" || strings.HasPrefix(cfg.AI.Model, "gpt-") {
		return nil, fmt.Errorf("model %q is not a Gemini model", cfg.AI.Model)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.AI.Token,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	retries := cfg.AI.MaxRetries
	if retries <= 0 {
		retries = 3
	}

	return &geminiClient{
		client:           client,
		model:            cfg.AI.Model,
		embedModel:       cfg.Search.EmbedModel,
		temperature:      cfg.AI.Temperature,
		maxTokens:        cfg.AI.MaxTokens,
		timeout:          cfg.AI.Timeout,
		summarySentences: cfg.AI.SummarySentences,
		maxRetries:       retries,
		retryDelay:       cfg.AI.RetryDelay,
		logger:           logger.With("component", "ai", "backend", "gemini"),
	}, nil
}

func (c *geminiClient) Complete(ctx context.Context, turns []ChatMessage) (string, error) {
	if len(turns) == 0 {
		return "", errors.New("empty prompt")
	}

	var system string
	var prompt []*genai.Content
	for _, turn := range turns {
		switch turn.Role {
		case RoleSystem:
			system = turn.Content
		case RoleAssistant:
			prompt = append(prompt, &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: turn.Content}},
			})
		default:
			prompt = append(prompt, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: turn.Content}},
			})
		}
	}

	return c.generate(ctx, system, prompt)
}

func (c *geminiClient) Summarize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("empty text")
	}

	prompt := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: text}},
	}}
	return c.generate(ctx, summaryInstruction(c.summarySentences), prompt)
}

func (c *geminiClient) ClassifyNews(ctx context.Context, message string) (bool, error) {
	prompt := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: newsClassifyPrompt(message)}},
	}}

	answer, err := c.generate(ctx, "You are a helpful assistant.", prompt)
	if err != nil {
		return false, err
	}

	return parseYesNo(answer), nil
}

func (c *geminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("empty text")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	contents := []*genai.Content{{Parts: []*genai.Part{{Text: text}}}}
	resp, err := c.client.Models.EmbedContent(timeoutCtx, c.embedModel, contents, nil)
	if err != nil {
		c.logger.ErrorContext(ctx, "Embedding request failed", "error", err)
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, errors.New("no embedding returned")
	}

	return resp.Embeddings[0].Values, nil
}

func (c *geminiClient) generate(ctx context.Context, system string, prompt []*genai.Content) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	genConfig := &genai.GenerateContentConfig{
		SafetySettings: geminiSafetySettings,
		Temperature:    &c.temperature,
	}
	if system != "" {
		genConfig.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if c.maxTokens > 0 {
		genConfig.MaxOutputTokens = int32(c.maxTokens)
	}

	var resp *genai.GenerateContentResponse
	var err error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		apiStart := time.Now()
		resp, err = c.client.Models.GenerateContent(timeoutCtx, c.model, prompt, genConfig)
		apiDuration := time.Since(apiStart)

		if err != nil {
			c.logger.WarnContext(ctx, "Gemini API error, retrying",
				"error", err, "attempt", attempt, "duration_ms", apiDuration.Milliseconds())
			if attempt < c.maxRetries {
				if c.retryDelay > 0 {
					select {
					case <-timeoutCtx.Done():
						return "", timeoutCtx.Err()
					case <-time.After(c.retryDelay):
					}
				}
				continue
			}
			return "", fmt.Errorf("failed to call Gemini API after %d attempts: %w", attempt, err)
		}

		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
			c.logger.WarnContext(ctx, "Gemini response contained no candidates, retrying", "attempt", attempt)
			if attempt < c.maxRetries {
				continue
			}
			return "", errors.New("no response candidates returned from Gemini after retries")
		}
		break
	}

	var builder strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Text == "" {
			continue
		}
		builder.WriteString(part.Text)
	}

	return strings.TrimSpace(builder.String()), nil
}
