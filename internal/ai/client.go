// Package ai provides LLM-backed text generation and classification
// behind a backend-agnostic client interface.
package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"newsagent/internal/config"
)

// Chat roles used in role-tagged prompt turns.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one role-tagged turn of a conversation prompt.
type ChatMessage struct {
	Role    string
	Content string
}

// Client is the generation interface used by the orchestrator. All
// methods must respect context cancellation and deadlines.
type Client interface {
	// Complete generates a free-form chat reply from role-tagged turns.
	Complete(ctx context.Context, turns []ChatMessage) (string, error)

	// Summarize condenses an article into the configured number of
	// sentences. Callers supply their own fallback when it errors.
	Summarize(ctx context.Context, text string) (string, error)

	// ClassifyNews reports whether a message is a news request. Used
	// only when lexical matching is inconclusive.
	ClassifyNews(ctx context.Context, message string) (bool, error)

	// Embed converts text into a vector for similarity search.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NewClient creates the AI client selected by cfg.AI.Backend.
func NewClient(cfg *config.Config, logger *slog.Logger) (Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	switch cfg.AI.Backend {
	case "openai":
		return newOpenAIClient(cfg, logger)
	case "gemini":
		return newGeminiClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown ai backend %q", cfg.AI.Backend)
	}
}

// summaryInstruction builds the summarization system prompt for the
// configured sentence count.
func summaryInstruction(sentences int) string {
	if sentences <= 0 {
		sentences = 2
	}
	return fmt.Sprintf("Summarize the following news article in exactly %d sentences. "+
		"Be factual, neutral, and avoid speculation or opinion. "+
		"Do not add information that is not present in the article.", sentences)
}

// newsClassifyPrompt is the strict single-turn news-vs-chat prompt.
func newsClassifyPrompt(message string) string {
	return "Determine if this message is asking for NEWS CONTENT or just asking ABOUT news capabilities. " +
		"NEWS CONTENT: 'What's happening in Kenya?', 'Tell me about protests', 'Latest on elections' " +
		"CAPABILITY QUESTIONS: 'Can you access news?', 'Where do you get news?', 'How do you find news?' " +
		"Only respond YES if they want actual news content, NO if they're asking about capabilities.\n\n" +
		"Message: " + message
}

func parseYesNo(answer string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(answer)), "YES")
}
