// Package orchestrator routes each inbound message through the agent's
// decision states: ending detection, special intents, follow-up
// handling, the news/chat gate, response enhancement, and persistence.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"newsagent/internal/ai"
	"newsagent/internal/config"
	"newsagent/internal/database"
	"newsagent/internal/intent"
	"newsagent/internal/memory"
	"newsagent/internal/metrics"
	"newsagent/internal/search"
)

// endingPhrases terminate a conversation via substring match.
var endingPhrases = []string{
	"that's all for today", "bye", "goodbye", "talk later",
	"thanks, that's enough", "see you later", "gotta go",
}

// followUpMarkers introduce the topic of a news follow-up question.
var followUpMarkers = []string{"more", "further", "else", "also"}

const (
	closingResponse = "It was great chatting with you. Feel free to reach out whenever " +
		"you'd like to discuss more news or topics. Have a great day!"

	nameResponse = "I don't have a personal name, but you can call me Assistant or AI " +
		"for short. Some people also like to give me nicknames, so feel free to get " +
		"creative if you'd like!"

	capabilityResponse = "I'm an AI assistant with access to news articles from sources " +
		"like People Daily, Standard Media, and other Kenyan news outlets. " +
		"I can search through and summarize recent news content for you. However, I " +
		"don't have real-time access to current events or personal experiences - my " +
		"knowledge comes from the articles in my database. What would you like to know about?"

	correctionResponse = "Thank you for the correction! I appreciate you helping me " +
		"provide accurate information. I'll keep that in mind for our conversation. " +
		"Is there anything else you'd like to discuss?"

	clarifyResponse = "I'd be happy to provide more details. Could you specify what " +
		"aspect you'd like me to elaborate on?"

	newsInvitation     = "\n\nWould you like me to look into any specific aspect of this topic?"
	followUpInvitation = "\n\nIs there anything specific about this topic you'd like me to explore further?"

	newsAttribution = "\n\n📰 Sources: Verified news outlets"
	chatSuffix      = " 😊"

	// followUpQueryPrefix localizes rewritten follow-up retrieval queries.
	followUpQueryPrefix = "Kenya "
)

// Orchestrator is the per-message state machine. Messages from the same
// contact are serialized; distinct contacts proceed concurrently.
type Orchestrator struct {
	classifier *intent.Classifier
	memory     *memory.Memory
	store      database.Store
	searcher   search.Client
	ai         ai.Client
	cfg        *config.Config
	logger     *slog.Logger

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	// dbTimeout bounds each persistence commit.
	dbTimeout time.Duration

	// now and randFloat are replaceable in tests.
	now       func() time.Time
	randFloat func() float64
}

// New wires an orchestrator from its collaborators.
func New(classifier *intent.Classifier, mem *memory.Memory, store database.Store,
	searcher search.Client, aiClient ai.Client, cfg *config.Config, logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	dbTimeout := cfg.DBTimeout
	if dbTimeout <= 0 {
		dbTimeout = 5 * time.Second
	}

	return &Orchestrator{
		classifier: classifier,
		memory:     mem,
		store:      store,
		searcher:   searcher,
		ai:         aiClient,
		cfg:        cfg,
		logger:     logger.With("component", "orchestrator"),
		locks:      make(map[string]*sync.Mutex),
		dbTimeout:  dbTimeout,
		now:        time.Now,
		randFloat:  rand.Float64,
	}
}

// HandleMessage routes one inbound message to exactly one terminal
// outcome and returns the reply. Both turns are persisted with the
// resolved message type; a store failure on the user turn surfaces as
// an error and nothing further is committed.
func (o *Orchestrator) HandleMessage(ctx context.Context, contact, message string) (string, error) {
	contact = strings.TrimSpace(contact)
	message = strings.TrimSpace(message)
	if contact == "" {
		return "", fmt.Errorf("contact cannot be empty")
	}
	if message == "" {
		return "", fmt.Errorf("message cannot be empty")
	}

	lock := o.contactLock(contact)
	lock.Lock()
	defer lock.Unlock()

	start := o.now()
	log := o.logger.With("request_id", uuid.NewString(), "contact", contact)

	response, msgType, enhance, err := o.route(ctx, log, contact, message)
	if err != nil {
		return "", err
	}
	if enhance {
		response = o.enhanceResponse(response, msgType)
	}

	// Commits run detached from the caller's cancellation under their own
	// timeout, so a handled message is never half-persisted.
	commitCtx, cancelCommit := context.WithTimeout(context.WithoutCancel(ctx), o.dbTimeout)
	defer cancelCommit()

	if err := o.memory.AddMessage(commitCtx, contact, database.SenderUser, message, msgType); err != nil {
		log.ErrorContext(ctx, "Failed to persist user message", "error", err)
		return "", fmt.Errorf("failed to persist user message: %w", err)
	}

	// A caller that abandoned the request keeps its committed user turn;
	// only the bot turn is skipped.
	if ctx.Err() != nil {
		log.WarnContext(ctx, "Request cancelled, skipping bot message commit", "error", ctx.Err())
		return response, nil
	}

	if err := o.memory.AddMessage(commitCtx, contact, database.SenderBot, response, msgType); err != nil {
		log.ErrorContext(ctx, "Failed to persist bot message", "error", err)
		return "", fmt.Errorf("failed to persist bot message: %w", err)
	}

	elapsed := o.now().Sub(start)
	metrics.RecordMessage(msgType, elapsed.Seconds(), len(message), len(response))
	log.InfoContext(ctx, "Handled message",
		"type", msgType,
		"duration_ms", elapsed.Milliseconds(),
		"input_length", len(message),
		"output_length", len(response))

	return response, nil
}

// route decides the response, its type, and whether it still needs
// enhancement. Ending and special-intent responses are final texts.
func (o *Orchestrator) route(ctx context.Context, log *slog.Logger, contact, message string) (string, string, bool, error) {
	if isConversationEnding(message) {
		log.DebugContext(ctx, "Conversation ending detected")
		return closingResponse, database.TypeChat, false, nil
	}

	intentName, confidence := o.classifier.Classify(message)
	log.DebugContext(ctx, "Intent classified", "intent", intentName, "confidence", confidence)

	switch intentName {
	case "date_request":
		return fmt.Sprintf("Today is %s.", o.now().Format("January 2, 2006")), database.TypeChat, false, nil
	case "name_request":
		return nameResponse, database.TypeChat, false, nil
	case "capability_question":
		return capabilityResponse, database.TypeChat, false, nil
	case "correction":
		return correctionResponse, database.TypeChat, false, nil
	}

	if intentName == "follow_up" {
		lastType, err := o.memory.LastType(ctx, contact)
		if err != nil {
			return "", "", false, fmt.Errorf("failed to look up last message type: %w", err)
		}

		if lastType == database.TypeNews {
			topic := followUpTopic(message)
			if topic == "" {
				return clarifyResponse, database.TypeChat, true, nil
			}

			query := followUpQueryPrefix + topic
			log.DebugContext(ctx, "News follow-up detected", "query", query)
			response := o.newsResponse(ctx, log, contact, query) + followUpInvitation
			return response, database.TypeNews, true, nil
		}
		// Prior turn was not news; treat the follow-up as plain chat.
		response := o.chatResponse(ctx, log, contact, message)
		return response, database.TypeChat, true, nil
	}

	isNews := o.classifier.IsNewsPattern(message)
	if !isNews {
		llmNews, err := o.ai.ClassifyNews(ctx, message)
		if err != nil {
			log.WarnContext(ctx, "News classification fallback failed, treating as chat", "error", err)
			metrics.RecordExternalError("chat_completion")
		} else {
			isNews = llmNews
		}
	}

	if isNews {
		response := o.newsResponse(ctx, log, contact, message) + newsInvitation
		return response, database.TypeNews, true, nil
	}

	response := o.chatResponse(ctx, log, contact, message)
	return response, database.TypeChat, true, nil
}

// chatResponse generates a free-form reply over the contact's bounded
// context, degrading to the configured error text when generation fails.
func (o *Orchestrator) chatResponse(ctx context.Context, log *slog.Logger, contact, message string) string {
	turns, err := o.memory.Context(ctx, contact, true)
	if err != nil {
		log.WarnContext(ctx, "Failed to build conversation context, using bare prompt", "error", err)
		turns = nil
	}
	turns = append(turns, ai.ChatMessage{Role: ai.RoleUser, Content: message})

	reply, err := o.ai.Complete(ctx, turns)
	if err != nil {
		log.ErrorContext(ctx, "Chat completion failed", "error", err)
		metrics.RecordExternalError("chat_completion")
		return o.cfg.Messages.ChatError
	}

	return reply
}

// enhanceResponse applies the type-specific cosmetic suffix. It runs
// exactly once per response lifecycle, never on already-committed text.
func (o *Orchestrator) enhanceResponse(response, msgType string) string {
	switch msgType {
	case database.TypeNews:
		return response + newsAttribution
	case database.TypeChat:
		if o.randFloat() < o.cfg.ChatSuffixProbability {
			return response + chatSuffix
		}
	}
	return response
}

// TopInterests returns the contact's most frequent news topics.
func (o *Orchestrator) TopInterests(ctx context.Context, contact string) ([]string, error) {
	return o.store.TopInterests(ctx, contact, 3)
}

// FocusHint renders the contact's interests as a retrieval focus line,
// or "" when there is no interest history.
func (o *Orchestrator) FocusHint(ctx context.Context, contact string) (string, error) {
	interests, err := o.TopInterests(ctx, contact)
	if err != nil {
		return "", err
	}
	if len(interests) == 0 {
		return "", nil
	}
	return fmt.Sprintf("Focus on topics related to: %s", strings.Join(interests, ", ")), nil
}

func (o *Orchestrator) contactLock(contact string) *sync.Mutex {
	o.lockMu.Lock()
	defer o.lockMu.Unlock()

	lock, ok := o.locks[contact]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[contact] = lock
	}
	return lock
}

func isConversationEnding(message string) bool {
	lower := strings.ToLower(message)
	for _, phrase := range endingPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// followUpTopic extracts the text after the first continuation marker,
// or "" when no topic follows any marker.
func followUpTopic(message string) string {
	words := strings.Fields(strings.ToLower(message))
	for i, word := range words {
		for _, marker := range followUpMarkers {
			if word == marker && i+1 < len(words) {
				return strings.Join(words[i+1:], " ")
			}
		}
	}
	return ""
}
