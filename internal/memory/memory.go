// Package memory maintains bounded per-contact conversation context on
// top of the unbounded durable message log.
package memory

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"newsagent/internal/ai"
	"newsagent/internal/database"
)

// summaryMaxAge bounds how long a cached conversation summary is reused
// before being regenerated from the durable log.
const summaryMaxAge = 24 * time.Hour

// summaryScanLimit is how many recent durable messages feed a summary.
const summaryScanLimit = 50

const emptyHistorySummary = "No previous conversation history."

// Memory owns the in-process conversation cache for every contact. The
// cache holds at most 2W messages per contact and is trimmed back to the
// W most recent once that bound is exceeded; the durable store keeps
// everything. All cache mutation goes through these methods.
type Memory struct {
	store  database.Store
	window int
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string][]database.Message

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a Memory with the given context window size W.
func New(store database.Store, window int, logger *slog.Logger) *Memory {
	if window <= 0 {
		window = 8
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Memory{
		store:  store,
		window: window,
		logger: logger.With("component", "memory"),
		cache:  make(map[string][]database.Message),
		now:    time.Now,
	}
}

// AddMessage durably persists a message and then appends it to the
// contact's cache. A store failure leaves the cache untouched so the
// cache never contains messages the durable log lost.
func (m *Memory) AddMessage(ctx context.Context, contact, sender, content, msgType string) error {
	msg := database.Message{
		Contact:   contact,
		Sender:    sender,
		Content:   content,
		Type:      msgType,
		Timestamp: m.now().UTC(),
	}

	if err := m.store.AppendMessage(ctx, &msg); err != nil {
		return fmt.Errorf("failed to persist message: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := append(m.cache[contact], msg)
	if len(msgs) > m.window*2 {
		msgs = msgs[len(msgs)-m.window:]
	}
	m.cache[contact] = msgs

	return nil
}

// Context returns the contact's role-tagged prompt turns: an optional
// system turn followed by up to W most recent messages mapped to
// user/assistant roles. A contact not yet cached is hydrated from the
// durable store first.
func (m *Memory) Context(ctx context.Context, contact string, includeSystemPrompt bool) ([]ai.ChatMessage, error) {
	if err := m.ensureLoaded(ctx, contact); err != nil {
		return nil, err
	}

	m.mu.Lock()
	msgs := m.cache[contact]
	if len(msgs) > m.window {
		msgs = msgs[len(msgs)-m.window:]
	}
	recent := make([]database.Message, len(msgs))
	copy(recent, msgs)
	m.mu.Unlock()

	var turns []ai.ChatMessage
	if includeSystemPrompt {
		prompt, err := m.systemPrompt(ctx, contact)
		if err != nil {
			return nil, err
		}
		turns = append(turns, ai.ChatMessage{Role: ai.RoleSystem, Content: prompt})
	}

	for _, msg := range recent {
		role := ai.RoleUser
		if msg.Sender == database.SenderBot {
			role = ai.RoleAssistant
		}
		turns = append(turns, ai.ChatMessage{Role: role, Content: msg.Content})
	}

	return turns, nil
}

// LastType returns the message type of the contact's most recently
// persisted message, or "" when there is none.
func (m *Memory) LastType(ctx context.Context, contact string) (string, error) {
	if err := m.ensureLoaded(ctx, contact); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.cache[contact]
	if len(msgs) == 0 {
		return "", nil
	}
	return msgs[len(msgs)-1].Type, nil
}

// Stats returns aggregate conversation counts for a contact.
func (m *Memory) Stats(ctx context.Context, contact string) (*database.Stats, error) {
	return m.store.Stats(ctx, contact)
}

func (m *Memory) ensureLoaded(ctx context.Context, contact string) error {
	m.mu.Lock()
	_, loaded := m.cache[contact]
	m.mu.Unlock()
	if loaded {
		return nil
	}

	msgs, err := m.store.LoadRecent(ctx, contact, m.window)
	if err != nil {
		return fmt.Errorf("failed to load recent messages: %w", err)
	}

	m.mu.Lock()
	// Another goroutine may have hydrated the contact meanwhile; the
	// orchestrator serializes per contact so this is a cheap guard.
	if _, loaded := m.cache[contact]; !loaded {
		m.cache[contact] = msgs
	}
	m.mu.Unlock()

	m.logger.DebugContext(ctx, "Hydrated contact cache", "contact", contact, "count", len(msgs))
	return nil
}

// systemPrompt renders the generation preamble with the conversation
// summary embedded.
func (m *Memory) systemPrompt(ctx context.Context, contact string) (string, error) {
	summary, err := m.summary(ctx, contact)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("You are a helpful AI assistant chatting with %s on WhatsApp.\n\n"+
		"Previous conversation context: %s\n\n"+
		"Guidelines:\n"+
		"- Remember previous topics and maintain continuity\n"+
		"- For capability questions about news, explain your process without searching\n"+
		"- For actual news requests, provide recent information\n"+
		"- Keep responses concise and WhatsApp-appropriate\n"+
		"- Be conversational and natural", contact, summary), nil
}

// summary returns the cached conversation summary when it is fresh
// enough, regenerating and persisting a new one otherwise.
func (m *Memory) summary(ctx context.Context, contact string) (string, error) {
	cached, err := m.store.GetSummary(ctx, contact)
	if err != nil {
		return "", fmt.Errorf("failed to load cached summary: %w", err)
	}
	if cached != nil && m.now().UTC().Sub(cached.LastUpdated) < summaryMaxAge {
		return cached.Text, nil
	}

	return m.regenerateSummary(ctx, contact)
}

// regenerateSummary scans the recent durable log, renders a short
// templated summary, and writes it back with the current timestamp.
func (m *Memory) regenerateSummary(ctx context.Context, contact string) (string, error) {
	msgs, err := m.store.LoadRecent(ctx, contact, summaryScanLimit)
	if err != nil {
		return "", fmt.Errorf("failed to scan messages for summary: %w", err)
	}
	if len(msgs) == 0 {
		return emptyHistorySummary, nil
	}

	// Walk newest-first collecting up to 3 recent news queries and up to
	// 3 recent substantial non-news messages.
	var newsQueries, topics []string
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		switch {
		case msg.Type == database.TypeNews && len(newsQueries) < 3:
			newsQueries = append(newsQueries, msg.Content)
		case msg.Type != database.TypeNews && len(msg.Content) > 20 && len(topics) < 3:
			topics = append(topics, truncate(msg.Content, 100))
		}
		if len(newsQueries) == 3 && len(topics) == 3 {
			break
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Recent conversation with %s. ", contact)
	if len(newsQueries) > 0 {
		fmt.Fprintf(&b, "They've asked about: %s. ", strings.Join(newsQueries, ", "))
	}
	if len(topics) > 0 {
		fmt.Fprintf(&b, "Recent topics discussed: %s.", strings.Join(topics, ", "))
	}
	summary := b.String()

	if err := m.store.PutSummary(ctx, contact, summary, m.now().UTC()); err != nil {
		// The summary itself is still usable; persistence failure only
		// costs a regeneration next time.
		m.logger.WarnContext(ctx, "Failed to persist regenerated summary", "contact", contact, "error", err)
	}

	return summary, nil
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
