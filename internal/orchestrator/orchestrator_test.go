package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"newsagent/internal/ai"
	"newsagent/internal/config"
	"newsagent/internal/database"
	"newsagent/internal/intent"
	"newsagent/internal/memory"
	"newsagent/internal/search"
)

// fakeStore is an in-memory Store capturing persisted messages.
type fakeStore struct {
	messages        []database.Message
	summaries       map[string]*database.Summary
	interests       map[string]int
	appendDeadlines []bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		summaries: make(map[string]*database.Summary),
		interests: make(map[string]int),
	}
}

func (s *fakeStore) Ping(context.Context) error { return nil }

func (s *fakeStore) AppendMessage(ctx context.Context, msg *database.Message) error {
	_, hasDeadline := ctx.Deadline()
	s.appendDeadlines = append(s.appendDeadlines, hasDeadline)

	stored := *msg
	stored.ID = uint(len(s.messages) + 1)
	s.messages = append(s.messages, stored)
	return nil
}

func (s *fakeStore) LoadRecent(_ context.Context, contact string, limit int) ([]database.Message, error) {
	var matched []database.Message
	for _, msg := range s.messages {
		if msg.Contact == contact {
			matched = append(matched, msg)
		}
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

func (s *fakeStore) GetSummary(_ context.Context, contact string) (*database.Summary, error) {
	return s.summaries[contact], nil
}

func (s *fakeStore) PutSummary(_ context.Context, contact, text string, updated time.Time) error {
	s.summaries[contact] = &database.Summary{Contact: contact, Text: text, LastUpdated: updated}
	return nil
}

func (s *fakeStore) IncrementInterest(_ context.Context, contact, topic string) error {
	s.interests[contact+"|"+topic]++
	return nil
}

func (s *fakeStore) TopInterests(context.Context, string, int) ([]string, error) { return nil, nil }

func (s *fakeStore) Stats(context.Context, string) (*database.Stats, error) {
	return &database.Stats{}, nil
}

func (s *fakeStore) PurgeOlderThan(context.Context, time.Duration) (int64, error) { return 0, nil }

func (s *fakeStore) RunMaintenance(context.Context) error { return nil }

// fakeSearcher records queries and serves canned hits.
type fakeSearcher struct {
	hits        []search.Hit
	err         error
	queries     []string
	lastFilters *search.Filters
}

func (f *fakeSearcher) Connect(context.Context) error { return nil }

func (f *fakeSearcher) Search(_ context.Context, query string, filters *search.Filters) ([]search.Hit, error) {
	f.queries = append(f.queries, query)
	f.lastFilters = filters
	return f.hits, f.err
}

func (f *fakeSearcher) Close() error { return nil }

// fakeAI answers deterministically.
type fakeAI struct {
	completeReply string
	completeErr   error
	completeHook  func()
	summary       string
	summarizeErr  error
	isNews        bool
	classifyErr   error
	classifyCalls int
}

func (f *fakeAI) Complete(context.Context, []ai.ChatMessage) (string, error) {
	if f.completeHook != nil {
		f.completeHook()
	}
	return f.completeReply, f.completeErr
}

func (f *fakeAI) Summarize(context.Context, string) (string, error) {
	return f.summary, f.summarizeErr
}

func (f *fakeAI) ClassifyNews(context.Context, string) (bool, error) {
	f.classifyCalls++
	return f.isNews, f.classifyErr
}

func (f *fakeAI) Embed(context.Context, string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		ContextWindow:         8,
		ChatSuffixProbability: 0.1,
		Search: config.SearchConfig{
			TopK:    3,
			Timeout: 5 * time.Second,
		},
		AI: config.AIConfig{
			SummarySentences: 2,
			Timeout:          5 * time.Second,
		},
		Messages: config.MessagesConfig{
			ChatError:    "Sorry, I'm having trouble responding right now. Please try again.",
			GeneralError: "Sorry, something went wrong.",
		},
		DBTimeout: 5 * time.Second,
	}
}

type fixture struct {
	agent    *Orchestrator
	store    *fakeStore
	searcher *fakeSearcher
	ai       *fakeAI
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newFakeStore()
	searcher := &fakeSearcher{}
	aiClient := &fakeAI{completeReply: "sure, happy to chat", summary: "Two sentence summary."}
	mem := memory.New(store, 8, nil)
	agent := New(intent.NewClassifier("", nil), mem, store, searcher, aiClient, testConfig(), nil)
	agent.now = func() time.Time { return time.Date(2025, time.July, 27, 12, 0, 0, 0, time.UTC) }
	agent.randFloat = func() float64 { return 0.99 }

	return &fixture{agent: agent, store: store, searcher: searcher, ai: aiClient}
}

func (f *fixture) persisted(contact string) []database.Message {
	var matched []database.Message
	for _, msg := range f.store.messages {
		if msg.Contact == contact {
			matched = append(matched, msg)
		}
	}
	return matched
}

func TestEndingPhrases(t *testing.T) {
	t.Parallel()

	const closing = "It was great chatting with you. Feel free to reach out whenever " +
		"you'd like to discuss more news or topics. Have a great day!"

	messages := []string{
		"bye",
		"ok GOODBYE then",
		"thanks, that's enough for now",
		"gotta go, talk later",
	}

	for _, msg := range messages {
		t.Run(msg, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			reply, err := f.agent.HandleMessage(context.Background(), "alice", msg)
			if err != nil {
				t.Fatal(err)
			}
			if reply != closing {
				t.Errorf("reply = %q, want the fixed closing response", reply)
			}

			persisted := f.persisted("alice")
			if len(persisted) != 2 {
				t.Fatalf("persisted %d messages, want user and bot turns", len(persisted))
			}
			for _, m := range persisted {
				if m.Type != database.TypeChat {
					t.Errorf("persisted type = %q, want chat", m.Type)
				}
			}
		})
	}
}

func TestDateRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	reply, err := f.agent.HandleMessage(context.Background(), "alice", "What's today's date?")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "Today is July 27, 2025." {
		t.Errorf("reply = %q, want the fixed date response", reply)
	}
	if f.ai.classifyCalls != 0 {
		t.Errorf("date request triggered %d LLM classification calls, want 0", f.ai.classifyCalls)
	}
}

func TestSpecialIntentResponses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		message  string
		contains string
	}{
		{"name request", "do you have a name?", "you can call me Assistant"},
		{"capability question", "can you read the news sources?", "People Daily"},
		{"correction", "no that's wrong, actually incorrect", "Thank you for the correction!"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			reply, err := f.agent.HandleMessage(context.Background(), "alice", tc.message)
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(reply, tc.contains) {
				t.Errorf("reply = %q, want it to contain %q", reply, tc.contains)
			}
			if strings.Contains(reply, "📰 Sources") {
				t.Error("special intent response must not carry the news attribution")
			}
			if len(f.searcher.queries) != 0 {
				t.Error("special intent must not trigger retrieval")
			}

			persisted := f.persisted("alice")
			if len(persisted) != 2 || persisted[0].Type != database.TypeChat {
				t.Errorf("persisted = %+v, want two chat turns", persisted)
			}
		})
	}
}

func TestNewsNoResults(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.ai.isNews = true

	reply, err := f.agent.HandleMessage(context.Background(), "alice", "anything on maandamano")
	if err != nil {
		t.Fatal(err)
	}

	want := "No articles found for query: 'anything on maandamano'" +
		"\n\nWould you like me to look into any specific aspect of this topic?" +
		"\n\n📰 Sources: Verified news outlets"
	if reply != want {
		t.Errorf("reply = %q, want %q", reply, want)
	}

	persisted := f.persisted("alice")
	if len(persisted) != 2 || persisted[0].Type != database.TypeNews || persisted[1].Type != database.TypeNews {
		t.Errorf("persisted = %+v, want two news turns", persisted)
	}
}

func TestNewsWithTimeRange(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.searcher.hits = []search.Hit{
		{Title: "Protest march in Nairobi", URL: "https://example.com/a", Content: "Thousands marched. Police watched. It ended calmly."},
	}

	reply, err := f.agent.HandleMessage(context.Background(), "alice", "protest news from last week")
	if err != nil {
		t.Fatal(err)
	}

	if len(f.searcher.queries) != 1 || f.searcher.queries[0] != "protest news" {
		t.Errorf("search queries = %v, want the time phrase stripped", f.searcher.queries)
	}
	if f.searcher.lastFilters == nil || f.searcher.lastFilters.DateRange == nil {
		t.Fatal("expected a date-filtered search")
	}
	wantStart := time.Date(2025, time.July, 20, 0, 0, 0, 0, time.UTC)
	if !f.searcher.lastFilters.DateRange.Start.Equal(wantStart) {
		t.Errorf("filter start = %v, want %v", f.searcher.lastFilters.DateRange.Start, wantStart)
	}

	if !strings.Contains(reply, "News from 2025-07-20 to 2025-07-27:") {
		t.Errorf("reply missing range annotation: %q", reply)
	}
	if !strings.Contains(reply, "Title: Protest march in Nairobi\nSummary: Two sentence summary.\nURL: https://example.com/a\n") {
		t.Errorf("reply missing formatted hit: %q", reply)
	}
	if got := f.store.interests["alice|protest news from last week"]; got != 1 {
		t.Errorf("interest count = %d, want the raw query tracked once", got)
	}
}

func TestNewsSummarizerFallback(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.ai.isNews = true
	f.ai.summarizeErr = errors.New("summarizer down")
	f.searcher.hits = []search.Hit{
		{Title: "Budget debate", URL: "https://example.com/b", Content: "First sentence here. Second one follows. Third is dropped."},
		{Title: "Empty article", URL: "https://example.com/c", Content: "   "},
	}

	reply, err := f.agent.HandleMessage(context.Background(), "alice", "parliament budget coverage")
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(reply, "Summary: First sentence here. Second one follows.") {
		t.Errorf("truncation fallback missing: %q", reply)
	}
	if !strings.Contains(reply, "Summary: [No content available]") {
		t.Errorf("empty content placeholder missing: %q", reply)
	}
}

func TestEnhancementAppliedExactlyOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.ai.isNews = true

	reply, err := f.agent.HandleMessage(context.Background(), "alice", "economy updates")
	if err != nil {
		t.Fatal(err)
	}

	if got := strings.Count(reply, "📰 Sources: Verified news outlets"); got != 1 {
		t.Errorf("attribution appears %d times, want exactly 1", got)
	}

	// The committed bot turn carries the enhanced text; a later message
	// must not re-enhance it.
	if _, err := f.agent.HandleMessage(context.Background(), "alice", "something on sports"); err != nil {
		t.Fatal(err)
	}
	persisted := f.persisted("alice")
	if got := strings.Count(persisted[1].Content, "📰 Sources: Verified news outlets"); got != 1 {
		t.Errorf("stored bot turn has %d attributions after later traffic, want 1", got)
	}
}

func TestChatSuffixProbability(t *testing.T) {
	t.Parallel()

	t.Run("below threshold adds suffix", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.agent.randFloat = func() float64 { return 0.05 }

		reply, err := f.agent.HandleMessage(context.Background(), "alice", "how are things with you my friend")
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasSuffix(reply, " 😊") {
			t.Errorf("reply = %q, want the cosmetic suffix", reply)
		}
	})

	t.Run("above threshold leaves response alone", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.agent.randFloat = func() float64 { return 0.5 }

		reply, err := f.agent.HandleMessage(context.Background(), "alice", "how are things with you my friend")
		if err != nil {
			t.Fatal(err)
		}
		if strings.HasSuffix(reply, " 😊") {
			t.Errorf("reply = %q, suffix applied above probability threshold", reply)
		}
	})
}

func TestFollowUpAfterNews(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	// Seed a prior news exchange.
	f.ai.isNews = true
	if _, err := f.agent.HandleMessage(ctx, "alice", "kenya election coverage"); err != nil {
		t.Fatal(err)
	}
	f.ai.isNews = false
	f.searcher.queries = nil

	reply, err := f.agent.HandleMessage(ctx, "alice", "tell me more about the coalition talks")
	if err != nil {
		t.Fatal(err)
	}

	if len(f.searcher.queries) != 1 || f.searcher.queries[0] != "Kenya about the coalition talks" {
		t.Errorf("follow-up queries = %v, want the localized rewritten query", f.searcher.queries)
	}
	if !strings.Contains(reply, "Is there anything specific about this topic you'd like me to explore further?") {
		t.Errorf("reply missing follow-up invitation: %q", reply)
	}

	persisted := f.persisted("alice")
	last := persisted[len(persisted)-1]
	if last.Type != database.TypeNews {
		t.Errorf("follow-up persisted as %q, want news", last.Type)
	}
}

func TestFollowUpWithoutTopic(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.ai.isNews = true
	if _, err := f.agent.HandleMessage(ctx, "alice", "kenya election coverage"); err != nil {
		t.Fatal(err)
	}
	f.ai.isNews = false
	f.searcher.queries = nil

	reply, err := f.agent.HandleMessage(ctx, "alice", "tell me more")
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(reply, "Could you specify what aspect you'd like me to elaborate on?") {
		t.Errorf("reply = %q, want the clarifying prompt", reply)
	}
	if len(f.searcher.queries) != 0 {
		t.Error("clarifying path must not trigger retrieval")
	}

	persisted := f.persisted("alice")
	if got := persisted[len(persisted)-1].Type; got != database.TypeChat {
		t.Errorf("clarifying reply persisted as %q, want chat", got)
	}
}

func TestFollowUpAfterChatFallsThrough(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.agent.HandleMessage(ctx, "alice", "how are things with you my friend"); err != nil {
		t.Fatal(err)
	}
	f.searcher.queries = nil

	reply, err := f.agent.HandleMessage(ctx, "alice", "tell me more about yourself")
	if err != nil {
		t.Fatal(err)
	}

	if reply != "sure, happy to chat" {
		t.Errorf("reply = %q, want the chat completion output", reply)
	}
	if len(f.searcher.queries) != 0 {
		t.Error("chat follow-up must not trigger retrieval")
	}
}

func TestChatCompletionFailureDegrades(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.ai.completeErr = errors.New("provider down")

	reply, err := f.agent.HandleMessage(context.Background(), "alice", "how are things with you my friend")
	if err != nil {
		t.Fatal(err)
	}
	if reply != testConfig().Messages.ChatError {
		t.Errorf("reply = %q, want the configured chat error text", reply)
	}
}

func TestClassifierFallbackErrorTreatsAsChat(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.ai.classifyErr = errors.New("classification unavailable")

	reply, err := f.agent.HandleMessage(context.Background(), "alice", "random musings of mine")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "sure, happy to chat" {
		t.Errorf("reply = %q, want chat handling when classification fails", reply)
	}
	if len(f.searcher.queries) != 0 {
		t.Error("failed classification must not reach retrieval")
	}
}

func TestSearchRetriesOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.ai.isNews = true
	f.searcher.err = errors.New("search backend down")

	reply, err := f.agent.HandleMessage(context.Background(), "alice", "ruto cabinet reshuffle")
	if err != nil {
		t.Fatal(err)
	}

	if len(f.searcher.queries) != 2 {
		t.Errorf("search attempted %d times, want exactly 2 (one retry)", len(f.searcher.queries))
	}
	if !strings.Contains(reply, "No articles found for query: 'ruto cabinet reshuffle'") {
		t.Errorf("reply = %q, want degraded no-results text", reply)
	}
}

func TestCancelledRequestKeepsOnlyUserTurn(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.ai.completeHook = cancel

	reply, err := f.agent.HandleMessage(ctx, "alice", "how are things with you my friend")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "sure, happy to chat" {
		t.Errorf("reply = %q, want the generated response despite cancellation", reply)
	}

	persisted := f.persisted("alice")
	if len(persisted) != 1 {
		t.Fatalf("persisted %d messages, want only the user turn", len(persisted))
	}
	if persisted[0].Sender != database.SenderUser || persisted[0].Content != "how are things with you my friend" {
		t.Errorf("persisted turn = %+v, want the inbound user message", persisted[0])
	}
}

func TestCommitsAreTimeBounded(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if _, err := f.agent.HandleMessage(context.Background(), "alice", "bye"); err != nil {
		t.Fatal(err)
	}

	if len(f.store.appendDeadlines) != 2 {
		t.Fatalf("recorded %d commits, want 2", len(f.store.appendDeadlines))
	}
	for i, hasDeadline := range f.store.appendDeadlines {
		if !hasDeadline {
			t.Errorf("commit %d ran without a deadline", i)
		}
	}
}

func TestInputValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	if _, err := f.agent.HandleMessage(context.Background(), "", "hello"); err == nil {
		t.Error("expected error for empty contact")
	}
	if _, err := f.agent.HandleMessage(context.Background(), "alice", "   "); err == nil {
		t.Error("expected error for empty message")
	}
}
