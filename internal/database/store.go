package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the interface for persistent conversation state.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// AppendMessage inserts a new message record. Messages are append-only;
	// nothing in request handling ever mutates or deletes them.
	AppendMessage(ctx context.Context, message *Message) error

	// LoadRecent retrieves the most recent 'limit' messages for a contact,
	// returned in chronological (non-decreasing timestamp) order.
	LoadRecent(ctx context.Context, contact string, limit int) ([]Message, error)

	// GetSummary retrieves the cached conversation summary for a contact.
	// Returns nil, nil if no summary has been stored.
	GetSummary(ctx context.Context, contact string) (*Summary, error)

	// PutSummary inserts or replaces the cached summary for a contact.
	PutSummary(ctx context.Context, contact, text string, updated time.Time) error

	// IncrementInterest upserts the (contact, topic) interest counter,
	// incrementing the count if the row already exists.
	IncrementInterest(ctx context.Context, contact, topic string) error

	// TopInterests returns up to n topics for a contact ordered by count.
	TopInterests(ctx context.Context, contact string, n int) ([]string, error)

	// Stats returns aggregate message counts for a contact.
	Stats(ctx context.Context, contact string) (*Stats, error)

	// PurgeOlderThan deletes messages older than the given age and returns
	// the number of rows removed. Runs independently of request handling.
	PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error)

	// RunMaintenance performs database maintenance tasks like VACUUM.
	RunMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AppendMessage inserts a new message record.
func (s *sqlxStore) AppendMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return fmt.Errorf("cannot save nil message")
	}
	if message.Contact == "" {
		return fmt.Errorf("message must have a non-empty contact")
	}
	if message.Sender != SenderUser && message.Sender != SenderBot {
		return fmt.Errorf("message sender must be %q or %q, got %q", SenderUser, SenderBot, message.Sender)
	}
	if message.Content == "" {
		return fmt.Errorf("message must have non-empty content")
	}
	if message.Timestamp.IsZero() {
		return fmt.Errorf("message must have a non-zero timestamp")
	}
	if message.Type == "" {
		message.Type = TypeChat
	}

	message.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for saving message",
			"contact", message.Contact, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	query := `
        INSERT INTO conversations (contact, sender, content, message_type, timestamp, created_at)
        VALUES (:contact, :sender, :content, :message_type, :timestamp, :created_at);
    `

	result, err := tx.NamedExecContext(ctx, query, message)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving message", "contact", message.Contact, "sender", message.Sender, "error", err)
		return fmt.Errorf("failed to save message for contact %q: %w", message.Contact, err)
	}

	if id, idErr := result.LastInsertId(); idErr == nil {
		//nolint:gosec // integer overflow conversion is acceptable here
		message.ID = uint(id)
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after saving message",
			"contact", message.Contact, "error", idErr)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction",
			"contact", message.Contact, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Message saved successfully",
		"contact", message.Contact, "sender", message.Sender, "message_id", message.ID)
	return nil
}

// LoadRecent retrieves the most recent 'limit' messages for a contact.
func (s *sqlxStore) LoadRecent(ctx context.Context, contact string, limit int) ([]Message, error) {
	if contact == "" {
		return nil, fmt.Errorf("contact cannot be empty")
	}
	if limit <= 0 {
		limit = 20
		s.logger.DebugContext(ctx, "Invalid limit provided, using default", "contact", contact, "default_limit", limit)
	} else if limit > 200 {
		limit = 200
		s.logger.DebugContext(ctx, "Limit exceeded maximum value, capping", "contact", contact, "capped_limit", limit)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var messages []Message
	query := `
        SELECT id, contact, sender, content, message_type, timestamp, created_at
        FROM conversations
        WHERE contact = ?
        ORDER BY timestamp DESC, id DESC
        LIMIT ?;
    `

	err := s.db.SelectContext(ctx, &messages, query, contact, limit)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching messages",
			"contact", contact, "error", err)
		return nil, err
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting recent messages", "contact", contact, "limit", limit, "error", err)
		return nil, fmt.Errorf("failed to get recent messages for contact %q: %w", contact, err)
	}

	// Reverse into chronological order for prompt construction.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	s.logger.DebugContext(ctx, "Fetched recent messages successfully", "contact", contact, "count", len(messages))
	return messages, nil
}

// GetSummary retrieves the cached conversation summary for a contact.
func (s *sqlxStore) GetSummary(ctx context.Context, contact string) (*Summary, error) {
	if contact == "" {
		return nil, fmt.Errorf("contact cannot be empty")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var summary Summary
	query := `SELECT contact, context_summary, last_updated FROM conversation_context WHERE contact = ?`

	err := s.db.GetContext(ctx, &summary, query, contact)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No cached summary found", "contact", contact)
		return nil, nil

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching summary",
			"contact", contact, "error", err)
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting cached summary", "contact", contact, "error", err)
		return nil, fmt.Errorf("failed to get summary for contact %q: %w", contact, err)
	}

	return &summary, nil
}

// PutSummary inserts or replaces the cached summary for a contact.
func (s *sqlxStore) PutSummary(ctx context.Context, contact, text string, updated time.Time) error {
	if contact == "" {
		return fmt.Errorf("contact cannot be empty")
	}

	query := `
        INSERT INTO conversation_context (contact, context_summary, last_updated)
        VALUES (?, ?, ?)
        ON CONFLICT(contact) DO UPDATE SET
            context_summary = excluded.context_summary,
            last_updated = excluded.last_updated;
    `

	if _, err := s.db.ExecContext(ctx, query, contact, text, updated.UTC()); err != nil {
		s.logger.ErrorContext(ctx, "Error saving summary", "contact", contact, "error", err)
		return fmt.Errorf("failed to save summary for contact %q: %w", contact, err)
	}

	s.logger.DebugContext(ctx, "Summary saved successfully", "contact", contact)
	return nil
}

// IncrementInterest upserts the (contact, topic) interest counter.
func (s *sqlxStore) IncrementInterest(ctx context.Context, contact, topic string) error {
	if contact == "" || topic == "" {
		return fmt.Errorf("contact and topic cannot be empty")
	}

	query := `
        INSERT INTO interests (contact, topic, count) VALUES (?, ?, 1)
        ON CONFLICT(contact, topic) DO UPDATE SET count = count + 1;
    `

	if _, err := s.db.ExecContext(ctx, query, contact, topic); err != nil {
		s.logger.ErrorContext(ctx, "Error tracking interest", "contact", contact, "topic", topic, "error", err)
		return fmt.Errorf("failed to track interest for contact %q: %w", contact, err)
	}

	return nil
}

// TopInterests returns up to n topics for a contact ordered by count.
func (s *sqlxStore) TopInterests(ctx context.Context, contact string, n int) ([]string, error) {
	if contact == "" {
		return nil, fmt.Errorf("contact cannot be empty")
	}
	if n <= 0 {
		n = 3
	}

	var topics []string
	query := `SELECT topic FROM interests WHERE contact = ? ORDER BY count DESC, topic ASC LIMIT ?`

	if err := s.db.SelectContext(ctx, &topics, query, contact, n); err != nil {
		s.logger.ErrorContext(ctx, "Error getting top interests", "contact", contact, "error", err)
		return nil, fmt.Errorf("failed to get top interests for contact %q: %w", contact, err)
	}

	return topics, nil
}

// Stats returns aggregate message counts for a contact.
func (s *sqlxStore) Stats(ctx context.Context, contact string) (*Stats, error) {
	if contact == "" {
		return nil, fmt.Errorf("contact cannot be empty")
	}

	var stats Stats
	query := `
        SELECT COUNT(*) AS total_messages,
               COUNT(CASE WHEN sender = 'user' THEN 1 END) AS user_messages,
               COUNT(CASE WHEN sender = 'bot' THEN 1 END) AS bot_messages,
               COUNT(CASE WHEN message_type = 'news' THEN 1 END) AS news_queries,
               MIN(timestamp) AS first_message,
               MAX(timestamp) AS last_message
        FROM conversations
        WHERE contact = ?;
    `

	if err := s.db.GetContext(ctx, &stats, query, contact); err != nil {
		s.logger.ErrorContext(ctx, "Error getting conversation stats", "contact", contact, "error", err)
		return nil, fmt.Errorf("failed to get stats for contact %q: %w", contact, err)
	}

	return &stats, nil
}

// PurgeOlderThan deletes messages older than the given age.
func (s *sqlxStore) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	if age <= 0 {
		return 0, fmt.Errorf("purge age must be positive, got %v", age)
	}

	cutoff := time.Now().UTC().Add(-age)
	query := `DELETE FROM conversations WHERE timestamp < ?`

	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error purging old messages", "cutoff", cutoff, "error", err)
		return 0, fmt.Errorf("failed to purge messages older than %v: %w", age, err)
	}

	count, _ := result.RowsAffected()
	s.logger.InfoContext(ctx, "Purged old messages", "cutoff", cutoff, "count", count)
	return count, nil
}

// RunMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)

	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	return nil
}
