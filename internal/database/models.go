package database

import (
	"database/sql"
	"time"
)

// Sender values for stored messages.
const (
	SenderUser = "user"
	SenderBot  = "bot"
)

// Message type values.
const (
	TypeNews = "news"
	TypeChat = "chat"
)

// Message represents one stored conversation turn for a contact.
// Messages are immutable once created and ordered by timestamp within
// a contact.
type Message struct {
	ID        uint      `db:"id"`
	Contact   string    `db:"contact"`
	Sender    string    `db:"sender"`
	Content   string    `db:"content"`
	Type      string    `db:"message_type"`
	Timestamp time.Time `db:"timestamp"`
	CreatedAt time.Time `db:"created_at"`
}

// Summary is the cached conversation summary for a contact. It is reused
// verbatim while fresh (see memory package for the staleness bound) and
// regenerated otherwise.
type Summary struct {
	Contact     string    `db:"contact"`
	Text        string    `db:"context_summary"`
	LastUpdated time.Time `db:"last_updated"`
}

// Interest records how often a contact has asked about a topic.
type Interest struct {
	Contact string `db:"contact"`
	Topic   string `db:"topic"`
	Count   int64  `db:"count"`
}

// Stats aggregates message counts for a contact.
type Stats struct {
	TotalMessages int64          `db:"total_messages"`
	UserMessages  int64          `db:"user_messages"`
	BotMessages   int64          `db:"bot_messages"`
	NewsQueries   int64          `db:"news_queries"`
	FirstMessage  sql.NullString `db:"first_message"`
	LastMessage   sql.NullString `db:"last_message"`
}
