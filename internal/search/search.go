// Package search provides similarity search over the news article
// collection.
package search

import (
	"context"
	"time"
)

// Hit is one ranked search result. Fields missing from the stored
// payload stay at their zero values.
type Hit struct {
	Score       float64
	Title       string
	URL         string
	Date        string
	Category    string
	Content     string
	Subheadings []string
}

// DateRange filters hits to articles dated inside an inclusive window.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Filters narrows a search. Zero-valued fields are ignored.
type Filters struct {
	Category  string
	DateRange *DateRange
}

// Client is the similarity search interface used by the orchestrator.
type Client interface {
	// Connect verifies the backing collection is reachable.
	Connect(ctx context.Context) error

	// Search returns ranked hits for the query, best first.
	Search(ctx context.Context, query string, filters *Filters) ([]Hit, error)

	// Close releases client resources.
	Close() error
}

// Embedder turns query text into a vector. Implemented by the AI client.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
