package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"newsagent/internal/metrics"
	"newsagent/internal/search"
	"newsagent/internal/timeparse"
)

const noContentPlaceholder = "[No content available]"

const rangeDateLayout = "2006-01-02"

// newsResponse runs the retrieval branch: interest tracking, time
// expression extraction, similarity search, per-hit summarization, and
// result formatting. It always returns displayable text; failures
// degrade to the no-results message.
func (o *Orchestrator) newsResponse(ctx context.Context, log *slog.Logger, contact, query string) string {
	if err := o.store.IncrementInterest(ctx, contact, query); err != nil {
		// Interest tracking is a side signal, not part of the reply.
		log.WarnContext(ctx, "Failed to track interest", "error", err)
	}

	cleaned, timeRange := timeparse.Parse(query, o.now())
	if cleaned == "" {
		cleaned = query
	}

	var filters *search.Filters
	if timeRange != nil {
		filters = &search.Filters{
			DateRange: &search.DateRange{Start: timeRange.Start, End: timeRange.End},
		}
		log.DebugContext(ctx, "Time expression extracted",
			"cleaned_query", cleaned,
			"start", timeRange.Start.Format(rangeDateLayout),
			"end", timeRange.End.Format(rangeDateLayout))
	}

	hits, err := o.searchWithRetry(ctx, cleaned, filters)
	if err != nil {
		log.ErrorContext(ctx, "Search failed", "query", cleaned, "error", err)
		metrics.RecordExternalError("vector_search")
		return noResults(cleaned, timeRange)
	}
	if len(hits) == 0 {
		return noResults(cleaned, timeRange)
	}

	blocks := make([]string, 0, len(hits))
	for _, hit := range hits {
		blocks = append(blocks, fmt.Sprintf("Title: %s\nSummary: %s\nURL: %s\n",
			hit.Title, o.summarizeHit(ctx, log, hit), hit.URL))
	}

	result := strings.Join(blocks, "\n")
	if timeRange != nil {
		return fmt.Sprintf("News from %s to %s:\n\n%s",
			timeRange.Start.Format(rangeDateLayout), timeRange.End.Format(rangeDateLayout), result)
	}
	return result
}

// searchWithRetry performs the similarity search with a single bounded
// retry. Searches are pure reads, so the retry is safe.
func (o *Orchestrator) searchWithRetry(ctx context.Context, query string, filters *search.Filters) ([]search.Hit, error) {
	searchCtx, cancel := context.WithTimeout(ctx, o.cfg.Search.Timeout)
	defer cancel()

	hits, err := o.searcher.Search(searchCtx, query, filters)
	if err == nil || ctx.Err() != nil {
		return hits, err
	}

	retryCtx, cancelRetry := context.WithTimeout(ctx, o.cfg.Search.Timeout)
	defer cancelRetry()
	return o.searcher.Search(retryCtx, query, filters)
}

// summarizeHit condenses one article, falling back to leading-sentence
// truncation when the summarizer is unavailable.
func (o *Orchestrator) summarizeHit(ctx context.Context, log *slog.Logger, hit search.Hit) string {
	content := strings.TrimSpace(hit.Content)
	if content == "" {
		return noContentPlaceholder
	}

	summary, err := o.ai.Summarize(ctx, content)
	if err != nil {
		log.WarnContext(ctx, "Summarization failed, using truncation fallback",
			"title", hit.Title, "error", err)
		metrics.RecordExternalError("summarizer")
		return firstSentences(content, o.cfg.AI.SummarySentences)
	}

	return summary
}

func noResults(query string, timeRange *timeparse.Range) string {
	msg := fmt.Sprintf("No articles found for query: '%s'", query)
	if timeRange != nil {
		msg += fmt.Sprintf(" (from %s to %s)",
			timeRange.Start.Format(rangeDateLayout), timeRange.End.Format(rangeDateLayout))
	}
	return msg
}

// firstSentences returns the first n sentences of text, where sentences
// end at '.', '!' or '?'. Text with no terminator is returned whole.
func firstSentences(text string, n int) string {
	if n <= 0 {
		n = 2
	}

	count := 0
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		count++
		if count == n {
			return strings.TrimSpace(text[:i+1])
		}
	}
	return strings.TrimSpace(text)
}
