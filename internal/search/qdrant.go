package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"newsagent/internal/config"
)

// qdrantClient implements Client against the Qdrant REST API.
type qdrantClient struct {
	httpClient     *http.Client
	baseURL        string
	collection     string
	topK           int
	scoreThreshold float64
	embedder       Embedder
	logger         *slog.Logger
}

// NewQdrantClient creates a search client for the configured collection.
// Query vectors come from the injected embedder.
func NewQdrantClient(cfg *config.SearchConfig, embedder Embedder, logger *slog.Logger) (Client, error) {
	if cfg == nil {
		return nil, errors.New("search config cannot be nil")
	}
	if embedder == nil {
		return nil, errors.New("embedder cannot be nil")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &qdrantClient{
		httpClient:     &http.Client{Timeout: timeout},
		baseURL:        strings.TrimSuffix(cfg.QdrantURL, "/"),
		collection:     cfg.Collection,
		topK:           cfg.TopK,
		scoreThreshold: cfg.ScoreThreshold,
		embedder:       embedder,
		logger:         logger.With("component", "search"),
	}, nil
}

// searchRequest is the Qdrant points/search payload.
type searchRequest struct {
	Vector         []float32      `json:"vector"`
	Limit          int            `json:"limit"`
	ScoreThreshold float64        `json:"score_threshold,omitempty"`
	WithPayload    bool           `json:"with_payload"`
	Filter         map[string]any `json:"filter,omitempty"`
}

// searchResponse is the subset of the Qdrant response we consume. The
// payload is decoded loosely so schema drift never breaks formatting.
type searchResponse struct {
	Result []struct {
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
	Status any `json:"status"`
}

func (c *qdrantClient) Connect(ctx context.Context) error {
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build collection check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach qdrant at %s: %w", c.baseURL, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("collection %q check failed with status %d", c.collection, resp.StatusCode)
	}

	c.logger.InfoContext(ctx, "Connected to qdrant", "url", c.baseURL, "collection", c.collection)
	return nil
}

func (c *qdrantClient) Search(ctx context.Context, query string, filters *Filters) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query cannot be empty")
	}

	vector, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	body := searchRequest{
		Vector:         vector,
		Limit:          c.topK,
		ScoreThreshold: c.scoreThreshold,
		WithPayload:    true,
		Filter:         buildFilter(filters),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search request returned status %d: %s", resp.StatusCode, string(snippet))
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	hits := make([]Hit, 0, len(decoded.Result))
	for _, point := range decoded.Result {
		hits = append(hits, Hit{
			Score:       point.Score,
			Title:       payloadString(point.Payload, "title"),
			URL:         payloadString(point.Payload, "url"),
			Date:        payloadString(point.Payload, "date"),
			Category:    payloadString(point.Payload, "category"),
			Content:     payloadString(point.Payload, "content"),
			Subheadings: payloadStrings(point.Payload, "subheadings"),
		})
	}

	c.logger.DebugContext(ctx, "Search completed",
		"query", query, "hits", len(hits), "duration_ms", time.Since(start).Milliseconds())
	return hits, nil
}

func (c *qdrantClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// buildFilter translates Filters into a Qdrant filter clause.
func buildFilter(filters *Filters) map[string]any {
	if filters == nil {
		return nil
	}

	var must []any
	if filters.Category != "" {
		must = append(must, map[string]any{
			"key":   "category",
			"match": map[string]any{"value": filters.Category},
		})
	}
	if filters.DateRange != nil {
		must = append(must, map[string]any{
			"key": "date",
			"range": map[string]any{
				"gte": filters.DateRange.Start.Format("2006-01-02"),
				"lte": filters.DateRange.End.Format("2006-01-02"),
			},
		})
	}

	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

// payloadString reads a string field from a loosely typed payload,
// returning "" for missing or differently typed values.
func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func payloadStrings(payload map[string]any, key string) []string {
	if payload == nil {
		return nil
	}
	raw, ok := payload[key].([]any)
	if !ok {
		return nil
	}

	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
