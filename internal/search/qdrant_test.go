package search_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"newsagent/internal/config"
	"newsagent/internal/search"
)

type fixedEmbedder struct {
	vector []float32
	err    error
}

func (f *fixedEmbedder) Embed(context.Context, string) ([]float32, error) {
	return f.vector, f.err
}

func testSearchConfig(url string) *config.SearchConfig {
	return &config.SearchConfig{
		QdrantURL:      url,
		Collection:     "news_articles",
		TopK:           5,
		ScoreThreshold: 0.35,
		Timeout:        5 * time.Second,
	}
}

func newTestClient(t *testing.T, handler http.Handler) search.Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := search.NewQdrantClient(testSearchConfig(srv.URL), &fixedEmbedder{vector: []float32{0.1, 0.2, 0.3}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Errorf("close failed: %v", err)
		}
	})
	return client
}

func TestConnect(t *testing.T) {
	t.Parallel()

	t.Run("collection exists", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/collections/news_articles" {
				t.Errorf("path = %q, want the collection check endpoint", r.URL.Path)
			}
			w.WriteHeader(http.StatusOK)
		}))

		if err := client.Connect(context.Background()); err != nil {
			t.Errorf("Connect() = %v, want nil", err)
		}
	})

	t.Run("collection missing", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))

		err := client.Connect(context.Background())
		if err == nil {
			t.Fatal("Connect() = nil, want error for missing collection")
		}
		if !strings.Contains(err.Error(), "404") {
			t.Errorf("error = %v, want it to name the status code", err)
		}
	})
}

func TestSearchDecodesHits(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/news_articles/points/search" {
			t.Errorf("path = %q, want the points search endpoint", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]any{
				{
					"score": 0.91,
					"payload": map[string]any{
						"title":       "Fuel prices drop",
						"url":         "https://example.com/fuel",
						"date":        "2025-07-25",
						"category":    "business",
						"content":     "Pump prices fell this week.",
						"subheadings": []any{"Retail impact", "Transport costs"},
					},
				},
				{"score": 0.52, "payload": map[string]any{"title": "Short one"}},
			},
			"status": "ok",
		})
	}))

	hits, err := client.Search(context.Background(), "fuel prices", nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	first := hits[0]
	if first.Score != 0.91 || first.Title != "Fuel prices drop" || first.Category != "business" {
		t.Errorf("first hit = %+v, want decoded payload fields", first)
	}
	if len(first.Subheadings) != 2 || first.Subheadings[0] != "Retail impact" {
		t.Errorf("subheadings = %v, want both entries", first.Subheadings)
	}
	if hits[1].URL != "" || hits[1].Content != "" {
		t.Errorf("second hit = %+v, want empty strings for absent payload fields", hits[1])
	}

	if gotBody["limit"] != float64(5) {
		t.Errorf("request limit = %v, want the configured top_k", gotBody["limit"])
	}
	if gotBody["score_threshold"] != 0.35 {
		t.Errorf("request score_threshold = %v, want 0.35", gotBody["score_threshold"])
	}
	if gotBody["with_payload"] != true {
		t.Error("request must ask for payloads")
	}
	if _, ok := gotBody["filter"]; ok {
		t.Error("request without filters must omit the filter clause")
	}
}

func TestSearchSendsFilters(t *testing.T) {
	t.Parallel()

	var gotBody struct {
		Filter struct {
			Must []map[string]any `json:"must"`
		} `json:"filter"`
	}
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		_, _ = w.Write([]byte(`{"result": []}`))
	}))

	filters := &search.Filters{
		Category: "politics",
		DateRange: &search.DateRange{
			Start: time.Date(2025, time.July, 20, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2025, time.July, 27, 0, 0, 0, 0, time.UTC),
		},
	}
	if _, err := client.Search(context.Background(), "election recap", filters); err != nil {
		t.Fatal(err)
	}

	if len(gotBody.Filter.Must) != 2 {
		t.Fatalf("filter has %d clauses, want category and date range", len(gotBody.Filter.Must))
	}
	if gotBody.Filter.Must[0]["key"] != "category" {
		t.Errorf("first clause = %v, want the category match", gotBody.Filter.Must[0])
	}
	rangeClause, _ := gotBody.Filter.Must[1]["range"].(map[string]any)
	if rangeClause["gte"] != "2025-07-20" || rangeClause["lte"] != "2025-07-27" {
		t.Errorf("date clause = %v, want the formatted range bounds", gotBody.Filter.Must[1])
	}
}

func TestSearchToleratesMalformedPayload(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result": [{"score": 0.4, "payload": {
			"title": 42,
			"url": null,
			"subheadings": ["keep", 7, {"not": "a string"}]
		}}]}`))
	}))

	hits, err := client.Search(context.Background(), "anything", nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	if hits[0].Title != "" || hits[0].URL != "" {
		t.Errorf("hit = %+v, want non-string payload fields dropped", hits[0])
	}
	if len(hits[0].Subheadings) != 1 || hits[0].Subheadings[0] != "keep" {
		t.Errorf("subheadings = %v, want only the string entry kept", hits[0].Subheadings)
	}
}

func TestSearchErrors(t *testing.T) {
	t.Parallel()

	t.Run("empty query", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("empty query must not reach the server")
		}))
		if _, err := client.Search(context.Background(), "   ", nil); err == nil {
			t.Error("expected error for empty query")
		}
	})

	t.Run("backend failure", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "collection not loaded", http.StatusInternalServerError)
		}))
		_, err := client.Search(context.Background(), "economy", nil)
		if err == nil {
			t.Fatal("expected error for 500 response")
		}
		if !strings.Contains(err.Error(), "500") {
			t.Errorf("error = %v, want it to carry the status code", err)
		}
	})

	t.Run("embedder failure", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("request must not be sent when embedding fails")
		}))
		t.Cleanup(srv.Close)

		client, err := search.NewQdrantClient(testSearchConfig(srv.URL),
			&fixedEmbedder{err: context.DeadlineExceeded}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := client.Search(context.Background(), "economy", nil); err == nil {
			t.Error("expected error when embedding fails")
		}
	})

	t.Run("nil config", func(t *testing.T) {
		t.Parallel()

		if _, err := search.NewQdrantClient(nil, &fixedEmbedder{}, nil); err == nil {
			t.Error("expected error for nil config")
		}
	})
}
