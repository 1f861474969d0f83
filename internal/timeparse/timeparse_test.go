// Package timeparse_test tests time expression extraction.
package timeparse_test

import (
	"testing"
	"time"

	"newsagent/internal/timeparse"
)

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func TestParseRelative(t *testing.T) {
	t.Parallel()

	// A Sunday, mid-afternoon.
	ref := time.Date(2025, time.July, 27, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name        string
		query       string
		wantCleaned string
		wantStart   time.Time
		wantEnd     time.Time
	}{
		{
			name:        "last week with connector",
			query:       "news from last week",
			wantCleaned: "news",
			wantStart:   date(2025, time.July, 20),
			wantEnd:     date(2025, time.July, 27),
		},
		{
			name:        "today possessive",
			query:       "today's headlines",
			wantCleaned: "headlines",
			wantStart:   date(2025, time.July, 27),
			wantEnd:     date(2025, time.July, 27),
		},
		{
			name:        "yesterday",
			query:       "protests yesterday",
			wantCleaned: "protests",
			wantStart:   date(2025, time.July, 26),
			wantEnd:     date(2025, time.July, 26),
		},
		{
			name:        "this week starts monday",
			query:       "elections this week",
			wantCleaned: "elections",
			wantStart:   date(2025, time.July, 21),
			wantEnd:     date(2025, time.July, 27),
		},
		{
			name:        "last month rolling window",
			query:       "economy during last month",
			wantCleaned: "economy",
			wantStart:   date(2025, time.June, 27),
			wantEnd:     date(2025, time.July, 27),
		},
		{
			name:        "this month calendar aligned",
			query:       "business in this month",
			wantCleaned: "business",
			wantStart:   date(2025, time.July, 1),
			wantEnd:     date(2025, time.July, 27),
		},
		{
			name:        "this year",
			query:       "government this year",
			wantCleaned: "government",
			wantStart:   date(2025, time.January, 1),
			wantEnd:     date(2025, time.July, 27),
		},
		{
			name:        "last n days",
			query:       "updates for last 3 days",
			wantCleaned: "updates",
			wantStart:   date(2025, time.July, 24),
			wantEnd:     date(2025, time.July, 27),
		},
		{
			name:        "past n weeks",
			query:       "floods in the past 2 weeks",
			wantCleaned: "floods in the",
			wantStart:   date(2025, time.July, 13),
			wantEnd:     date(2025, time.July, 27),
		},
		{
			name:        "first declared phrase wins",
			query:       "from last week or yesterday",
			wantCleaned: "from last week or",
			wantStart:   date(2025, time.July, 26),
			wantEnd:     date(2025, time.July, 26),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cleaned, r := timeparse.Parse(tc.query, ref)
			if r == nil {
				t.Fatalf("Parse(%q) returned no range", tc.query)
			}
			if cleaned != tc.wantCleaned {
				t.Errorf("cleaned = %q, want %q", cleaned, tc.wantCleaned)
			}
			if !r.Start.Equal(tc.wantStart) {
				t.Errorf("start = %v, want %v", r.Start, tc.wantStart)
			}
			if !r.End.Equal(tc.wantEnd) {
				t.Errorf("end = %v, want %v", r.End, tc.wantEnd)
			}
		})
	}
}

func TestParseAbsolute(t *testing.T) {
	t.Parallel()

	// A Sunday.
	ref := time.Date(2025, time.July, 27, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		query       string
		wantCleaned string
		wantStart   time.Time
		wantEnd     time.Time
	}{
		{
			name:        "day month with ordinals",
			query:       "protests from 1st july to 15th july",
			wantCleaned: "protests",
			wantStart:   date(2025, time.July, 1),
			wantEnd:     date(2025, time.July, 15),
		},
		{
			name:        "abbreviated month names",
			query:       "elections from 3 jun to 9 jun",
			wantCleaned: "elections",
			wantStart:   date(2025, time.June, 3),
			wantEnd:     date(2025, time.June, 9),
		},
		{
			name:        "last weekday sides",
			query:       "floods from last friday to last sunday",
			wantCleaned: "floods",
			wantStart:   date(2025, time.July, 25),
			// Same weekday as the reference steps back a full week.
			wantEnd: date(2025, time.July, 20),
		},
		{
			name:        "mixed sides",
			query:       "economy from 20th july to last saturday",
			wantCleaned: "economy",
			wantStart:   date(2025, time.July, 20),
			wantEnd:     date(2025, time.July, 26),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cleaned, r := timeparse.Parse(tc.query, ref)
			if r == nil {
				t.Fatalf("Parse(%q) returned no range", tc.query)
			}
			if cleaned != tc.wantCleaned {
				t.Errorf("cleaned = %q, want %q", cleaned, tc.wantCleaned)
			}
			if !r.Start.Equal(tc.wantStart) {
				t.Errorf("start = %v, want %v", r.Start, tc.wantStart)
			}
			if !r.End.Equal(tc.wantEnd) {
				t.Errorf("end = %v, want %v", r.End, tc.wantEnd)
			}
		})
	}
}

func TestParseNoMatch(t *testing.T) {
	t.Parallel()

	ref := time.Date(2025, time.July, 27, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		query string
	}{
		{"no time expression", "Latest on the Nairobi protests"},
		{"unknown month fails whole parse", "news from 1st smarch to 5th july"},
		{"unknown weekday fails whole parse", "news from last someday to last friday"},
		{"bare connector", "news from the city"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cleaned, r := timeparse.Parse(tc.query, ref)
			if r != nil {
				t.Fatalf("Parse(%q) = range %v..%v, want none", tc.query, r.Start, r.End)
			}
			if cleaned != tc.query {
				t.Errorf("cleaned = %q, want original query unchanged", cleaned)
			}
		})
	}
}
