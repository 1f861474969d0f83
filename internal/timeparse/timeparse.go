// Package timeparse extracts a date range from free-text queries so news
// retrieval can be filtered by time.
package timeparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Range is an inclusive date range. Start and End are midnight-truncated
// in the reference time's location.
type Range struct {
	Start time.Time
	End   time.Time
}

// phraseRule binds one relative-time phrase to its range resolver. Rules
// are tried in declaration order and the first match wins.
type phraseRule struct {
	re      *regexp.Regexp
	resolve func(ref time.Time, groups []string) Range
}

// Leading connector words belong to the time phrase, so stripping the
// match leaves a clean residual query.
const connector = `(?:(?:from|in|during|for)\s+)?`

var phraseRules = []phraseRule{
	{
		re: regexp.MustCompile(connector + `\byesterday(?:'s)?\b`),
		resolve: func(ref time.Time, _ []string) Range {
			d := dayOf(ref.AddDate(0, 0, -1))
			return Range{Start: d, End: d}
		},
	},
	{
		re: regexp.MustCompile(connector + `\btoday(?:'s)?\b`),
		resolve: func(ref time.Time, _ []string) Range {
			d := dayOf(ref)
			return Range{Start: d, End: d}
		},
	},
	{
		re: regexp.MustCompile(connector + `\blast\s+week\b`),
		resolve: func(ref time.Time, _ []string) Range {
			return Range{Start: dayOf(ref.AddDate(0, 0, -7)), End: dayOf(ref)}
		},
	},
	{
		re: regexp.MustCompile(connector + `\bthis\s+week\b`),
		resolve: func(ref time.Time, _ []string) Range {
			return Range{Start: startOfWeek(ref), End: dayOf(ref)}
		},
	},
	{
		// Rolling 30-day window rather than the previous calendar month.
		re: regexp.MustCompile(connector + `\blast\s+month\b`),
		resolve: func(ref time.Time, _ []string) Range {
			return Range{Start: dayOf(ref.AddDate(0, 0, -30)), End: dayOf(ref)}
		},
	},
	{
		re: regexp.MustCompile(connector + `\bthis\s+month\b`),
		resolve: func(ref time.Time, _ []string) Range {
			start := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, ref.Location())
			return Range{Start: start, End: dayOf(ref)}
		},
	},
	{
		// Rolling 365-day window.
		re: regexp.MustCompile(connector + `\blast\s+year\b`),
		resolve: func(ref time.Time, _ []string) Range {
			return Range{Start: dayOf(ref.AddDate(0, 0, -365)), End: dayOf(ref)}
		},
	},
	{
		re: regexp.MustCompile(connector + `\bthis\s+year\b`),
		resolve: func(ref time.Time, _ []string) Range {
			start := time.Date(ref.Year(), time.January, 1, 0, 0, 0, 0, ref.Location())
			return Range{Start: start, End: dayOf(ref)}
		},
	},
	{
		re: regexp.MustCompile(connector + `\b(?:last|past)\s+(\d{1,3})\s+days?\b`),
		resolve: func(ref time.Time, groups []string) Range {
			n, _ := strconv.Atoi(groups[1])
			return Range{Start: dayOf(ref.AddDate(0, 0, -n)), End: dayOf(ref)}
		},
	},
	{
		re: regexp.MustCompile(connector + `\b(?:last|past)\s+(\d{1,2})\s+weeks?\b`),
		resolve: func(ref time.Time, groups []string) Range {
			n, _ := strconv.Atoi(groups[1])
			return Range{Start: dayOf(ref.AddDate(0, 0, -7*n)), End: dayOf(ref)}
		},
	},
}

// absoluteRe matches "from <side> to <side>" where a side is either a
// day-and-month pair with an optional ordinal suffix or "last <weekday>".
var absoluteRe = regexp.MustCompile(
	`\bfrom\s+(?:(\d{1,2})(?:st|nd|rd|th)?\s+([a-z]+)|last\s+([a-z]+))` +
		`\s+to\s+(?:(\d{1,2})(?:st|nd|rd|th)?\s+([a-z]+)|last\s+([a-z]+))\b`)

// Parse extracts a time expression from query, resolved against ref.
// It returns the query with the matched phrase removed and the resolved
// range, or (query, nil) unchanged when no expression is found. The
// residual query is lowercased with whitespace normalized.
func Parse(query string, ref time.Time) (string, *Range) {
	lower := strings.ToLower(query)

	for _, rule := range phraseRules {
		loc := rule.re.FindStringSubmatchIndex(lower)
		if loc == nil {
			continue
		}
		groups := groupStrings(lower, loc)
		r := rule.resolve(ref, groups)
		return strip(lower, loc[0], loc[1]), &r
	}

	if loc := absoluteRe.FindStringSubmatchIndex(lower); loc != nil {
		groups := groupStrings(lower, loc)
		start, ok := resolveSide(groups[1], groups[2], groups[3], ref)
		if !ok {
			return query, nil
		}
		end, ok := resolveSide(groups[4], groups[5], groups[6], ref)
		if !ok {
			return query, nil
		}
		r := Range{Start: start, End: end}
		return strip(lower, loc[0], loc[1]), &r
	}

	return query, nil
}

// resolveSide resolves one side of an absolute range. An unrecognized
// month or weekday name fails the whole parse instead of defaulting to
// the reference date.
func resolveSide(day, month, weekday string, ref time.Time) (time.Time, bool) {
	if weekday != "" {
		return lastWeekday(ref, weekday)
	}

	m, ok := monthByName(month)
	if !ok {
		return time.Time{}, false
	}
	d, err := strconv.Atoi(day)
	if err != nil || d < 1 || d > 31 {
		return time.Time{}, false
	}
	return time.Date(ref.Year(), m, d, 0, 0, 0, 0, ref.Location()), true
}

// lastWeekday finds the most recent prior occurrence of the named
// weekday. When the reference day is that weekday, it steps back a full
// week.
func lastWeekday(ref time.Time, name string) (time.Time, bool) {
	wd, ok := weekdayByName(name)
	if !ok {
		return time.Time{}, false
	}

	back := (int(ref.Weekday()) - int(wd) + 7) % 7
	if back == 0 {
		back = 7
	}
	return dayOf(ref.AddDate(0, 0, -back)), true
}

func monthByName(name string) (time.Month, bool) {
	for m := time.January; m <= time.December; m++ {
		full := strings.ToLower(m.String())
		if name == full || name == full[:3] {
			return m, true
		}
	}
	return 0, false
}

func weekdayByName(name string) (time.Weekday, bool) {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		full := strings.ToLower(wd.String())
		if name == full || name == full[:3] {
			return wd, true
		}
	}
	return 0, false
}

// startOfWeek returns the Monday of ref's week.
func startOfWeek(ref time.Time) time.Time {
	back := (int(ref.Weekday()) - int(time.Monday) + 7) % 7
	return dayOf(ref.AddDate(0, 0, -back))
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func strip(s string, from, to int) string {
	return strings.Join(strings.Fields(s[:from]+" "+s[to:]), " ")
}

func groupStrings(s string, loc []int) []string {
	groups := make([]string, len(loc)/2)
	for i := range groups {
		if loc[2*i] >= 0 {
			groups[i] = s[loc[2*i]:loc[2*i+1]]
		}
	}
	return groups
}
