// Package intent scores inbound messages against a configurable set of
// intents using combined regex-pattern and fuzzy-keyword signals.
package intent

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Score pairs a qualifying intent with its confidence.
type Score struct {
	Intent     string
	Confidence float64
}

// Classifier matches messages against a rule set. All methods are safe
// for concurrent use; Reload swaps the rule set atomically.
type Classifier struct {
	mu       sync.RWMutex
	rules    []compiledRule
	news     []*regexp.Regexp
	settings Settings

	path   string
	logger *slog.Logger
}

// NewClassifier loads rules from path. If the file is missing or cannot
// be parsed, the built-in default rule set is used and a warning is
// logged; load failure is never fatal.
func NewClassifier(path string, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := &Classifier{
		path:   path,
		logger: logger.With("component", "intent"),
	}
	c.load()
	return c
}

func (c *Classifier) load() {
	set := defaultRuleSet()
	if c.path != "" {
		loaded, err := loadRuleSet(c.path)
		if err != nil {
			c.logger.Warn("Could not load intent rules, using built-in defaults", "path", c.path, "error", err)
		} else {
			set = loaded
		}
	}

	rules, news := set.compile(c.logger)

	c.mu.Lock()
	c.rules = rules
	c.news = news
	c.settings = set.Settings
	c.mu.Unlock()

	c.logger.Debug("Intent rules loaded", "intents", len(rules), "news_patterns", len(news))
}

// Reload re-reads the rules file and swaps in the new rule set. On
// failure the built-in defaults are installed, mirroring initial load.
func (c *Classifier) Reload() {
	c.load()
}

// Watch reloads the rule set whenever the rules file changes. It blocks
// until ctx is cancelled; callers run it in a goroutine.
func (c *Classifier) Watch(ctx context.Context) error {
	if c.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := watcher.Close(); closeErr != nil {
			c.logger.Warn("Error closing rules watcher", "error", closeErr)
		}
	}()

	if err := watcher.Add(c.path); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				c.logger.Info("Intent rules file changed, reloading", "path", c.path)
				c.load()
			}

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("Rules watcher error", "error", watchErr)
		}
	}
}

// Classify returns the highest-scoring intent whose score meets its
// threshold, or ("", 0) when nothing qualifies. Ties are broken by
// declaration order in the rules file: the first-declared intent wins.
func (c *Classifier) Classify(message string) (string, float64) {
	message = strings.ToLower(strings.TrimSpace(message))
	if message == "" {
		return "", 0
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	bestIntent := ""
	bestScore := 0.0
	for _, rule := range c.rules {
		score := c.scoreRule(message, rule)
		if score >= rule.threshold && score > bestScore {
			bestScore = score
			bestIntent = rule.name
		}
	}

	return bestIntent, bestScore
}

// ClassifyAll returns every qualifying intent in descending confidence
// order. Equal scores keep declaration order.
func (c *Classifier) ClassifyAll(message string) []Score {
	message = strings.ToLower(strings.TrimSpace(message))
	if message == "" {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var scores []Score
	for _, rule := range c.rules {
		score := c.scoreRule(message, rule)
		if score >= rule.threshold {
			scores = append(scores, Score{Intent: rule.name, Confidence: score})
		}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Confidence > scores[j].Confidence
	})
	return scores
}

// IsNewsPattern reports whether the message matches any configured news
// pattern. Independent of intent scoring and thresholds.
func (c *Classifier) IsNewsPattern(message string) bool {
	message = strings.ToLower(message)

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, re := range c.news {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}

func (c *Classifier) scoreRule(message string, rule compiledRule) float64 {
	pattern := patternScore(message, rule.patterns)
	keyword := keywordScore(message, rule.keywords, c.settings.FuzzyThreshold)
	return pattern*c.settings.PatternWeight + keyword*c.settings.KeywordWeight
}

// patternScore is the best coverage across the rule's patterns: the
// combined length of all matches divided by message length, doubled and
// capped at 1.
func patternScore(message string, patterns []*regexp.Regexp) float64 {
	best := 0.0
	for _, re := range patterns {
		matches := re.FindAllString(message, -1)
		if len(matches) == 0 {
			continue
		}

		matched := 0
		for _, m := range matches {
			matched += len(m)
		}

		score := float64(matched) / float64(len(message)) * 2
		if score > 1 {
			score = 1
		}
		if score > best {
			best = score
		}
	}
	return best
}

// keywordScore averages, over each whitespace token of the message, the
// best fuzzy similarity against the rule's keywords. Similarities below
// the fuzzy threshold contribute nothing.
func keywordScore(message string, keywords []string, fuzzyThreshold float64) float64 {
	tokens := strings.Fields(message)
	if len(tokens) == 0 {
		return 0
	}

	total := 0.0
	for _, token := range tokens {
		best := 0.0
		for _, keyword := range keywords {
			if sim := similarity(token, keyword); sim >= fuzzyThreshold && sim > best {
				best = sim
			}
		}
		total += best
	}

	return total / float64(len(tokens))
}
