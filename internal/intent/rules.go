package intent

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Rule describes one intent: the regex patterns and keywords that signal
// it, and the minimum combined score it must reach to qualify.
type Rule struct {
	Name      string   `yaml:"-"`
	Patterns  []string `yaml:"patterns"`
	Keywords  []string `yaml:"keywords"`
	Threshold float64  `yaml:"threshold"`
}

// Settings holds the scoring weights shared by all intents.
type Settings struct {
	PatternWeight    float64 `yaml:"pattern_weight"`
	KeywordWeight    float64 `yaml:"keyword_weight"`
	DefaultThreshold float64 `yaml:"default_threshold"`
	FuzzyThreshold   float64 `yaml:"fuzzy_match_threshold"`
}

// RuleSet is the full classifier configuration. Rules preserve the order
// in which they were declared; declaration order breaks score ties.
type RuleSet struct {
	Rules        []Rule
	NewsPatterns []string
	Settings     Settings
}

// compiledRule is a Rule with its patterns compiled. Patterns that fail
// to compile are dropped at load time, never during matching.
type compiledRule struct {
	name      string
	patterns  []*regexp.Regexp
	keywords  []string
	threshold float64
}

func defaultSettings() Settings {
	return Settings{
		PatternWeight:    0.7,
		KeywordWeight:    0.3,
		DefaultThreshold: 0.5,
		FuzzyThreshold:   0.8,
	}
}

// defaultRuleSet returns the built-in configuration used when no rules
// file is available or it cannot be parsed.
func defaultRuleSet() RuleSet {
	return RuleSet{
		Rules: []Rule{
			{
				Name: "date_request",
				Patterns: []string{
					`\b(what|when|tell me|give me|show me|what's|what is)\s+(day|date|today|now)\b`,
					`\b(today|now)\s+(date|day)\b`,
					`\b(date|day)\s+(today|now)\b`,
					`\bcurrent\s+date\b`,
					`\btoday's\s+date\b`,
					`\bwhat\s+day\s+is\s+it\b`,
					`\bwhat\s+date\s+is\s+it\b`,
					`\bcan\s+you\s+(tell|give|show)\s+me\s+the\s+date\b`,
				},
				Keywords:  []string{"date", "today", "day", "now", "current"},
				Threshold: 0.6,
			},
			{
				Name: "name_request",
				Patterns: []string{
					`\b(what|tell me|what's|what is)\s+(your|your name|should i call you)\b`,
					`\b(call|name)\s+you\b`,
					`\bdo\s+you\s+have\s+a\s+name\b`,
					`\bwhat\s+can\s+i\s+call\s+you\b`,
					`\byour\s+name\b`,
				},
				Keywords:  []string{"name", "call", "you", "your"},
				Threshold: 0.6,
			},
			{
				Name: "capability_question",
				Patterns: []string{
					`\b(are you|do you|can you)\s+(aware|know|access|get|find|browse|read)\b`,
					`\b(where|how)\s+do\s+you\s+(get|find|access|know)\b`,
					`\b(news sources|information sources)\b`,
					`\bintelligently\s+aware\b`,
					`\bdo\s+you\s+have\s+access\b`,
					`\bcan\s+you\s+read\b`,
				},
				Keywords:  []string{"aware", "know", "access", "get", "find", "browse", "read", "sources", "information"},
				Threshold: 0.5,
			},
			{
				Name: "correction",
				Patterns: []string{
					`\b(no|wrong|incorrect|actually|but|however)\b`,
					`\b(that's|that is)\s+(wrong|not right|incorrect)\b`,
					`\byou're\s+wrong\b`,
					`\bthat's\s+not\s+(right|correct)\b`,
				},
				Keywords:  []string{"no", "wrong", "incorrect", "actually", "but", "however"},
				Threshold: 0.7,
			},
			{
				Name: "follow_up",
				Patterns: []string{
					`\b(tell me|explain|elaborate)\s+more\b`,
					`\b(what about|more details|what else)\b`,
					`\b(and also|also|additionally)\b`,
					`\b(what do you think|your opinion|your take)\b`,
					`\blike\s+explain\b`,
					`\bcan\s+you\s+(elaborate|explain)\b`,
				},
				Keywords:  []string{"more", "further", "else", "also", "think", "opinion", "explain", "elaborate"},
				Threshold: 0.5,
			},
		},
		NewsPatterns: []string{
			`\b(tell me|what's|what is)\s+(happening|latest|current|trending|breaking)\b`,
			`\b(latest|current|trending|breaking|recent)\s+(news|developments|updates)\b`,
			`\b(protest|election|government|politics|economy|business)\b`,
			`\b(kenya|kenyan)\s+(news|politics|economy)\b`,
			`\bwhat\s+(about|regarding|concerning)\b`,
		},
		Settings: defaultSettings(),
	}
}

// loadRuleSet reads and parses a rules file. Intent declaration order is
// taken from the YAML document, not from map iteration.
func loadRuleSet(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("failed to read rules file %q: %w", path, err)
	}
	return parseRuleSet(data)
}

func parseRuleSet(data []byte) (RuleSet, error) {
	var doc struct {
		Intents      yaml.Node `yaml:"intents"`
		NewsPatterns []string  `yaml:"news_patterns"`
		Settings     *Settings `yaml:"settings"`
	}

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return RuleSet{}, fmt.Errorf("failed to parse rules file: %w", err)
	}

	set := RuleSet{
		NewsPatterns: doc.NewsPatterns,
		Settings:     defaultSettings(),
	}
	if doc.Settings != nil {
		set.Settings = mergeSettings(*doc.Settings)
	}

	if doc.Intents.Kind != 0 {
		if doc.Intents.Kind != yaml.MappingNode {
			return RuleSet{}, fmt.Errorf("intents section must be a mapping")
		}
		// Mapping node content alternates key, value; iterating it keeps
		// the declaration order of the file.
		for i := 0; i+1 < len(doc.Intents.Content); i += 2 {
			var rule Rule
			if err := doc.Intents.Content[i+1].Decode(&rule); err != nil {
				return RuleSet{}, fmt.Errorf("failed to decode intent %q: %w", doc.Intents.Content[i].Value, err)
			}
			rule.Name = doc.Intents.Content[i].Value
			set.Rules = append(set.Rules, rule)
		}
	}

	if len(set.Rules) == 0 {
		return RuleSet{}, fmt.Errorf("rules file defines no intents")
	}
	return set, nil
}

func mergeSettings(s Settings) Settings {
	def := defaultSettings()
	if s.PatternWeight <= 0 {
		s.PatternWeight = def.PatternWeight
	}
	if s.KeywordWeight <= 0 {
		s.KeywordWeight = def.KeywordWeight
	}
	if s.DefaultThreshold <= 0 {
		s.DefaultThreshold = def.DefaultThreshold
	}
	if s.FuzzyThreshold <= 0 {
		s.FuzzyThreshold = def.FuzzyThreshold
	}
	return s
}

// compile validates every pattern in the set. Malformed patterns are
// skipped with a warning; an intent whose patterns all fail keeps its
// keyword scoring.
func (rs RuleSet) compile(logger *slog.Logger) ([]compiledRule, []*regexp.Regexp) {
	compiled := make([]compiledRule, 0, len(rs.Rules))
	for _, rule := range rs.Rules {
		cr := compiledRule{
			name:      rule.Name,
			keywords:  rule.Keywords,
			threshold: rule.Threshold,
		}
		if cr.threshold <= 0 {
			cr.threshold = rs.Settings.DefaultThreshold
		}
		for _, p := range rule.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				logger.Warn("Skipping malformed intent pattern", "intent", rule.Name, "pattern", p, "error", err)
				continue
			}
			cr.patterns = append(cr.patterns, re)
		}
		compiled = append(compiled, cr)
	}

	news := make([]*regexp.Regexp, 0, len(rs.NewsPatterns))
	for _, p := range rs.NewsPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			logger.Warn("Skipping malformed news pattern", "pattern", p, "error", err)
			continue
		}
		news = append(news, re)
	}

	return compiled, news
}
