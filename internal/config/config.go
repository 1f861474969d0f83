// Package config provides configuration loading, validation, and management
// for the news agent. It handles reading from YAML files, environment
// variables, setting default values, and validating configuration parameters.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config defines the application configuration parameters for all components
// of the news agent: logging, persistence, intent rules, retrieval, AI
// integration, and scheduled maintenance.
type Config struct {
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogJSON  bool   `mapstructure:"log_json"`

	DBPath string `mapstructure:"db_path" validate:"required"`

	// IntentRulesPath points to the intent rule file. A missing or malformed
	// file is not fatal; the classifier falls back to built-in defaults.
	IntentRulesPath string `mapstructure:"intent_rules_path"`

	// ContextWindow is the number of recent turns supplied to generation calls.
	ContextWindow int `mapstructure:"context_window" validate:"min=1,max=100"`

	// RetentionDays controls the age beyond which stored messages are purged.
	RetentionDays int `mapstructure:"retention_days" validate:"min=1"`

	Search    SearchConfig    `mapstructure:"search"`
	AI        AIConfig        `mapstructure:"ai"`
	Messages  MessagesConfig  `mapstructure:"messages"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`

	// ChatSuffixProbability is the chance a chat response receives a cosmetic
	// suffix during enhancement.
	ChatSuffixProbability float64 `mapstructure:"chat_suffix_probability" validate:"min=0,max=1"`

	// MetricsAddr optionally exposes Prometheus metrics over HTTP (e.g. ":9091").
	MetricsAddr string `mapstructure:"metrics_addr"`

	// DBTimeout bounds individual persistence operations.
	DBTimeout time.Duration `mapstructure:"db_timeout" validate:"min=100ms,max=1m"`
}

// SearchConfig holds settings for the vector search collaborator.
type SearchConfig struct {
	QdrantURL      string        `mapstructure:"qdrant_url" validate:"required,url"`
	Collection     string        `mapstructure:"collection" validate:"required"`
	TopK           int           `mapstructure:"top_k"      validate:"min=1,max=50"`
	ScoreThreshold float64       `mapstructure:"score_threshold" validate:"min=0,max=1"`
	Timeout        time.Duration `mapstructure:"timeout"    validate:"min=1s,max=2m"`
	EmbedModel     string        `mapstructure:"embed_model"`
}

// AIConfig holds settings for the chat completion and summarization backends.
type AIConfig struct {
	Backend          string        `mapstructure:"backend" validate:"oneof=openai gemini"`
	Token            string        `mapstructure:"token"   validate:"required"`
	BaseURL          string        `mapstructure:"base_url" validate:"omitempty,url"`
	Model            string        `mapstructure:"model"   validate:"required"`
	Temperature      float32       `mapstructure:"temperature" validate:"min=0,max=2"`
	MaxTokens        int           `mapstructure:"max_tokens"  validate:"min=1,max=32768"`
	Timeout          time.Duration `mapstructure:"timeout"     validate:"min=1s,max=10m"`
	SummarySentences int           `mapstructure:"summary_sentences" validate:"min=1,max=10"`
	MaxRetries       int           `mapstructure:"max_retries" validate:"min=0,max=5"`
	RetryDelay       time.Duration `mapstructure:"retry_delay" validate:"min=0,max=1m"`
}

// MessagesConfig holds user-facing fallback texts for degraded paths.
type MessagesConfig struct {
	ChatError    string `mapstructure:"chat_error"    validate:"required"`
	GeneralError string `mapstructure:"general_error" validate:"required"`
}

// SchedulerConfig holds the cron schedules for background tasks, keyed by
// task name as registered in the task registry.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// TaskConfig describes one scheduled task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// LoadConfig loads and validates configuration from:
//  1. Default values
//  2. The YAML file at configPath
//  3. NEWSAGENT_* environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("NEWSAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A missing config file is allowed; defaults and env vars still apply.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", true)

	v.SetDefault("db_path", "conversation_memory.db")
	v.SetDefault("intent_rules_path", "intents.yaml")
	v.SetDefault("context_window", 8)
	v.SetDefault("retention_days", 30)
	v.SetDefault("chat_suffix_probability", 0.1)
	v.SetDefault("db_timeout", 5*time.Second)

	v.SetDefault("search.qdrant_url", "http://localhost:6333")
	v.SetDefault("search.collection", "peopledaily_articles")
	v.SetDefault("search.top_k", 3)
	v.SetDefault("search.score_threshold", 0.0)
	v.SetDefault("search.timeout", 15*time.Second)
	v.SetDefault("search.embed_model", "sentence-transformers/all-MiniLM-L6-v2")

	v.SetDefault("ai.backend", "openai")
	v.SetDefault("ai.base_url", "https://api.sambanova.ai/v1")
	v.SetDefault("ai.model", "Meta-Llama-3.1-405B-Instruct")
	v.SetDefault("ai.temperature", 0.7)
	v.SetDefault("ai.max_tokens", 500)
	v.SetDefault("ai.timeout", 2*time.Minute)
	v.SetDefault("ai.summary_sentences", 2)
	v.SetDefault("ai.max_retries", 2)
	v.SetDefault("ai.retry_delay", 2*time.Second)

	v.SetDefault("messages.chat_error", "Sorry, I'm having trouble responding right now. Please try again in a moment.")
	v.SetDefault("messages.general_error", "An error occurred. Please try again later.")

	v.SetDefault("scheduler.tasks.retention_purge.enabled", true)
	v.SetDefault("scheduler.tasks.retention_purge.schedule", "0 4 * * *")
	v.SetDefault("scheduler.tasks.db_maintenance.enabled", true)
	v.SetDefault("scheduler.tasks.db_maintenance.schedule", "30 4 * * 0")
}

// RetentionAge converts the configured retention days to a duration.
func (c *Config) RetentionAge() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
