package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Debug       bool   `envconfig:"DEBUG" default:"false"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`

	DatabaseURL         string        `envconfig:"DATABASE_URL" required:"true"`
	DatabaseMaxConns    int32         `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	DatabaseMaxIdleTime time.Duration `envconfig:"DATABASE_MAX_IDLE_TIME" default:"30m"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"kbbot-summaries"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL       string `envconfig:"OPENAI_BASE_URL"`
	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`
	EmbeddingBatchSize  int    `envconfig:"EMBEDDING_BATCH_SIZE" default:"100"`
	ChatModel           string `envconfig:"CHAT_MODEL" default:"gpt-4o-mini"`

	OracleTimeout time.Duration `envconfig:"ORACLE_TIMEOUT" default:"30s"`

	// Retrieval favours recall; the relevance oracle enforces precision.
	RetrievalMinScore   float64 `envconfig:"RETRIEVAL_MIN_SCORE" default:"0.032"`
	RetrievalTopK       int     `envconfig:"RETRIEVAL_TOP_K" default:"5"`
	ConfidenceThreshold float64 `envconfig:"CONFIDENCE_THRESHOLD" default:"0.7"`
	CaveatThreshold     float64 `envconfig:"CAVEAT_THRESHOLD" default:"0.9"`

	DedupMinScore      float64 `envconfig:"DEDUP_MIN_SCORE" default:"0.75"`
	DedupFallbackScore float64 `envconfig:"DEDUP_FALLBACK_SCORE" default:"0.9"`
	MinMessageLength   int     `envconfig:"MIN_MESSAGE_LENGTH" default:"8"`

	SummaryTime        string        `envconfig:"SUMMARY_TIME" default:"18:00"`
	SummaryTolerance   time.Duration `envconfig:"SUMMARY_TOLERANCE" default:"5m"`
	SchedulerPoll      time.Duration `envconfig:"SCHEDULER_POLL" default:"1m"`
	SummaryRunTimeout  time.Duration `envconfig:"SUMMARY_RUN_TIMEOUT" default:"15m"`
	Timezone           string        `envconfig:"TIMEZONE" default:"UTC"`
	NotifyWebhookURL   string        `envconfig:"NOTIFY_WEBHOOK_URL"`
	HistoryIdleTimeout time.Duration `envconfig:"HISTORY_IDLE_TIMEOUT" default:"5m"`

	Reviewers []string          `envconfig:"REVIEWERS"`
	APITokens map[string]string `envconfig:"API_TOKENS"`

	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	CacheSize     int           `envconfig:"CACHE_SIZE" default:"1024"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"1h"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("KBBOT", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if _, _, err := cfg.SummaryClock(); err != nil {
		return nil, err
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasRedis() bool {
	return c.RedisAddr != ""
}

// Location returns the configured timezone, UTC when it cannot be loaded
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SummaryClock parses SUMMARY_TIME as HH:MM
func (c *Config) SummaryClock() (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(c.SummaryTime))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid SUMMARY_TIME %q: expected HH:MM", c.SummaryTime)
	}
	return t.Hour(), t.Minute(), nil
}

// ReviewerSet returns the authorized reviewers keyed by name
func (c *Config) ReviewerSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.Reviewers))
	for _, r := range c.Reviewers {
		r = strings.TrimSpace(r)
		if r != "" {
			set[r] = struct{}{}
		}
	}
	return set
}
