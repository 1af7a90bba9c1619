package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Environment
	Env string // "development", "production", etc.

	// Server
	ServerAddr string

	// Database
	DatabaseURL string
	SeedDevData bool // Insert a demo location with a few concepts on startup

	// Redis-backed rate limiter storage; in-memory when empty
	RedisURL       string
	RateLimitMax   int
	RateLimitEvery time.Duration

	// Batch trigger auth. With OIDCIssuer set, bearer tokens are verified as
	// OIDC ID tokens for OIDCAudience; otherwise CronSecret is compared.
	OIDCIssuer   string
	OIDCAudience string
	CronSecret   string

	// LLM gateway (OpenAI-compatible chat completions)
	LLMBaseURL     string
	LLMAPIKey      string
	LLMModel       string
	LLMTimeout     time.Duration
	LLMMaxRetries  int
	LLMTokenURL    string // Enables OAuth2 client credentials when set
	LLMClientID    string
	LLMSecret      string
	LLMScopes      []string
	LLMTemperature float64

	// Normalizer
	CandidateLimit  int
	ClassifyTimeout time.Duration

	// Scheduler
	SchedulerInterval   time.Duration // Zero disables the in-process scheduler
	SchedulerBudget     time.Duration
	SchedulerPageSize   int
	SchedulerMaxPages   int
	SchedulerWorkers    int
	ExcludedLocationIDs []string

	// Topics
	TopicWindowDays   int
	TopicSampleSize   int
	TopicMinSize      int
	TopicEnrichWorker int

	// Config file with per-location and tuning overrides
	ConfigFile string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	p := &parser{}
	cfg := &Config{
		Env:         getEnv("ENV", "development"),
		ServerAddr:  getEnv("SERVER_ADDR", ":3000"),
		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/conceptnorm?sslmode=disable"),
		SeedDevData: getEnv("SEED_DEV_DATA", "") != "",

		RedisURL:       getEnv("REDIS_URL", ""),
		RateLimitMax:   p.int("RATE_LIMIT_MAX", 60),
		RateLimitEvery: p.duration("RATE_LIMIT_WINDOW", time.Minute),

		OIDCIssuer:   getEnv("OIDC_ISSUER", ""),
		OIDCAudience: getEnv("OIDC_AUDIENCE", ""),
		CronSecret:   getEnv("CRON_SECRET", ""),

		LLMBaseURL:     getEnv("LLM_BASE_URL", "https://api.openai.com"),
		LLMAPIKey:      getEnv("LLM_API_KEY", ""),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMTimeout:     p.duration("LLM_TIMEOUT", 30*time.Second),
		LLMMaxRetries:  p.int("LLM_MAX_RETRIES", 2),
		LLMTokenURL:    getEnv("LLM_TOKEN_URL", ""),
		LLMClientID:    getEnv("LLM_CLIENT_ID", ""),
		LLMSecret:      getEnv("LLM_CLIENT_SECRET", ""),
		LLMScopes:      splitList(getEnv("LLM_SCOPES", "")),
		LLMTemperature: p.float("LLM_TEMPERATURE", 0),

		CandidateLimit:  p.int("CANDIDATE_LIMIT", 60),
		ClassifyTimeout: p.duration("CLASSIFY_TIMEOUT", 30*time.Second),

		SchedulerInterval:   p.duration("SCHEDULER_INTERVAL", 0),
		SchedulerBudget:     p.duration("SCHEDULER_BUDGET", 55*time.Second),
		SchedulerPageSize:   p.int("SCHEDULER_PAGE_SIZE", 50),
		SchedulerMaxPages:   p.int("SCHEDULER_MAX_PAGES", 50),
		SchedulerWorkers:    p.int("SCHEDULER_WORKERS", 1),
		ExcludedLocationIDs: splitList(getEnv("EXCLUDED_LOCATIONS", "")),

		TopicWindowDays:   p.int("TOPIC_WINDOW_DAYS", 30),
		TopicSampleSize:   p.int("TOPIC_SAMPLE_SIZE", 200),
		TopicMinSize:      p.int("TOPIC_MIN_SIZE", 3),
		TopicEnrichWorker: p.int("TOPIC_ENRICH_WORKERS", 4),

		ConfigFile: getEnv("CONFIG_FILE", "config.yaml"),
	}
	if p.err != nil {
		return nil, p.err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// parser keeps the first conversion error so Load can report it once.
type parser struct {
	err error
}

func (p *parser) fail(key, value string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s=%q: %w", key, value, err)
	}
}

func (p *parser) int(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, raw, err)
		return fallback
	}
	return n
}

func (p *parser) float(key string, fallback float64) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, raw, err)
		return fallback
	}
	return f
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, raw, err)
		return fallback
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// IsDev returns true if the environment is set to development.
func (c *Config) IsDev() bool {
	return c.Env == "development" || c.Env == "dev"
}

// LLMConfigured reports whether an LLM gateway can be built.
func (c *Config) LLMConfigured() bool {
	return c.LLMAPIKey != "" || c.LLMTokenURL != ""
}

// ApplyYAML overlays tuning values from the config file. Unset fields keep
// their environment values.
func (c *Config) ApplyYAML(y *YAMLConfig) {
	if y == nil {
		return
	}
	overlay := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}
	overlay(&c.CandidateLimit, y.Normalizer.CandidateLimit)
	overlay(&c.SchedulerPageSize, y.Scheduler.PageSize)
	overlay(&c.SchedulerMaxPages, y.Scheduler.MaxPagesPerLocation)
	overlay(&c.SchedulerWorkers, y.Scheduler.Workers)
	overlay(&c.TopicWindowDays, y.Topics.WindowDays)
	overlay(&c.TopicSampleSize, y.Topics.SampleSize)
	overlay(&c.TopicMinSize, y.Topics.MinTopicSize)
	overlay(&c.TopicEnrichWorker, y.Topics.EnrichWorkers)
	if y.Normalizer.ClassifyTimeout > 0 {
		c.ClassifyTimeout = y.Normalizer.ClassifyTimeout
	}
	if y.Scheduler.Budget > 0 {
		c.SchedulerBudget = y.Scheduler.Budget
	}
	c.ExcludedLocationIDs = append(c.ExcludedLocationIDs, y.ExcludedLocationIDs()...)
}
