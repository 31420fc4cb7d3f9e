package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/ent0n29/resonance/internal/memory"
	"github.com/ent0n29/resonance/internal/signal"
)

// Config contains all runtime settings for the companion service.
type Config struct {
	BindAddr         string        `env:"APP_BIND_ADDR" envDefault:":8080"`
	ShutdownTimeout  time.Duration `env:"APP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	MetricsNamespace string        `env:"APP_METRICS_NAMESPACE" envDefault:"resonance"`
	AllowAnyOrigin   bool          `env:"APP_ALLOW_ANY_ORIGIN" envDefault:"false"`
	LogLevel         string        `env:"APP_LOG_LEVEL" envDefault:"info"`
	LogFormat        string        `env:"APP_LOG_FORMAT" envDefault:"json"`

	SessionInactivityTimeout time.Duration `env:"APP_SESSION_INACTIVITY_TIMEOUT" envDefault:"30m"`

	// StoreURL selects the backend; empty keeps everything in memory.
	StoreURL         string        `env:"STORE_URL"`
	RedisURL         string        `env:"REDIS_URL"`
	StrategyCacheTTL time.Duration `env:"STRATEGY_CACHE_TTL" envDefault:"5m"`
	LexiconPath      string        `env:"LEXICON_PATH"`

	BrainMode              string        `env:"BRAIN_MODE" envDefault:"auto"`
	OpenAIAPIKey           string        `env:"OPENAI_API_KEY"`
	OpenAIModel            string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAIBaseURL          string        `env:"OPENAI_BASE_URL"`
	BrainHTTPURL           string        `env:"BRAIN_HTTP_URL"`
	BrainTimeout           time.Duration `env:"BRAIN_TIMEOUT" envDefault:"30s"`
	BrainTemperature       float64       `env:"BRAIN_TEMPERATURE" envDefault:"0.8"`
	BrainMaxTokens         int           `env:"BRAIN_MAX_TOKENS" envDefault:"500"`
	BrainFallbackMaxTokens int           `env:"BRAIN_FALLBACK_MAX_TOKENS" envDefault:"300"`
	BrainMaxRetries        int           `env:"BRAIN_MAX_RETRIES" envDefault:"2"`

	AIName               string `env:"AI_NAME" envDefault:"Sam"`
	MemoryCandidateLimit int    `env:"MEMORY_CANDIDATE_LIMIT" envDefault:"10"`
	MemoryRecallLimit    int    `env:"MEMORY_RECALL_LIMIT" envDefault:"3"`
	SignalHistoryLimit   int    `env:"SIGNAL_HISTORY_LIMIT" envDefault:"10"`
	MaxMessageRunes      int    `env:"MAX_MESSAGE_RUNES" envDefault:"8000"`
	PendingFlushSchedule string `env:"PENDING_FLUSH_SCHEDULE" envDefault:"* * * * *"`
	ReportSchedule       string `env:"LEARNING_REPORT_SCHEDULE" envDefault:"0 2 * * 0"`
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.StoreURL = strings.TrimSpace(c.StoreURL)
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.LexiconPath = strings.TrimSpace(c.LexiconPath)
	c.BrainMode = strings.ToLower(strings.TrimSpace(c.BrainMode))
	c.OpenAIAPIKey = strings.TrimSpace(c.OpenAIAPIKey)
	c.BrainHTTPURL = strings.TrimSpace(c.BrainHTTPURL)
	c.PendingFlushSchedule = strings.TrimSpace(c.PendingFlushSchedule)
	c.ReportSchedule = strings.TrimSpace(c.ReportSchedule)
}

// Validate checks ranges and names the offending variable.
func (c Config) Validate() error {
	if c.ShutdownTimeout < time.Second {
		return fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be at least 1s")
	}
	if c.SessionInactivityTimeout < time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 1s")
	}
	if c.BrainTimeout < time.Second {
		return fmt.Errorf("BRAIN_TIMEOUT must be at least 1s")
	}
	if c.StrategyCacheTTL < time.Second {
		return fmt.Errorf("STRATEGY_CACHE_TTL must be at least 1s")
	}
	switch c.BrainMode {
	case "auto", "openai", "http", "mock", "none":
	default:
		return fmt.Errorf("BRAIN_MODE must be one of auto, openai, http, mock, none")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("APP_LOG_FORMAT must be json or text")
	}
	if c.BrainTemperature < 0 || c.BrainTemperature > 2 {
		return fmt.Errorf("BRAIN_TEMPERATURE must be within [0, 2]")
	}
	if c.BrainMaxRetries < 0 {
		return fmt.Errorf("BRAIN_MAX_RETRIES must be >= 0")
	}
	for _, lim := range []struct {
		key string
		v   int
	}{
		{"BRAIN_MAX_TOKENS", c.BrainMaxTokens},
		{"BRAIN_FALLBACK_MAX_TOKENS", c.BrainFallbackMaxTokens},
		{"MEMORY_CANDIDATE_LIMIT", c.MemoryCandidateLimit},
		{"MEMORY_RECALL_LIMIT", c.MemoryRecallLimit},
		{"SIGNAL_HISTORY_LIMIT", c.SignalHistoryLimit},
		{"MAX_MESSAGE_RUNES", c.MaxMessageRunes},
	} {
		if lim.v <= 0 {
			return fmt.Errorf("%s must be positive", lim.key)
		}
	}
	if c.MemoryCandidateLimit < memory.DefaultCandidates {
		return fmt.Errorf("MEMORY_CANDIDATE_LIMIT must be >= %d", memory.DefaultCandidates)
	}
	if !signal.ValidSchedule(c.PendingFlushSchedule) {
		return fmt.Errorf("PENDING_FLUSH_SCHEDULE %q is not a valid cron expression", c.PendingFlushSchedule)
	}
	if !signal.ValidSchedule(c.ReportSchedule) {
		return fmt.Errorf("LEARNING_REPORT_SCHEDULE %q is not a valid cron expression", c.ReportSchedule)
	}
	return nil
}
