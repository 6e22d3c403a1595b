// Package config loads application configuration from file and environment
// and owns global logger initialization.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/prospect-labs/prospector-cli/internal/pipeline"
	"github.com/prospect-labs/prospector-cli/internal/resilience"
	"github.com/prospect-labs/prospector-cli/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Bing       BingConfig       `yaml:"bing" mapstructure:"bing"`
	DuckDuckGo DuckDuckGoConfig `yaml:"duckduckgo" mapstructure:"duckduckgo"`
	ScrapeAPI  ScrapeAPIConfig  `yaml:"scrape_api" mapstructure:"scrape_api"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Pipeline   pipeline.Config  `yaml:"pipeline" mapstructure:"pipeline"`
	Rates      RatesConfig      `yaml:"rates" mapstructure:"rates"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// GoogleConfig holds Custom Search API credentials.
type GoogleConfig struct {
	Key      string `yaml:"key" mapstructure:"key"`
	EngineID string `yaml:"engine_id" mapstructure:"engine_id"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
}

// BingConfig holds Bing Web Search credentials.
type BingConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// DuckDuckGoConfig configures the keyless HTML endpoint.
type DuckDuckGoConfig struct {
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`
}

// ScrapeAPIConfig holds the hosted scraping service settings.
type ScrapeAPIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// SearchConfig caps the aggregator and paces each engine.
type SearchConfig struct {
	MaxPages           int `yaml:"max_pages" mapstructure:"max_pages"`
	EngineRateLimit    int `yaml:"engine_rate_limit" mapstructure:"engine_rate_limit"`
	EngineRateWindowMS int `yaml:"engine_rate_window_ms" mapstructure:"engine_rate_window_ms"`
}

// FetchConfig paces the scrape client and its fallback.
type FetchConfig struct {
	RateLimit      int     `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateWindowMS   int     `yaml:"rate_window_ms" mapstructure:"rate_window_ms"`
	BatchPauseMS   int     `yaml:"batch_pause_ms" mapstructure:"batch_pause_ms"`
	PerURLTimeoutS int     `yaml:"per_url_timeout_secs" mapstructure:"per_url_timeout_secs"`
	FallbackRPS    float64 `yaml:"fallback_rps" mapstructure:"fallback_rps"`
}

// ResilienceConfig tunes the shared breaker and retry policies.
type ResilienceConfig struct {
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	RecoveryTimeoutS int     `yaml:"recovery_timeout_secs" mapstructure:"recovery_timeout_secs"`
	SuccessThreshold int     `yaml:"success_threshold" mapstructure:"success_threshold"`
	MaxRetries       int     `yaml:"max_retries" mapstructure:"max_retries"`
	BaseBackoffMS    int     `yaml:"base_backoff_ms" mapstructure:"base_backoff_ms"`
	MaxBackoffMS     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// Breaker converts the section into a resilience.BreakerConfig.
func (c ResilienceConfig) Breaker() resilience.BreakerConfig {
	return resilience.BreakerConfig{
		FailureThreshold: c.FailureThreshold,
		RecoveryTimeout:  time.Duration(c.RecoveryTimeoutS) * time.Second,
		SuccessThreshold: c.SuccessThreshold,
	}
}

// Retry converts the section into a resilience.RetryConfig.
func (c ResilienceConfig) Retry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxRetries:     c.MaxRetries,
		BaseBackoff:    time.Duration(c.BaseBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(c.MaxBackoffMS) * time.Millisecond,
		JitterFraction: c.JitterFraction,
	}
}

// RatesConfig points at an optional rate card override file.
type RatesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// TemporalConfig configures the enrichment job queue connection.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PROSPECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "prospector.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("google.base_url", "https://www.googleapis.com/customsearch/v1")
	v.SetDefault("bing.base_url", "https://api.bing.microsoft.com/v7.0/search")
	v.SetDefault("duckduckgo.base_url", "https://html.duckduckgo.com/html/")
	v.SetDefault("scrape_api.base_url", "https://api.firecrawl.dev/v2")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("search.max_pages", 5)
	v.SetDefault("search.engine_rate_limit", 30)
	v.SetDefault("search.engine_rate_window_ms", 60000)
	v.SetDefault("fetch.rate_limit", 60)
	v.SetDefault("fetch.rate_window_ms", 60000)
	v.SetDefault("fetch.batch_pause_ms", 500)
	v.SetDefault("fetch.per_url_timeout_secs", 90)
	v.SetDefault("fetch.fallback_rps", 2.0)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.recovery_timeout_secs", 60)
	v.SetDefault("resilience.success_threshold", 2)
	v.SetDefault("resilience.max_retries", 3)
	v.SetDefault("resilience.base_backoff_ms", 1000)
	v.SetDefault("resilience.max_backoff_ms", 30000)
	v.SetDefault("resilience.jitter_fraction", 0.25)
	v.SetDefault("pipeline.preview_pages", 1)
	v.SetDefault("pipeline.preview_fetch_cap", 3)
	v.SetDefault("pipeline.preview_sample_cap", 5)
	v.SetDefault("pipeline.preview_contact_cap", 10)
	v.SetDefault("pipeline.preview_ttl", "15m")
	v.SetDefault("pipeline.full_ttl", "24h")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
