// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Claude    ClaudeConfig    `mapstructure:"claude"`
	WordPress WordPressConfig `mapstructure:"wordpress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// PipelineConfig governs the supervising loop and job runner.
type PipelineConfig struct {
	TickMs          int     `mapstructure:"tick_ms"`
	PoolSize        int     `mapstructure:"pool_size"`
	ArticlesPerHour int     `mapstructure:"articles_per_hour"`
	ConcurrentJobs  int     `mapstructure:"concurrent_jobs"`
	AutoPublish     bool    `mapstructure:"auto_publish"`
	MinPhotos       int     `mapstructure:"min_photos"`
	InputRate       float64 `mapstructure:"input_rate_usd_per_mtok"`
	OutputRate      float64 `mapstructure:"output_rate_usd_per_mtok"`
}

// ScraperConfig controls the listing collector.
type ScraperConfig struct {
	UserAgent         string  `mapstructure:"user_agent"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// ClaudeConfig holds model API credentials and generation knobs.
type ClaudeConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	BaseURL        string  `mapstructure:"base_url"`
	Model          string  `mapstructure:"model"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxRetries     int     `mapstructure:"max_retries"`
}

// WordPressConfig holds publishing credentials.
type WordPressConfig struct {
	SiteURL        string `mapstructure:"site_url"`
	Username       string `mapstructure:"username"`
	AppPassword    string `mapstructure:"app_password"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AUTOPRESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("pipeline.tick_ms", 500)
	v.SetDefault("pipeline.pool_size", 10)
	v.SetDefault("pipeline.articles_per_hour", 10)
	v.SetDefault("pipeline.concurrent_jobs", 3)
	v.SetDefault("pipeline.auto_publish", false)
	v.SetDefault("pipeline.min_photos", 4)
	v.SetDefault("pipeline.input_rate_usd_per_mtok", 3.0)
	v.SetDefault("pipeline.output_rate_usd_per_mtok", 15.0)
	v.SetDefault("scraper.user_agent", "Mozilla/5.0 (compatible; autopress/1.0)")
	v.SetDefault("scraper.timeout_seconds", 30)
	v.SetDefault("scraper.requests_per_second", 0.5)
	v.SetDefault("claude.model", "claude-haiku-4-5-20251001")
	v.SetDefault("claude.max_tokens", 4000)
	v.SetDefault("claude.temperature", 0.7)
	v.SetDefault("claude.timeout_seconds", 120)
	v.SetDefault("claude.max_retries", 5)
	v.SetDefault("wordpress.timeout_seconds", 30)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.TickMs <= 0 {
		return fmt.Errorf("pipeline.tick_ms must be > 0")
	}
	if c.Pipeline.ArticlesPerHour <= 0 {
		return fmt.Errorf("pipeline.articles_per_hour must be > 0")
	}
	if c.Pipeline.ConcurrentJobs <= 0 {
		return fmt.Errorf("pipeline.concurrent_jobs must be > 0")
	}
	if c.Pipeline.PoolSize < c.Pipeline.ConcurrentJobs {
		return fmt.Errorf("pipeline.pool_size must be >= pipeline.concurrent_jobs")
	}
	if c.Scraper.TimeoutSeconds <= 0 {
		return fmt.Errorf("scraper.timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// Tick returns the supervising loop interval.
func (c Config) Tick() time.Duration {
	return time.Duration(c.Pipeline.TickMs) * time.Millisecond
}
