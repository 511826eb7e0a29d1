package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Collect  CollectConfig  `yaml:"collect"`
	Scraper  ScraperConfig  `yaml:"scraper"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
	Notify   NotifyConfig   `yaml:"notify"`
	Server   ServerConfig   `yaml:"server"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CollectConfig configures collection runs and their scheduling.
type CollectConfig struct {
	// SearchURL is the default page scraped when a trigger supplies no URL.
	SearchURL string `yaml:"search_url"`
	// CronSpec is a robfig/cron expression for scheduled runs.
	CronSpec string `yaml:"cron_spec"`
	// RunOnStart triggers one collection immediately when the daemon starts.
	RunOnStart bool `yaml:"run_on_start"`
	// LockTTL bounds how long a crashed run can hold the collection lock.
	LockTTL string `yaml:"lock_ttl"`
}

// ParseLockTTL returns the lock TTL as time.Duration.
func (c CollectConfig) ParseLockTTL() time.Duration {
	d, err := time.ParseDuration(c.LockTTL)
	if err != nil {
		return time.Hour
	}
	return d
}

// ScraperConfig selects and configures the post scraper.
type ScraperConfig struct {
	// Kind is "page" (cookie-authenticated HTML scrape) or "feed" (RSS/Atom).
	Kind          string     `yaml:"kind"`
	SessionCookie string     `yaml:"session_cookie"`
	CookieName    string     `yaml:"cookie_name"`
	Feeds         []FeedItem `yaml:"feeds"`
}

// FeedItem is a single RSS/Atom feed entry.
type FeedItem struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// AnalyzerConfig configures the LLM job-offer classifier.
type AnalyzerConfig struct {
	Provider string `yaml:"provider"` // "openai" or "anthropic"
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"` // custom endpoint (optional)
}

// NotifyConfig configures fire-and-forget offer notifications.
type NotifyConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook notifications.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook notifications.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./jobradar.db"},
		Collect: CollectConfig{
			CronSpec: "0 9 * * *",
			LockTTL:  "1h",
		},
		Scraper: ScraperConfig{
			Kind:       "page",
			CookieName: "li_at",
		},
		Analyzer: AnalyzerConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Notify: NotifyConfig{},
		Server: ServerConfig{Port: 8080},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("JOBRADAR_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("JOBRADAR_SEARCH_URL"); v != "" {
		cfg.Collect.SearchURL = v
	}
	if v := os.Getenv("SESSION_COOKIE"); v != "" {
		cfg.Scraper.SessionCookie = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Notify.Slack.WebhookURL = v
		cfg.Notify.Slack.Enabled = true
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Analyzer.APIKey = v
		cfg.Analyzer.Provider = "openai"
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Analyzer.APIKey = v
		cfg.Analyzer.Provider = "anthropic"
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.Analyzer.BaseURL = v
	}
}
