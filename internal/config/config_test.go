package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Database.Path != "./jobradar.db" {
		t.Errorf("db path: got %q", cfg.Database.Path)
	}
	if cfg.Collect.CronSpec != "0 9 * * *" {
		t.Errorf("cron spec: got %q", cfg.Collect.CronSpec)
	}
	if got := cfg.Collect.ParseLockTTL(); got != time.Hour {
		t.Errorf("lock ttl: got %v, want 1h", got)
	}
	if cfg.Scraper.CookieName != "li_at" {
		t.Errorf("cookie name: got %q", cfg.Scraper.CookieName)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port: got %d", cfg.Server.Port)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
database:
  path: /data/radar.db
collect:
  search_url: https://example.com/search
  cron_spec: "30 8 * * 1-5"
  lock_ttl: 45m
scraper:
  kind: feed
  feeds:
    - name: jobs
      url: https://jobs.example.com/rss
server:
  port: 9090
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.Path != "/data/radar.db" {
		t.Errorf("db path: got %q", cfg.Database.Path)
	}
	if cfg.Collect.SearchURL != "https://example.com/search" {
		t.Errorf("search url: got %q", cfg.Collect.SearchURL)
	}
	if got := cfg.Collect.ParseLockTTL(); got != 45*time.Minute {
		t.Errorf("lock ttl: got %v, want 45m", got)
	}
	if cfg.Scraper.Kind != "feed" {
		t.Errorf("scraper kind: got %q", cfg.Scraper.Kind)
	}
	if len(cfg.Scraper.Feeds) != 1 || cfg.Scraper.Feeds[0].URL != "https://jobs.example.com/rss" {
		t.Errorf("feeds: got %+v", cfg.Scraper.Feeds)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port: got %d", cfg.Server.Port)
	}

	// Unset sections keep their defaults.
	if cfg.Analyzer.Model != "gpt-4o-mini" {
		t.Errorf("analyzer model: got %q", cfg.Analyzer.Model)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("JOBRADAR_DB_PATH", "/tmp/env.db")
	t.Setenv("SESSION_COOKIE", "cookie-from-env")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.Path != "/tmp/env.db" {
		t.Errorf("db path: got %q", cfg.Database.Path)
	}
	if cfg.Scraper.SessionCookie != "cookie-from-env" {
		t.Errorf("session cookie: got %q", cfg.Scraper.SessionCookie)
	}
	if cfg.Analyzer.Provider != "anthropic" {
		t.Errorf("provider: got %q, want anthropic", cfg.Analyzer.Provider)
	}
	if cfg.Analyzer.APIKey != "sk-ant-test" {
		t.Errorf("api key not taken from env")
	}
}

func TestParseLockTTLFallback(t *testing.T) {
	c := CollectConfig{LockTTL: "not-a-duration"}
	if got := c.ParseLockTTL(); got != time.Hour {
		t.Errorf("invalid ttl: got %v, want 1h fallback", got)
	}
}
