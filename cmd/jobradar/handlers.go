package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jobradar/jobradar/internal/bus"
	"github.com/jobradar/jobradar/internal/collect"
	"github.com/jobradar/jobradar/internal/config"
	"github.com/jobradar/jobradar/internal/scheduler"
	"github.com/jobradar/jobradar/internal/store"
	"github.com/jobradar/jobradar/pkg/analyze"
	"github.com/jobradar/jobradar/pkg/notify"
	"github.com/jobradar/jobradar/pkg/scrape"
	"github.com/jobradar/jobradar/pkg/server"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func buildScraper(cfg *config.Config) scrape.Scraper {
	switch cfg.Scraper.Kind {
	case "feed":
		feeds := make([]scrape.Feed, len(cfg.Scraper.Feeds))
		for i, f := range cfg.Scraper.Feeds {
			feeds[i] = scrape.Feed{Name: f.Name, URL: f.URL}
		}
		return scrape.NewFeedScraper(feeds)
	default:
		return scrape.NewPageScraper(cfg.Scraper.CookieName, cfg.Scraper.SessionCookie)
	}
}

func buildAnalyzer(cfg *config.Config, logger *slog.Logger) analyze.Analyzer {
	logger.Info("analyzer configured",
		slog.String("provider", cfg.Analyzer.Provider),
		slog.String("model", cfg.Analyzer.Model))
	return analyze.NewLLMAnalyzer(
		cfg.Analyzer.Provider,
		cfg.Analyzer.Model,
		cfg.Analyzer.APIKey,
		cfg.Analyzer.BaseURL,
	)
}

func buildNotifier(cfg *config.Config) *notify.Manager {
	var notifiers []notify.Notifier

	if cfg.Notify.Slack.Enabled && cfg.Notify.Slack.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlack(cfg.Notify.Slack.WebhookURL))
	}
	if cfg.Notify.Webhook.Enabled && cfg.Notify.Webhook.URL != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.Notify.Webhook.URL, cfg.Notify.Webhook.Secret))
	}

	return notify.NewManager(notifiers)
}

func runCollect(url, userID, filterID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger()

	if url == "" {
		url = cfg.Collect.SearchURL
	}
	if url == "" {
		return fmt.Errorf("no target url: pass --url or set collect.search_url")
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	ctx := context.Background()

	// The same lock the daemon uses, so a CLI run and a scheduled run
	// never overlap on one database.
	acquired, err := db.Acquire(ctx, store.LockCollection, cfg.Collect.ParseLockTTL())
	if err != nil {
		return fmt.Errorf("acquire collection lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("collection already running")
	}
	defer db.Release(ctx, store.LockCollection)

	collector := collect.New(
		buildScraper(cfg),
		buildAnalyzer(cfg, logger),
		db,
		bus.New(logger), // no live subscribers in one-shot mode
		buildNotifier(cfg),
		logger,
	)
	return collector.Run(ctx, url, userID, filterID)
}

func runOffers(jsonOutput bool, userID, filterID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	posts, err := db.ListOffers(context.Background(), userID, filterID)
	if err != nil {
		return fmt.Errorf("list offers: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(posts)
	}

	if len(posts) == 0 {
		fmt.Println("no offers found (try collecting first: jobradar collect)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TITLE\tCOMPANY\tLOCATION\tSTACK\tSCRAPED")
	for _, p := range posts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			p.Title, p.Company, p.Location, p.MainStack,
			p.ScrapedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runServe(port int) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return serveWith(ctx, port, false)
}

func runDaemon(port int) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return serveWith(ctx, port, true)
}

// serveWith starts the HTTP API, and with scheduled=true the cron trigger
// alongside it.
func serveWith(ctx context.Context, port int, scheduled bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger()

	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	eventBus := bus.New(logger)
	go eventBus.Run(ctx)

	// A lock left over from a previous process still means "running" to
	// new subscribers until it expires or is released.
	if locked, err := db.IsLocked(ctx, store.LockCollection); err == nil && locked {
		eventBus.BroadcastStatus(true)
	}

	collector := collect.New(
		buildScraper(cfg),
		buildAnalyzer(cfg, logger),
		db,
		eventBus,
		buildNotifier(cfg),
		logger,
	)
	runner := collect.NewRunner(collector, db, eventBus, cfg.Collect.ParseLockTTL(), logger)

	if scheduled {
		sched := scheduler.New(runner, cfg.Collect.CronSpec, cfg.Collect.SearchURL, cfg.Collect.RunOnStart, logger)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	srv := server.New(db, runner, eventBus, cfg.Collect.SearchURL, port, logger)
	return srv.ListenAndServe(ctx)
}
