// Package collect drives one collection run: scrape, dedup, classify,
// persist, publish.
package collect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jobradar/jobradar/internal/bus"
	"github.com/jobradar/jobradar/internal/store"
	"github.com/jobradar/jobradar/pkg/analyze"
	"github.com/jobradar/jobradar/pkg/notify"
	"github.com/jobradar/jobradar/pkg/scrape"
)

// PostStore is the slice of the store the collector mutates and queries.
// All post/association writes go through SavePost; the collector never
// touches rows directly.
type PostStore interface {
	SavePost(ctx context.Context, post *store.Post, userID, filterID string) error
	GetPostByURL(ctx context.Context, url string) (*store.Post, error)
	ExistsForUser(ctx context.Context, url, userID string) (bool, error)
}

// Publisher pushes accepted offers to a user's live subscriptions.
type Publisher interface {
	PublishToUser(userID, event string, payload any)
}

// Collector is the ingestion orchestrator. It holds no run state of its own;
// the trigger layer owns the run lock and status broadcasts around Run.
type Collector struct {
	scraper   scrape.Scraper
	analyzer  analyze.Analyzer
	store     PostStore
	publisher Publisher
	notifier  *notify.Manager
	logger    *slog.Logger
}

// New creates a Collector. notifier may be nil.
func New(scraper scrape.Scraper, analyzer analyze.Analyzer, s PostStore, publisher Publisher, notifier *notify.Manager, logger *slog.Logger) *Collector {
	return &Collector{
		scraper:   scraper,
		analyzer:  analyzer,
		store:     s,
		publisher: publisher,
		notifier:  notifier,
		logger:    logger,
	}
}

// Run executes one collection for the given target URL. userID may be empty
// for scheduler-triggered runs: posts are then recorded globally with no
// association. Posts are processed in arrival order. A scraper or store
// failure aborts the run; a classifier failure only skips its item.
func (c *Collector) Run(ctx context.Context, url, userID, filterID string) error {
	log := c.logger.With(slog.String("user_id", userID))
	log.Info("collection started", slog.String("url", url))

	rawPosts, err := c.scraper.Scrape(ctx, url)
	if err != nil {
		if errors.Is(err, scrape.ErrSessionExpired) {
			// Surfaced verbatim so operators refresh credentials
			// instead of retrying blindly.
			return err
		}
		return fmt.Errorf("scrape %s: %w", url, err)
	}
	log.Info("scrape finished", slog.Int("posts", len(rawPosts)))

	var saved, adopted, skipped, rejected int
	for _, raw := range rawPosts {
		outcome, err := c.processPost(ctx, raw, userID, filterID)
		if err != nil {
			return err
		}
		switch outcome {
		case outcomeSaved:
			saved++
		case outcomeAdopted:
			adopted++
		case outcomeSkipped:
			skipped++
		case outcomeRejected:
			rejected++
		}
	}

	log.Info("collection finished",
		slog.Int("saved", saved),
		slog.Int("adopted", adopted),
		slog.Int("skipped", skipped),
		slog.Int("rejected", rejected))
	return nil
}

type outcome int

const (
	outcomeSaved outcome = iota
	outcomeAdopted
	outcomeSkipped
	outcomeRejected
)

func (c *Collector) processPost(ctx context.Context, raw scrape.RawPost, userID, filterID string) (outcome, error) {
	if userID != "" {
		seen, err := c.store.ExistsForUser(ctx, raw.URL, userID)
		if err != nil {
			return outcomeSkipped, err
		}
		if seen {
			// Already visible to this user: no classification, no publish.
			return outcomeSkipped, nil
		}
	}

	existing, err := c.store.GetPostByURL(ctx, raw.URL)
	if err != nil {
		return outcomeSkipped, err
	}
	if existing != nil {
		return c.adoptExisting(ctx, existing, userID, filterID)
	}

	analysis, err := c.analyzer.Analyze(ctx, raw.Content)
	if err != nil {
		// Fail open on a single item: a flaky classifier must not
		// abort the run.
		c.logger.Warn("analysis failed, treating as non-offer",
			slog.String("url", raw.URL), slog.String("error", err.Error()))
		return outcomeRejected, nil
	}
	if !analysis.IsJobOffer {
		return outcomeRejected, nil
	}

	post := &store.Post{
		ID:          store.PostID(raw.URL),
		Content:     raw.Content,
		URL:         raw.URL,
		Author:      raw.Author,
		PostedAt:    raw.PostedAt,
		ScrapedAt:   time.Now().UTC(),
		IsJobOffer:  true,
		Title:       analysis.Title,
		Company:     analysis.Company,
		Location:    analysis.Location,
		Description: analysis.Description,
		TechStack:   analysis.TechStack,
		MainStack:   analysis.MainStack,
	}

	if err := c.store.SavePost(ctx, post, userID, filterID); err != nil {
		return outcomeSaved, fmt.Errorf("save offer %s: %w", post.ID, err)
	}

	if userID != "" {
		c.publisher.PublishToUser(userID, bus.EventJob, post)
	}
	c.notifyOffer(ctx, post)

	c.logger.Info("job offer saved",
		slog.String("title", post.Title),
		slog.String("company", post.Company))
	return outcomeSaved, nil
}

// adoptExisting lets a user pick up a post classified by a prior run without
// re-paying the classification cost. Anonymous runs have nothing to do here.
func (c *Collector) adoptExisting(ctx context.Context, existing *store.Post, userID, filterID string) (outcome, error) {
	if userID == "" {
		return outcomeSkipped, nil
	}

	if err := c.store.SavePost(ctx, existing, userID, filterID); err != nil {
		return outcomeAdopted, fmt.Errorf("adopt post %s: %w", existing.ID, err)
	}
	if existing.IsJobOffer {
		c.publisher.PublishToUser(userID, bus.EventJob, existing)
	}
	return outcomeAdopted, nil
}

// notifyOffer fans the offer out to the configured notification sinks.
// Delivery failures are logged and swallowed.
func (c *Collector) notifyOffer(ctx context.Context, post *store.Post) {
	if c.notifier == nil || !c.notifier.HasNotifiers() {
		return
	}

	n := &notify.Notification{
		Title:     "New job: " + post.Title,
		Body:      post.Description,
		URL:       post.URL,
		Company:   post.Company,
		Location:  post.Location,
		MainStack: post.MainStack,
		TechStack: post.TechStack,
	}
	if err := c.notifier.Broadcast(ctx, n); err != nil {
		c.logger.Warn("offer notification failed", slog.String("error", err.Error()))
	}
}
