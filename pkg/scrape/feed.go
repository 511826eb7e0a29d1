package scrape

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// Feed is a named RSS/Atom feed URL.
type Feed struct {
	Name string
	URL  string
}

// FeedScraper collects posts from RSS/Atom job feeds. The target URL passed
// to Scrape is appended to the configured feed list, so a manual trigger can
// point at an ad-hoc feed.
type FeedScraper struct {
	client *http.Client
	parser *gofeed.Parser
	feeds  []Feed
}

// NewFeedScraper creates a feed-based scraper.
func NewFeedScraper(feeds []Feed) *FeedScraper {
	return &FeedScraper{
		client: &http.Client{Timeout: 30 * time.Second},
		parser: gofeed.NewParser(),
		feeds:  feeds,
	}
}

func (f *FeedScraper) Scrape(ctx context.Context, target string) ([]RawPost, error) {
	feeds := f.feeds
	if target != "" && !f.hasFeed(target) {
		feeds = append(append([]Feed{}, feeds...), Feed{Name: "adhoc", URL: target})
	}
	if len(feeds) == 0 {
		return nil, fmt.Errorf("no feeds configured")
	}

	var posts []RawPost
	var firstErr error
	fetched := 0

	for _, feed := range feeds {
		items, err := f.scrapeFeed(ctx, feed)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		fetched++
		posts = append(posts, items...)
	}

	// The run only fails when nothing could be fetched at all.
	if fetched == 0 && firstErr != nil {
		return nil, firstErr
	}
	return posts, nil
}

func (f *FeedScraper) scrapeFeed(ctx context.Context, feed Feed) ([]RawPost, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request %s: %w", feed.Name, err)
	}
	req.Header.Set("User-Agent", "jobradar/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", feed.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrSessionExpired
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s status %d", feed.Name, resp.StatusCode)
	}

	parsed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feed.Name, err)
	}

	var posts []RawPost
	for _, entry := range parsed.Items {
		if entry.Link == "" {
			continue
		}

		content := entry.Title
		if desc := strings.TrimSpace(entry.Description); desc != "" {
			content += "\n\n" + desc
		}

		postedAt := ""
		if entry.PublishedParsed != nil {
			postedAt = entry.PublishedParsed.UTC().Format(time.RFC3339)
		}

		author := ""
		if entry.Author != nil {
			author = entry.Author.Name
		}

		posts = append(posts, RawPost{
			Content:  content,
			URL:      entry.Link,
			Author:   author,
			PostedAt: postedAt,
		})
	}
	return posts, nil
}

func (f *FeedScraper) hasFeed(url string) bool {
	for _, feed := range f.feeds {
		if feed.URL == url {
			return true
		}
	}
	return false
}
