// Package scrape defines the contract for extracting raw posts from an
// external page or feed, plus the adapters that implement it.
package scrape

import (
	"context"
	"errors"
)

// ErrSessionExpired signals that the scrape target rejected our credentials.
// Operators should refresh the session cookie instead of retrying.
var ErrSessionExpired = errors.New("session cookie invalid or expired")

// RawPost is one unclassified post as found on the source page.
type RawPost struct {
	Content  string
	URL      string
	Author   string
	PostedAt string // display text as shown on the page, e.g. "3d ago"
}

// Scraper extracts raw posts from a target URL.
type Scraper interface {
	Scrape(ctx context.Context, url string) ([]RawPost, error)
}
