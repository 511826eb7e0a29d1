package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jobsRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Jobs</title>
    <item>
      <title>Backend Engineer at Acme</title>
      <link>https://jobs.example.com/backend-1</link>
      <description>We are hiring a Go engineer.</description>
      <author>jobs@acme.example</author>
      <pubDate>Mon, 31 Aug 2026 09:00:00 GMT</pubDate>
    </item>
    <item>
      <title>No link, no identity</title>
      <description>Skipped entirely.</description>
    </item>
  </channel>
</rss>`

func TestFeedScraperMapsEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(jobsRSS))
	}))
	t.Cleanup(srv.Close)

	s := NewFeedScraper([]Feed{{Name: "jobs", URL: srv.URL}})
	posts, err := s.Scrape(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, posts, 1, "entries without a link are dropped")

	assert.Equal(t, "https://jobs.example.com/backend-1", posts[0].URL)
	assert.Contains(t, posts[0].Content, "Backend Engineer at Acme")
	assert.Contains(t, posts[0].Content, "We are hiring a Go engineer.")
	assert.Equal(t, "2026-08-31T09:00:00Z", posts[0].PostedAt)
}

func TestFeedScraperAdHocTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(jobsRSS))
	}))
	t.Cleanup(srv.Close)

	// Nothing configured; the target passed to Scrape is used directly.
	s := NewFeedScraper(nil)
	posts, err := s.Scrape(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, posts, 1)
}

func TestFeedScraperNoFeeds(t *testing.T) {
	s := NewFeedScraper(nil)
	_, err := s.Scrape(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no feeds configured")
}

func TestFeedScraperPartialFailureStillCollects(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(jobsRSS))
	}))
	t.Cleanup(good.Close)
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(bad.Close)

	s := NewFeedScraper([]Feed{
		{Name: "bad", URL: bad.URL},
		{Name: "good", URL: good.URL},
	})
	posts, err := s.Scrape(context.Background(), "")
	require.NoError(t, err, "one healthy feed keeps the run alive")
	assert.Len(t, posts, 1)
}

func TestFeedScraperAllFeedsFailing(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(bad.Close)

	s := NewFeedScraper([]Feed{{Name: "bad", URL: bad.URL}})
	_, err := s.Scrape(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed bad status 500")
}

func TestFeedScraperUnauthorizedMeansExpiredSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	s := NewFeedScraper([]Feed{{Name: "private", URL: srv.URL}})
	_, err := s.Scrape(context.Background(), "")
	require.ErrorIs(t, err, ErrSessionExpired)
}
