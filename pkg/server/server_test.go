package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobradar/jobradar/internal/bus"
	"github.com/jobradar/jobradar/internal/collect"
	"github.com/jobradar/jobradar/internal/store"
	"github.com/jobradar/jobradar/pkg/analyze"
	"github.com/jobradar/jobradar/pkg/scrape"
)

// gatedScraper blocks until released so a run stays in flight while the test
// pokes at the API.
type gatedScraper struct {
	release chan struct{}
}

func (g *gatedScraper) Scrape(ctx context.Context, url string) ([]scrape.RawPost, error) {
	if g.release != nil {
		<-g.release
	}
	return nil, nil
}

type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(ctx context.Context, content string) (analyze.Analysis, error) {
	return analyze.Analysis{}, nil
}

type testEnv struct {
	srv *httptest.Server
	db  *store.SQLiteStore
	bus *bus.Bus
}

func newTestEnv(t *testing.T, scraper scrape.Scraper, defaultURL string) *testEnv {
	t.Helper()
	db, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eventBus := bus.New(logger)
	collector := collect.New(scraper, stubAnalyzer{}, db, eventBus, nil, logger)
	runner := collect.NewRunner(collector, db, eventBus, time.Hour, logger)

	s := New(db, runner, eventBus, defaultURL, 0, logger)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, db: db, bus: eventBus}
}

func savedOffer(t *testing.T, db *store.SQLiteStore, url, userID string) *store.Post {
	t.Helper()
	post := &store.Post{
		ID:         store.PostID(url),
		Content:    "we are hiring",
		URL:        url,
		ScrapedAt:  time.Now().UTC(),
		IsJobOffer: true,
		Title:      "Backend Engineer",
		Company:    "Acme",
		MainStack:  "Go",
	}
	require.NoError(t, db.SavePost(context.Background(), post, userID, ""))
	return post
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &gatedScraper{}, "")

	resp, err := http.Get(env.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusReflectsRunFlag(t *testing.T) {
	env := newTestEnv(t, &gatedScraper{}, "")

	var status bus.Status
	resp, err := http.Get(env.srv.URL + "/api/status")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.False(t, status.Running)

	env.bus.BroadcastStatus(true)

	resp, err = http.Get(env.srv.URL + "/api/status")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.True(t, status.Running)
}

func TestPostsRequiresIdentity(t *testing.T) {
	env := newTestEnv(t, &gatedScraper{}, "")

	resp, err := http.Get(env.srv.URL + "/api/posts")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPostsScopedToUser(t *testing.T) {
	env := newTestEnv(t, &gatedScraper{}, "")
	savedOffer(t, env.db, "https://example.com/p/1", "alice")

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/api/posts", nil)
	req.Header.Set("X-User-ID", "alice")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data  []store.Post `json:"data"`
		Count int          `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "Backend Engineer", body.Data[0].Title)

	// Identity via query param works too, and bob sees nothing.
	resp2, err := http.Get(env.srv.URL + "/api/posts?user=bob")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&body))
	assert.Equal(t, 0, body.Count)
}

func TestCollectWithoutTargetURL(t *testing.T) {
	env := newTestEnv(t, &gatedScraper{}, "")

	resp, err := http.Post(env.srv.URL+"/api/collect", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCollectAcceptsThenConflicts(t *testing.T) {
	scraper := &gatedScraper{release: make(chan struct{})}
	env := newTestEnv(t, scraper, "https://example.com/search")

	resp, err := http.Post(env.srv.URL+"/api/collect", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	// While the first run holds the lock, a retrigger is refused.
	resp, err = http.Post(env.srv.URL+"/api/collect", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(scraper.release)
}

func TestPushSubscriptionLifecycle(t *testing.T) {
	env := newTestEnv(t, &gatedScraper{}, "")

	body := strings.NewReader(`{"endpoint":"https://push.example.com/ep-1","keys":{"p256dh":"k","auth":"a"}}`)
	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/api/push/subscriptions", body)
	req.Header.Set("X-User-ID", "alice")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	subs, err := env.db.ListPushSubscriptions(context.Background())
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "alice", subs[0].UserID)

	req, _ = http.NewRequest(http.MethodDelete, env.srv.URL+"/api/push/subscriptions?endpoint=https://push.example.com/ep-1", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	subs, err = env.db.ListPushSubscriptions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestPushSubscriptionRequiresEndpoint(t *testing.T) {
	env := newTestEnv(t, &gatedScraper{}, "")

	resp, err := http.Post(env.srv.URL+"/api/push/subscriptions", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubscribeRequiresIdentity(t *testing.T) {
	env := newTestEnv(t, &gatedScraper{}, "")

	resp, err := http.Get(env.srv.URL + "/api/subscribe")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestListenAndServeStopsOnContextCancel(t *testing.T) {
	db, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eventBus := bus.New(logger)
	collector := collect.New(&gatedScraper{}, stubAnalyzer{}, db, eventBus, nil, logger)
	runner := collect.NewRunner(collector, db, eventBus, time.Hour, logger)
	s := New(db, runner, eventBus, "", 18437, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	// Wait for the listener to come up.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://127.0.0.1:18437/health")
		if err == nil {
			resp.Body.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down after context cancel")
	}
}

// readEvents consumes the SSE stream until want event names have been seen or
// the context expires, returning them in arrival order.
func readEvents(t *testing.T, body io.Reader, want int) []string {
	t.Helper()
	var events []string
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			events = append(events, strings.TrimPrefix(line, "event: "))
			if len(events) == want {
				return events
			}
		}
	}
	t.Fatalf("stream ended after %d events, want %d", len(events), want)
	return nil
}

func TestSubscribeReplaysHistoryThenGoesLive(t *testing.T) {
	env := newTestEnv(t, &gatedScraper{}, "")
	savedOffer(t, env.db, "https://example.com/p/1", "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/api/subscribe?user=alice", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Stored offer first, then the live-subscription preamble.
	events := readEvents(t, resp.Body, 3)
	assert.Equal(t, []string{bus.EventJob, bus.EventReady, bus.EventStatus}, events)
}

func TestSubscribeDeliversLiveEvents(t *testing.T) {
	env := newTestEnv(t, &gatedScraper{}, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/api/subscribe?user=alice", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	// Preamble.
	events := readEvents(t, resp.Body, 2)
	require.Equal(t, []string{bus.EventReady, bus.EventStatus}, events)

	// Wait for the bus to register the subscription before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for env.bus.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.NotZero(t, env.bus.SubscriberCount())

	env.bus.PublishToUser("alice", bus.EventJob, map[string]string{"title": "Go Engineer"})

	events = readEvents(t, resp.Body, 1)
	assert.Equal(t, []string{bus.EventJob}, events)
}
