package scrape

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Post card selectors on the target feed page. Older page revisions use the
// feed-shared-* class names, so both generations are tried.
const (
	selPostCard  = ".feed-shared-update-v2"
	selContent   = ".update-components-text, .feed-shared-update-v2__commentary, .feed-shared-text"
	selAuthor    = ".update-components-actor__title, .feed-shared-actor__title"
	selPostedAt  = ".update-components-actor__sub-description, .feed-shared-actor__sub-description"
	selPermalink = "a[data-permalink], a.app-aware-link[href*='/feed/update/']"
)

// PageScraper fetches the target page with a session cookie and extracts
// post cards from the HTML.
type PageScraper struct {
	client     *http.Client
	cookieName string
	cookie     string
}

// NewPageScraper creates a scraper authenticated by a session cookie.
func NewPageScraper(cookieName, cookie string) *PageScraper {
	if cookieName == "" {
		cookieName = "li_at"
	}
	return &PageScraper{
		client: &http.Client{
			Timeout: 60 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// An expired session bounces through login/checkpoint
				// pages, sometimes endlessly.
				if isAuthRedirect(req.URL) {
					return ErrSessionExpired
				}
				if len(via) >= 10 {
					return ErrSessionExpired
				}
				return nil
			},
		},
		cookieName: cookieName,
		cookie:     cookie,
	}
}

func (p *PageScraper) Scrape(ctx context.Context, target string) ([]RawPost, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create scrape request: %w", err)
	}
	req.AddCookie(&http.Cookie{Name: p.cookieName, Value: p.cookie})
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	resp, err := p.client.Do(req)
	if err != nil {
		if strings.Contains(err.Error(), ErrSessionExpired.Error()) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrSessionExpired
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", target, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", target, err)
	}

	if isLoginPage(doc) {
		return nil, ErrSessionExpired
	}

	var posts []RawPost
	doc.Find(selPostCard).Each(func(_ int, card *goquery.Selection) {
		content := strings.TrimSpace(card.Find(selContent).First().Text())
		if content == "" {
			return
		}

		postURL := cardURL(card)
		if postURL == "" {
			// Without a stable URL there is no dedup identity.
			return
		}

		posts = append(posts, RawPost{
			Content:  content,
			URL:      postURL,
			Author:   strings.TrimSpace(card.Find(selAuthor).First().Text()),
			PostedAt: firstLine(card.Find(selPostedAt).First().Text()),
		})
	})

	return posts, nil
}

// cardURL resolves the post permalink, falling back to the activity URN when
// the card carries one.
func cardURL(card *goquery.Selection) string {
	if href, ok := card.Find(selPermalink).First().Attr("href"); ok {
		return strings.TrimSpace(href)
	}
	if urn, ok := card.Attr("data-urn"); ok && urn != "" {
		return "https://www.linkedin.com/feed/update/" + urn + "/"
	}
	return ""
}

func isAuthRedirect(u *url.URL) bool {
	path := strings.ToLower(u.Path)
	return strings.Contains(path, "login") || strings.Contains(path, "checkpoint")
}

func isLoginPage(doc *goquery.Document) bool {
	return doc.Find("form.login__form, input[name='session_key']").Length() > 0
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
