package store

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Post is one classified unit of scraped content. Its identity is derived
// from the source URL, so re-scraping the same page yields the same row.
type Post struct {
	ID          string    `db:"id" json:"id"`
	Content     string    `db:"content" json:"content"`
	URL         string    `db:"url" json:"url"`
	Author      string    `db:"author" json:"authorName,omitempty"`
	PostedAt    string    `db:"posted_at" json:"postedAt,omitempty"`
	ScrapedAt   time.Time `db:"scraped_at" json:"scrapedAt"`
	IsJobOffer  bool      `db:"is_job_offer" json:"isJobOffer"`
	Title       string    `db:"title" json:"title,omitempty"`
	Company     string    `db:"company" json:"company,omitempty"`
	Location    string    `db:"location" json:"location,omitempty"`
	Description string    `db:"description" json:"description,omitempty"`

	TechStack     []string `json:"techStack,omitempty" db:"-"`
	TechStackJSON string   `json:"-" db:"tech_stack"`

	MainStack string `db:"main_stack" json:"mainStack,omitempty"`
}

// PushSubscription is a stored browser push registration. Delivery is handled
// elsewhere; this table only records endpoints so they survive restarts.
type PushSubscription struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"userId,omitempty"`
	Endpoint  string    `db:"endpoint" json:"endpoint"`
	KeysJSON  string    `db:"keys" json:"keys"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// PostID derives the stable post identity from its source URL.
func PostID(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}

// Store is the persistence interface for posts and their per-user visibility.
type Store interface {
	// SavePost upserts the post and, when userID is non-empty, the
	// (user, post) association. Safe to call repeatedly with the same
	// arguments: the post row is written once and never reclassified,
	// the association is replaced.
	SavePost(ctx context.Context, post *Post, userID, filterID string) error
	// GetPostByURL returns the stored post for url, or nil when unseen.
	GetPostByURL(ctx context.Context, url string) (*Post, error)
	// ExistsForUser reports whether userID already has an association with
	// a post of this URL.
	ExistsForUser(ctx context.Context, url, userID string) (bool, error)
	// ListOffers returns stored job offers newest-first. With a userID only
	// that user's associated offers are returned, optionally narrowed to
	// one filter. Non-offers are never returned.
	ListOffers(ctx context.Context, userID, filterID string) ([]Post, error)

	SavePushSubscription(ctx context.Context, sub *PushSubscription) error
	DeletePushSubscription(ctx context.Context, endpoint string) error
	ListPushSubscriptions(ctx context.Context) ([]PushSubscription, error)

	Close() error
}

// SQLiteStore implements Store and RunLock on a single SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations. Transactions start as
// immediate writers so concurrent lock acquisition queues on busy_timeout
// instead of failing with SQLITE_BUSY.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SavePost(ctx context.Context, post *Post, userID, filterID string) error {
	techJSON, _ := json.Marshal(post.TechStack)
	if post.TechStack == nil {
		techJSON = []byte("[]")
	}

	// Classification is immutable: a second sighting of the same URL keeps
	// the stored record untouched.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO posts (id, content, url, author, posted_at, scraped_at, is_job_offer, title, company, location, description, tech_stack, main_stack)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, post.ID, post.Content, post.URL, post.Author, post.PostedAt,
		post.ScrapedAt, post.IsJobOffer, post.Title, post.Company,
		post.Location, post.Description, string(techJSON), post.MainStack)
	if err != nil {
		return fmt.Errorf("upsert post %s: %w", post.ID, err)
	}

	if userID == "" {
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_posts (user_id, post_id, filter_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, post_id) DO UPDATE SET
			filter_id = excluded.filter_id,
			created_at = excluded.created_at
	`, userID, post.ID, filterID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert association %s/%s: %w", userID, post.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetPostByURL(ctx context.Context, url string) (*Post, error) {
	var posts []Post
	if err := s.db.SelectContext(ctx, &posts, "SELECT * FROM posts WHERE url = ? LIMIT 1", url); err != nil {
		return nil, fmt.Errorf("get post by url %s: %w", url, err)
	}
	if len(posts) == 0 {
		return nil, nil
	}
	post := posts[0]
	if err := json.Unmarshal([]byte(post.TechStackJSON), &post.TechStack); err != nil {
		return nil, fmt.Errorf("decode tech stack %s: %w", post.ID, err)
	}
	return &post, nil
}

func (s *SQLiteStore) ExistsForUser(ctx context.Context, url, userID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(1) FROM posts p
		JOIN user_posts up ON p.id = up.post_id
		WHERE p.url = ? AND up.user_id = ?
	`, url, userID)
	if err != nil {
		return false, fmt.Errorf("exists for user %s: %w", userID, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListOffers(ctx context.Context, userID, filterID string) ([]Post, error) {
	query := "SELECT * FROM posts WHERE is_job_offer = 1"
	var args []any

	if userID != "" {
		query = `
			SELECT p.* FROM posts p
			JOIN user_posts up ON p.id = up.post_id
			WHERE p.is_job_offer = 1 AND up.user_id = ?
		`
		args = append(args, userID)

		if filterID != "" {
			query += " AND up.filter_id = ?"
			args = append(args, filterID)
		}
	}

	query += " ORDER BY scraped_at DESC"

	var posts []Post
	if err := s.db.SelectContext(ctx, &posts, query, args...); err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}

	for i := range posts {
		if err := json.Unmarshal([]byte(posts[i].TechStackJSON), &posts[i].TechStack); err != nil {
			return nil, fmt.Errorf("decode tech stack %s: %w", posts[i].ID, err)
		}
	}
	return posts, nil
}

func (s *SQLiteStore) SavePushSubscription(ctx context.Context, sub *PushSubscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (id, user_id, endpoint, keys, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET user_id = excluded.user_id
	`, sub.ID, sub.UserID, sub.Endpoint, sub.KeysJSON, sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert push subscription %s: %w", sub.Endpoint, err)
	}
	return nil
}

func (s *SQLiteStore) DeletePushSubscription(ctx context.Context, endpoint string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM push_subscriptions WHERE endpoint = ?", endpoint)
	if err != nil {
		return fmt.Errorf("delete push subscription %s: %w", endpoint, err)
	}
	return nil
}

func (s *SQLiteStore) ListPushSubscriptions(ctx context.Context) ([]PushSubscription, error) {
	var subs []PushSubscription
	if err := s.db.SelectContext(ctx, &subs, "SELECT * FROM push_subscriptions ORDER BY created_at"); err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	return subs, nil
}
