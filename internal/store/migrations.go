package store

const schema = `
CREATE TABLE IF NOT EXISTS posts (
    id           TEXT PRIMARY KEY,
    content      TEXT NOT NULL DEFAULT '',
    url          TEXT NOT NULL UNIQUE,
    author       TEXT NOT NULL DEFAULT '',
    posted_at    TEXT NOT NULL DEFAULT '',
    scraped_at   DATETIME NOT NULL,
    is_job_offer BOOLEAN NOT NULL DEFAULT 0,
    title        TEXT NOT NULL DEFAULT '',
    company      TEXT NOT NULL DEFAULT '',
    location     TEXT NOT NULL DEFAULT '',
    description  TEXT NOT NULL DEFAULT '',
    tech_stack   TEXT NOT NULL DEFAULT '[]',
    main_stack   TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_posts_scraped_at ON posts(scraped_at);
CREATE INDEX IF NOT EXISTS idx_posts_is_job_offer ON posts(is_job_offer);

CREATE TABLE IF NOT EXISTS user_posts (
    user_id    TEXT NOT NULL,
    post_id    TEXT NOT NULL REFERENCES posts(id),
    filter_id  TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    PRIMARY KEY (user_id, post_id)
);

CREATE INDEX IF NOT EXISTS idx_user_posts_user ON user_posts(user_id);

CREATE TABLE IF NOT EXISTS job_run_locks (
    lock_key   TEXT PRIMARY KEY,
    started_at DATETIME NOT NULL,
    expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS push_subscriptions (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL DEFAULT '',
    endpoint   TEXT NOT NULL UNIQUE,
    keys       TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME NOT NULL
);
`
