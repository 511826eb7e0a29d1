package store

import (
	"context"
	"fmt"
	"time"
)

// LockCollection is the well-known name serializing global collection runs.
const LockCollection = "collection:global"

// RunLock is a named mutual-exclusion resource with expiry-based
// auto-release. It serializes work within one coordinating store, not across
// processes sharing nothing.
type RunLock interface {
	// Acquire attempts to take the lock in a single shot. It returns true
	// iff no live lock row existed. The TTL self-heals locks left behind by
	// a crashed run, so pick it comfortably larger than the longest run.
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	// Release drops the lock unconditionally. No-op when not held.
	Release(ctx context.Context, name string) error
	// IsLocked reports whether a live (non-expired) lock row remains.
	IsLocked(ctx context.Context, name string) (bool, error)
}

func (s *SQLiteStore) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin lock tx: %w", err)
	}
	defer tx.Rollback()

	// Lazy expiry cleanup, then insert-if-absent. Both inside one
	// transaction so concurrent acquirers race on the insert alone.
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM job_run_locks WHERE lock_key = ? AND expires_at <= ?", name, now); err != nil {
		return false, fmt.Errorf("purge expired lock %s: %w", name, err)
	}

	res, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO job_run_locks (lock_key, started_at, expires_at) VALUES (?, ?, ?)",
		name, now, now.Add(ttl))
	if err != nil {
		return false, fmt.Errorf("insert lock %s: %w", name, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("lock rows affected %s: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit lock tx %s: %w", name, err)
	}
	return rows == 1, nil
}

func (s *SQLiteStore) Release(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM job_run_locks WHERE lock_key = ?", name); err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) IsLocked(ctx context.Context, name string) (bool, error) {
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM job_run_locks WHERE lock_key = ? AND expires_at <= ?", name, now); err != nil {
		return false, fmt.Errorf("purge expired lock %s: %w", name, err)
	}

	var n int
	if err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(1) FROM job_run_locks WHERE lock_key = ?", name); err != nil {
		return false, fmt.Errorf("probe lock %s: %w", name, err)
	}
	return n > 0, nil
}
