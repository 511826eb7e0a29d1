package collect

import (
	"context"
	"log/slog"
	"time"

	"github.com/jobradar/jobradar/internal/bus"
	"github.com/jobradar/jobradar/internal/store"
)

// Runner coordinates collection runs behind the global run lock. Both the
// HTTP trigger and the scheduler go through TryStart, so lock handling and
// status broadcasting live in exactly one place.
type Runner struct {
	collector *Collector
	lock      store.RunLock
	bus       *bus.Bus
	ttl       time.Duration
	logger    *slog.Logger
}

// NewRunner creates a Runner. ttl bounds how long a crashed run can keep the
// lock; pick it larger than the longest expected run.
func NewRunner(collector *Collector, lock store.RunLock, b *bus.Bus, ttl time.Duration, logger *slog.Logger) *Runner {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Runner{
		collector: collector,
		lock:      lock,
		bus:       b,
		ttl:       ttl,
		logger:    logger,
	}
}

// TryStart attempts to acquire the collection lock and, on success, launches
// the run in the background. It returns false when another run is active;
// callers report that as "try again later" and never retry on their own.
// Whatever the run's outcome, the lock is released and running=false is
// broadcast.
func (r *Runner) TryStart(ctx context.Context, url, userID, filterID string) (bool, error) {
	acquired, err := r.lock.Acquire(ctx, store.LockCollection, r.ttl)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}

	r.bus.BroadcastStatus(true)

	go func() {
		// The run outlives the triggering request, but never the lock.
		runCtx, cancel := context.WithTimeout(context.Background(), r.ttl)
		defer cancel()
		defer func() {
			if err := r.lock.Release(runCtx, store.LockCollection); err != nil {
				r.logger.Error("release collection lock", slog.String("error", err.Error()))
			}
			r.bus.BroadcastStatus(false)
		}()

		if err := r.collector.Run(runCtx, url, userID, filterID); err != nil {
			r.logger.Error("collection run failed", slog.String("error", err.Error()))
		}
	}()

	return true, nil
}

// Running reports whether a collection run currently holds the lock.
func (r *Runner) Running(ctx context.Context) (bool, error) {
	return r.lock.IsLocked(ctx, store.LockCollection)
}
