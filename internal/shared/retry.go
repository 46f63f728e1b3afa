package shared

import (
	"context"
	"log/slog"
	"time"

	"github.com/jpillora/backoff"
)

// RetryPolicy bounds retries of SQLite operations that hit lock contention.
type RetryPolicy struct {
	Attempts int
	Min      time.Duration
	Max      time.Duration
}

// DefaultRetryPolicy retries three times starting at 50ms.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Min: 50 * time.Millisecond, Max: 400 * time.Millisecond}

// RetryOnConflict runs op, retrying with exponential backoff while it fails
// with SQLITE_BUSY or "database is locked". Other errors return immediately.
func RetryOnConflict(ctx context.Context, p RetryPolicy, op func() error) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	b := &backoff.Backoff{Min: p.Min, Max: p.Max, Factor: 2}

	var err error
	for i := 0; i < p.Attempts; i++ {
		err = op()
		if err == nil || !IsSQLiteConflictError(err) || i == p.Attempts-1 {
			return err
		}

		delay := b.Duration()
		slog.Debug("SQLite busy, retrying", "attempt", i+1, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return err
		}
	}
	return err
}
