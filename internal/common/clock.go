package common

import (
	"context"
	"time"
)

// SleepFunc waits for d or until ctx is done. Components that pause between
// upstream calls take one so tests can record delays instead of waiting.
type SleepFunc func(ctx context.Context, d time.Duration) error

// SleepContext blocks for d, returning early with ctx.Err() if ctx is cancelled.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
