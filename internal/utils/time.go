package utils

import (
	"context"
	"time"
)

func Now() time.Time {
	return time.Now().UTC()
}

// SleepContext waits for d or until ctx is done, whichever comes first.
// It reports whether the full duration elapsed.
func SleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
