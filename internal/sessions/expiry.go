package sessions

import (
	"context"
	"log/slog"
	"time"
)

// DefaultExpiryCheckInterval is how often the expiry sweep runs.
const DefaultExpiryCheckInterval = time.Hour

// RunExpiry periodically marks sessions idle longer than maxIdle as
// expired, until ctx is cancelled. maxIdle <= 0 disables the sweep.
func RunExpiry(ctx context.Context, store Store, maxIdle, interval time.Duration) {
	if maxIdle <= 0 {
		return
	}
	if interval <= 0 {
		interval = DefaultExpiryCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			marked, err := store.ExpireStale(ctx, time.Now().Add(-maxIdle))
			if err != nil {
				slog.Error("session expiry sweep failed", "error", err)
				continue
			}
			if marked > 0 {
				slog.Info("expired idle sessions", "count", marked)
			}
		}
	}
}
