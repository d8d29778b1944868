// Package retention evicts finished tasks from stores that do not expire
// records on their own.
package retention

import (
	"context"
	"log/slog"
	"time"
)

type Sweeper interface {
	// Sweep removes terminal tasks finished before cutoff and returns how
	// many it removed.
	Sweep(cutoff time.Time) int
}

func CleanOldTasks(s Sweeper, retention time.Duration, now time.Time, logger *slog.Logger) int {
	cleaned := s.Sweep(now.Add(-retention))
	if cleaned > 0 {
		logger.Info("cleaned up finished tasks", "count", cleaned, "retention", retention)
	}
	return cleaned
}

// Run sweeps once immediately and then every interval until ctx is done.
func Run(ctx context.Context, s Sweeper, interval, retention time.Duration, logger *slog.Logger) {
	CleanOldTasks(s, retention, time.Now(), logger)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			CleanOldTasks(s, retention, now, logger)
		}
	}
}
