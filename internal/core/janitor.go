package core

// janitor.go runs periodic cache maintenance. Expired read-cache entries
// are otherwise only dropped lazily on lookup; the janitor sweeps them so a
// dictionary nobody queries anymore does not pin stale result sets in
// memory. The janitor is long-running and context-aware for graceful
// shutdown; sweep failures cannot occur, so it only reports activity.

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often the janitor sweeps the read cache.
const DefaultSweepInterval = 5 * time.Minute

// StartCacheJanitor starts a background goroutine that periodically removes
// expired read-cache entries. It sweeps immediately on start, then every
// interval, and stops when the context is cancelled.
func (s *Service) StartCacheJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	slog.Info("cache janitor started", "interval", interval)

	s.sweepCache()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("cache janitor stopped")
			return
		case <-ticker.C:
			s.sweepCache()
		}
	}
}

func (s *Service) sweepCache() {
	start := time.Now()
	removed := s.cache.Sweep()
	if removed > 0 {
		slog.Debug("swept read cache",
			"entries_removed", removed,
			"entries_left", s.cache.Len(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
