package conversation

import (
	"context"
	"log/slog"
	"time"
)

// MirrorRetention is how long a conversation mirror outlives its last update.
const MirrorRetention = 7 * 24 * time.Hour

// StartTTLWorker runs a background goroutine that periodically evicts idle
// sessions from memory and prunes old conversation mirrors.
func StartTTLWorker(ctx context.Context, m *Manager, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepExpiredSessions(ctx, m, ttl)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepExpiredSessions(ctx context.Context, m *Manager, ttl time.Duration) {
	if evicted := m.EvictIdle(ttl); evicted > 0 {
		slog.Info("TTL worker evicted idle sessions", "count", evicted, "remaining", m.Len())
	}

	if m.store == nil {
		return
	}
	if deleted, err := m.store.CleanupExpiredConversations(ctx, MirrorRetention); err != nil {
		slog.Error("TTL worker failed to prune conversation mirrors", "error", err)
	} else if deleted > 0 {
		slog.Info("TTL worker pruned conversation mirrors", "count", deleted)
	}
}
