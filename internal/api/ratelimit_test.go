//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newManualLimiter(limit int, window time.Duration, clock *time.Time) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      func() time.Time { return *clock },
		stop:     make(chan struct{}),
	}
	return rl
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	rl := newManualLimiter(2, time.Minute, &clock)

	assert.True(t, rl.Allow("v1"))
	assert.True(t, rl.Allow("v1"))
	assert.False(t, rl.Allow("v1"))
	assert.True(t, rl.Allow("v2"), "keys are independent")

	clock = clock.Add(61 * time.Second)
	assert.True(t, rl.Allow("v1"))
}

func TestRateLimiterEvict(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	rl := newManualLimiter(5, time.Minute, &clock)

	rl.Allow("old")
	clock = clock.Add(45 * time.Second)
	rl.Allow("recent")
	clock = clock.Add(30 * time.Second)

	rl.evict()
	assert.NotContains(t, rl.requests, "old")
	assert.Contains(t, rl.requests, "recent")
}

func TestRateLimiterStopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	rl.Stop()
	rl.Stop()
}
