package store

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"upbit-trading-bot/config"
	"upbit-trading-bot/internal/portfolio"
)

func TestNewCacheDisabledNeverReportsHealthy(t *testing.T) {
	c := NewCache(config.RedisConfig{Enabled: false}, zerolog.Nop())
	if c.isHealthy() {
		t.Fatalf("expected a disabled cache to never be healthy")
	}
	if _, ok := c.GetLatestSnapshot(context.Background()); ok {
		t.Fatalf("expected cache miss when disabled")
	}
}

func TestDisabledCacheHasNoClientAndIgnoresWrites(t *testing.T) {
	cache := NewCache(config.RedisConfig{Enabled: false}, zerolog.Nop())
	if cache.client != nil {
		t.Fatalf("expected no redis client when disabled")
	}

	// SetLatestSnapshot on a disabled cache must be a no-op, not a panic.
	cache.SetLatestSnapshot(context.Background(), portfolio.Snapshot{TotalKRW: 1000, TakenAt: time.Now()})
}

func TestRecordFailureTripsCircuitBreakerAfterThreshold(t *testing.T) {
	c := &Cache{healthy: true, maxFailures: 3, logger: zerolog.Nop()}
	c.recordFailure()
	c.recordFailure()
	if !c.healthy {
		t.Fatalf("expected cache to remain healthy below the failure threshold")
	}
	c.recordFailure()
	if c.healthy {
		t.Fatalf("expected circuit breaker to open at the failure threshold")
	}

	c.recordSuccess()
	if !c.healthy || c.failureCount != 0 {
		t.Fatalf("expected recordSuccess to reset the breaker")
	}
}
