package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"upbit-trading-bot/config"
	"upbit-trading-bot/internal/portfolio"
)

const latestSnapshotKey = "portfolio:snapshot:latest"

// Cache is a read-through wrapper over Repository's latest-snapshot lookup,
// backed by Redis. Falls back to the database - and trips a circuit breaker
// after repeated failures - when Redis is unavailable, rather than failing
// the caller outright.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
}

// NewCache connects to Redis per cfg. Returns a disabled Cache (every lookup
// falls through to the database) when cfg.Enabled is false.
func NewCache(cfg config.RedisConfig, logger zerolog.Logger) *Cache {
	c := &Cache{
		ttl:           time.Duration(cfg.TTLSecs) * time.Second,
		logger:        logger.With().Str("component", "snapshot_cache").Logger(),
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}
	if c.ttl <= 0 {
		c.ttl = 30 * time.Second
	}
	if !cfg.Enabled {
		return c
	}

	c.client = redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.client.Ping(ctx).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("initial redis connection failed, starting in degraded mode")
		return c
	}

	c.healthy = true
	c.lastCheck = time.Now()
	return c
}

func (c *Cache) isHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil && c.healthy
}

func (c *Cache) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount++
	if c.failureCount >= c.maxFailures && c.healthy {
		c.logger.Warn().Int("failures", c.failureCount).Msg("snapshot cache circuit breaker open")
		c.healthy = false
	}
}

func (c *Cache) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.healthy {
		c.logger.Info().Msg("snapshot cache circuit breaker closed")
	}
	c.healthy = true
	c.failureCount = 0
	c.lastCheck = time.Now()
}

func (c *Cache) checkHealth(ctx context.Context) {
	c.mu.RLock()
	shouldCheck := c.client != nil && !c.healthy && time.Since(c.lastCheck) >= c.checkInterval
	c.mu.RUnlock()
	if !shouldCheck {
		return
	}
	go func() {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.client.Ping(pingCtx).Err(); err == nil {
			c.recordSuccess()
		}
	}()
}

// GetLatestSnapshot returns the cached snapshot if present and the cache is
// healthy, or false if it must be loaded from the database.
func (c *Cache) GetLatestSnapshot(ctx context.Context) (portfolio.Snapshot, bool) {
	if !c.isHealthy() {
		c.checkHealth(ctx)
		return portfolio.Snapshot{}, false
	}

	raw, err := c.client.Get(ctx, latestSnapshotKey).Result()
	if err != nil {
		if err != redis.Nil {
			c.recordFailure()
		}
		return portfolio.Snapshot{}, false
	}

	var snap portfolio.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		c.logger.Warn().Err(err).Msg("failed to decode cached snapshot")
		return portfolio.Snapshot{}, false
	}
	c.recordSuccess()
	return snap, true
}

// SetLatestSnapshot writes snap to the cache with the configured TTL. Errors
// are logged, not returned - a cache write failure should never fail the
// caller's write to the durable store.
func (c *Cache) SetLatestSnapshot(ctx context.Context, snap portfolio.Snapshot) {
	if c.client == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to encode snapshot for caching")
		return
	}
	if err := c.client.Set(ctx, latestSnapshotKey, data, c.ttl).Err(); err != nil {
		c.recordFailure()
		c.logger.Warn().Err(err).Msg("failed to write snapshot to cache")
		return
	}
	c.recordSuccess()
}

// CachedRepository wraps Repository with a read-through Cache for the
// latest-snapshot lookup.
type CachedRepository struct {
	*Repository
	cache *Cache
}

// NewCachedRepository wraps repo with cache.
func NewCachedRepository(repo *Repository, cache *Cache) *CachedRepository {
	return &CachedRepository{Repository: repo, cache: cache}
}

// GetLatestPortfolioSnapshot checks the cache first, falling back to the
// database and populating the cache on a miss.
func (cr *CachedRepository) GetLatestPortfolioSnapshot(ctx context.Context) (portfolio.Snapshot, error) {
	if snap, ok := cr.cache.GetLatestSnapshot(ctx); ok {
		return snap, nil
	}

	snap, err := cr.Repository.GetLatestPortfolioSnapshot(ctx)
	if err != nil {
		return portfolio.Snapshot{}, fmt.Errorf("load latest portfolio snapshot: %w", err)
	}
	cr.cache.SetLatestSnapshot(ctx, snap)
	return snap, nil
}
