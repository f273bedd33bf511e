package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	StatsCacheTTL = 30 * time.Second
	statsCacheKey = "battle:stats"
)

// StatsCache is a Redis cache-aside layer for the stats aggregate. A nil
// client turns every operation into a miss.
type StatsCache struct {
	rdb *redis.Client
}

// NewStatsCache connects to redisURL. An empty or unreachable URL disables caching.
func NewStatsCache(redisURL string) *StatsCache {
	log := logrus.WithField("component", "stats_cache")
	if redisURL == "" {
		log.Info("no redis url configured, stats caching disabled")
		return &StatsCache{}
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.WithError(err).Warn("invalid redis url, stats caching disabled")
		return &StatsCache{}
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("redis unreachable, stats caching disabled")
		_ = rdb.Close()
		return &StatsCache{}
	}

	log.Info("redis connected, stats caching enabled")
	return &StatsCache{rdb: rdb}
}

func NewStatsCacheWithClient(rdb *redis.Client) *StatsCache {
	return &StatsCache{rdb: rdb}
}

func (c *StatsCache) Enabled() bool { return c != nil && c.rdb != nil }

func (c *StatsCache) Get(ctx context.Context) (*ContestStats, bool) {
	if !c.Enabled() {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, statsCacheKey).Bytes()
	if err != nil {
		return nil, false
	}
	var stats ContestStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, false
	}
	return &stats, true
}

func (c *StatsCache) Set(ctx context.Context, stats *ContestStats) error {
	if !c.Enabled() {
		return nil
	}
	b, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, statsCacheKey, b, StatsCacheTTL).Err()
}

// Invalidate drops the cached aggregate after a state change.
func (c *StatsCache) Invalidate(ctx context.Context) {
	if !c.Enabled() {
		return
	}
	if err := c.rdb.Del(ctx, statsCacheKey).Err(); err != nil {
		logrus.WithField("component", "stats_cache").WithError(err).Warn("invalidate failed")
	}
}

func (c *StatsCache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.Close()
}
