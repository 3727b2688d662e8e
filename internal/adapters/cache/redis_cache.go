package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"chainpulse/internal/domain"
)

const (
	// RedisReconnectInterval is how often the background monitor pings
	// an unavailable Redis.
	RedisReconnectInterval = 10 * time.Second

	// historyRetention bounds the sorted-set window kept per metric.
	historyRetention = 48 * time.Hour

	// latestTTL covers the slowest poll cadence with a margin.
	latestTTL = 10 * time.Minute
)

type RedisCache struct {
	client          *redis.Client
	logger          *slog.Logger
	ctx             context.Context
	storage         domain.StoragePort
	redisAvailable  bool
	mutex           sync.RWMutex
	reconnectCtx    context.Context
	reconnectCancel context.CancelFunc
}

func NewRedisCache(addr, password string, db int, logger *slog.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	reconnectCtx, reconnectCancel := context.WithCancel(ctx)

	// A dead Redis at startup is not fatal: the monitor keeps probing
	// and every read/write has a storage fallback.
	redisAvailable := true
	_, err := client.Ping(ctx).Result()
	if err != nil {
		logger.Error("Failed to connect to Redis", "error", err)
		redisAvailable = false
	}

	logger.Info("Redis cache initialized", "available", redisAvailable)

	cache := &RedisCache{
		client:          client,
		logger:          logger,
		ctx:             ctx,
		redisAvailable:  redisAvailable,
		reconnectCtx:    reconnectCtx,
		reconnectCancel: reconnectCancel,
	}

	go cache.monitorRedisConnection()

	return cache, nil
}

// SetStorage wires the PostgreSQL fallback used whenever Redis is down.
func (c *RedisCache) SetStorage(storage domain.StoragePort) {
	c.storage = storage
	c.logger.Info("Fallback storage set for Redis cache")
}

func (c *RedisCache) monitorRedisConnection() {
	ticker := time.NewTicker(RedisReconnectInterval)
	defer ticker.Stop()

	c.logger.Info("Starting Redis connection monitor")

	for {
		select {
		case <-c.reconnectCtx.Done():
			c.logger.Info("Redis connection monitor stopped")
			return
		case <-ticker.C:
			c.checkRedisConnection()
		}
	}
}

func (c *RedisCache) checkRedisConnection() {
	_, err := c.client.Ping(c.ctx).Result()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err != nil {
		if c.redisAvailable {
			c.logger.Error("Redis became unavailable", "error", err)
			c.redisAvailable = false
		}
	} else {
		if !c.redisAvailable {
			c.logger.Info("Redis connection restored")
			c.redisAvailable = true
		}
	}
}

func (c *RedisCache) isRedisAvailable() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.redisAvailable
}

// IsAvailable reports whether Redis is currently reachable.
func (c *RedisCache) IsAvailable() bool {
	return c.isRedisAvailable()
}

func (c *RedisCache) markUnavailable() {
	c.mutex.Lock()
	c.redisAvailable = false
	c.mutex.Unlock()
}

func latestKey(asset, metric string) string {
	return fmt.Sprintf("latest:%s:%s", asset, metric)
}

func historyKey(asset, metric string) string {
	return fmt.Sprintf("history:%s:%s", asset, metric)
}

// CacheMetric stores the point both as the latest value for its
// (asset, metric) pair and in the recent-history sorted set.
func (c *RedisCache) CacheMetric(point domain.MetricPoint) error {
	if !c.isRedisAvailable() {
		c.logger.Debug("Redis unavailable, using fallback storage",
			"asset", point.Asset,
			"metric", point.Metric)

		if c.storage != nil {
			return c.storage.SaveMetricPoint(point)
		}
		return fmt.Errorf("redis unavailable and no fallback storage")
	}

	data, err := json.Marshal(point)
	if err != nil {
		return fmt.Errorf("failed to marshal metric point: %w", err)
	}

	err = c.client.Set(c.ctx, latestKey(point.Asset, point.Metric), data, latestTTL).Err()
	if err != nil {
		c.markUnavailable()
		c.logger.Error("Failed to cache metric in Redis", "error", err)

		if c.storage != nil {
			return c.storage.SaveMetricPoint(point)
		}
		return fmt.Errorf("redis operation failed and no fallback storage: %w", err)
	}

	hkey := historyKey(point.Asset, point.Metric)
	score := float64(point.Timestamp.UnixMilli())

	err = c.client.ZAdd(c.ctx, hkey, redis.Z{
		Score:  score,
		Member: data,
	}).Err()
	if err != nil {
		c.logger.Error("Failed to add to metric history in Redis", "error", err)
		return err
	}

	minScore := float64(time.Now().Add(-historyRetention).UnixMilli())
	err = c.client.ZRemRangeByScore(c.ctx, hkey, "0", fmt.Sprintf("%f", minScore)).Err()
	if err != nil {
		c.logger.Error("Failed to trim metric history in Redis", "error", err)
	}

	return err
}

// GetCachedMetric returns the latest point for an (asset, metric) pair.
func (c *RedisCache) GetCachedMetric(asset, metric string) (domain.MetricPoint, error) {
	if !c.isRedisAvailable() {
		c.logger.Debug("Redis unavailable, using fallback storage for GetCachedMetric",
			"asset", asset,
			"metric", metric)

		if c.storage != nil {
			return c.storage.GetLatestMetric(asset, metric)
		}
		return domain.MetricPoint{}, fmt.Errorf("redis unavailable and no fallback storage")
	}

	data, err := c.client.Get(c.ctx, latestKey(asset, metric)).Result()
	if err != nil {
		if err == redis.Nil {
			// A cache miss is not a Redis failure: the point may simply
			// have aged out, so try storage before giving up.
			if c.storage != nil {
				return c.storage.GetLatestMetric(asset, metric)
			}
			return domain.MetricPoint{}, fmt.Errorf("no cached value for %s %s", asset, metric)
		}

		c.markUnavailable()
		c.logger.Error("Failed to get metric from Redis", "error", err)

		if c.storage != nil {
			return c.storage.GetLatestMetric(asset, metric)
		}
		return domain.MetricPoint{}, fmt.Errorf("redis operation failed and no fallback storage: %w", err)
	}

	var point domain.MetricPoint
	err = json.Unmarshal([]byte(data), &point)
	return point, err
}

// GetMetricsInRange returns the points of the trailing window, oldest
// first, falling back to storage when Redis cannot serve them.
func (c *RedisCache) GetMetricsInRange(asset, metric string, window time.Duration) ([]domain.MetricPoint, error) {
	if !c.isRedisAvailable() {
		c.logger.Debug("Redis unavailable, using fallback storage for GetMetricsInRange",
			"asset", asset,
			"metric", metric,
			"window", window)
		return c.rangeFromStorage(asset, metric, window)
	}

	now := time.Now()
	results, err := c.client.ZRangeByScore(c.ctx, historyKey(asset, metric), &redis.ZRangeBy{
		Min: fmt.Sprintf("%f", float64(now.Add(-window).UnixMilli())),
		Max: fmt.Sprintf("%f", float64(now.UnixMilli())),
	}).Result()
	if err != nil {
		c.markUnavailable()
		c.logger.Error("Failed to get metric history from Redis", "error", err)
		return c.rangeFromStorage(asset, metric, window)
	}

	points := make([]domain.MetricPoint, 0, len(results))
	for _, member := range results {
		var point domain.MetricPoint
		if err := json.Unmarshal([]byte(member), &point); err != nil {
			c.logger.Error("Failed to unmarshal metric point", "error", err)
			continue
		}
		points = append(points, point)
	}

	return points, nil
}

func (c *RedisCache) rangeFromStorage(asset, metric string, window time.Duration) ([]domain.MetricPoint, error) {
	if c.storage == nil {
		return nil, fmt.Errorf("redis unavailable and no fallback storage")
	}
	now := time.Now()
	points, err := c.storage.GetMetricSeries(asset, metric, now.Add(-window), now)
	if err != nil {
		return nil, fmt.Errorf("failed to get data from fallback storage: %w", err)
	}
	return points, nil
}

func (c *RedisCache) Close() error {
	c.reconnectCancel()
	return c.client.Close()
}
