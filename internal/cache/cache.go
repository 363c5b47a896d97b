// Package cache implements the per-run scratch cache handlers use to carry
// state between stream and data invocations within the same run.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/commstream/integration-pipeline/internal/platform/logger"
)

const defaultScanBatchSize = 100

// RunCache scopes reads and writes to a single run's key namespace and
// applies the run's TTL to every write, so an abandoned run's scratch data
// expires on its own rather than needing an explicit teardown step.
type RunCache struct {
	client *redis.Client
	runID  string
	ttl    time.Duration
	log    logger.Logger
}

// New builds a RunCache for runID. Every value written through it expires
// after ttl, refreshed on each write.
func New(client *redis.Client, runID string, ttl time.Duration, log logger.Logger) *RunCache {
	if log == nil {
		log = logger.NewNop()
	}
	return &RunCache{client: client, runID: runID, ttl: ttl, log: log}
}

func (c *RunCache) key(key string) string {
	return fmt.Sprintf("run:%s:cache:%s", c.runID, key)
}

// Get returns the raw bytes stored under key, and false if the key is absent
// or has expired.
func (c *RunCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	redisKey := c.key(key)
	val, err := c.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get cache key %s: %w", redisKey, err)
	}
	return val, true, nil
}

// Set stores value under key, resetting the run's TTL.
func (c *RunCache) Set(ctx context.Context, key string, value []byte) error {
	redisKey := c.key(key)
	if err := c.client.Set(ctx, redisKey, value, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cache key %s: %w", redisKey, err)
	}
	return nil
}

// Delete removes key from the cache.
func (c *RunCache) Delete(ctx context.Context, key string) error {
	redisKey := c.key(key)
	if err := c.client.Del(ctx, redisKey).Err(); err != nil {
		return fmt.Errorf("delete cache key %s: %w", redisKey, err)
	}
	return nil
}

// Clear scans and deletes every key belonging to this run. The dispatchers
// and the sweeper do not call it when a run finishes.
func (c *RunCache) Clear(ctx context.Context) error {
	pattern := fmt.Sprintf("run:%s:cache:*", c.runID)
	var cursor uint64
	var deleted int

	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, defaultScanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("scan cache keys for run %s: %w", c.runID, err)
		}
		if len(keys) > 0 {
			n, delErr := c.client.Del(ctx, keys...).Result()
			if delErr != nil {
				return fmt.Errorf("delete cache keys for run %s: %w", c.runID, delErr)
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	c.log.Debug("cleared run cache", logger.String("run_id", c.runID), logger.Int("keys_deleted", deleted))
	return nil
}
