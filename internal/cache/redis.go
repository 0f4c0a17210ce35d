// Package cache provides an optional Redis read-through layer in front of
// the Result store's take-once reads, and a Redis-backed blocked_addrs
// claim for test-token issuance when a fronting load balancer runs more
// than one gateway process. The open_ws counter is not backed here; it is
// always in-process. When Redis.URL is unconfigured every function here is
// a no-op and callers fall back to in-process state, preserving the
// "lost on restart" invariant as the default.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/marketorder/gateway/internal/config"
	"github.com/marketorder/gateway/internal/model"
)

// Cache wraps an optional redis.UniversalClient; a nil client makes every
// method a harmless no-op / cache-miss.
type Cache struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// Connect builds a Cache from cfg. cfg.URL == "" returns a disabled Cache.
func Connect(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*Cache, error) {
	if cfg.URL == "" {
		return &Cache{logger: logger}, nil
	}
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.DialTimeout > 0 {
		opt.DialTimeout = time.Duration(cfg.DialTimeout) * time.Millisecond
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	logger.Info("redis cache connected")
	return &Cache{client: client, logger: logger}, nil
}

// Enabled reports whether a Redis backend is configured.
func (c *Cache) Enabled() bool { return c != nil && c.client != nil }

// Close releases the underlying client, if any.
func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}

const taskKeyPrefix = "gateway:result:"

// PutTask caches a terminal task snapshot for a short window so a
// take-once read of the durable store isn't required for every observer
// racing the same hash; callers still must go through the store's real
// TakeOnce for the authoritative single-delivery guarantee.
func (c *Cache) PutTask(ctx context.Context, task model.Task, ttl time.Duration) {
	if !c.Enabled() {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		c.logger.Warn("cache marshal task failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, taskKeyPrefix+task.OrderHash, data, ttl).Err(); err != nil {
		c.logger.Warn("cache put task failed", zap.Error(err))
	}
}

// GetTask returns a cached snapshot, if present. This is a peek, not a
// take-once read; it never deletes.
func (c *Cache) GetTask(ctx context.Context, hash string) (model.Task, bool) {
	if !c.Enabled() {
		return model.Task{}, false
	}
	raw, err := c.client.Get(ctx, taskKeyPrefix+hash).Bytes()
	if err != nil {
		return model.Task{}, false
	}
	var task model.Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return model.Task{}, false
	}
	return task, true
}

const blockedAddrPrefix = "gateway:blocked_addr:"

// ClaimTestTokenAddr atomically claims addr for test-token issuance,
// mirroring §4.5's blocked_addrs set across processes. Returns true the
// first time addr is claimed, false thereafter.
func (c *Cache) ClaimTestTokenAddr(ctx context.Context, addr string, ttl time.Duration) (claimed, ok bool) {
	if !c.Enabled() {
		return false, false
	}
	set, err := c.client.SetNX(ctx, blockedAddrPrefix+addr, 1, ttl).Result()
	if err != nil {
		c.logger.Warn("cache claim addr failed", zap.Error(err))
		return false, false
	}
	return set, true
}
