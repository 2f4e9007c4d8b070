package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Client is a best-effort Redis cache. Connectivity errors are logged and
// reported to callers as a miss, so it only suits data that can always be
// rebuilt from the database.
type Client struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedis opens the shared Redis connection used by the cache and the OTP store.
func NewRedis(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// New wraps an existing Redis connection.
func New(client *redis.Client, l *zap.Logger) *Client {
	if l == nil {
		l = zap.NewNop()
	}
	return &Client{client: client, logger: l}
}

// Get returns the cached value, or nil on a miss or when Redis is unavailable.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}
	res, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, nil
	}
	return res, nil
}

// Set stores value with ttl. A failed write only costs a later miss.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
	return nil
}

// Delete removes key. A failed delete leaves the entry to expire on its own.
func (c *Client) Delete(ctx context.Context, key string) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("cache delete failed", zap.String("key", key), zap.Error(err))
	}
	return nil
}
