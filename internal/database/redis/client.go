// Package redis provides the shared store used by oracles for liveness and
// coordination hashes.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Ratio1/edge-node-sub002/internal/oracle"
	"github.com/Ratio1/edge-node-sub002/pkg/errors"
	"github.com/Ratio1/edge-node-sub002/pkg/log"
)

var _ oracle.SharedStore = (*Client)(nil)

// Client wraps the Redis hash operations of the shared store
type Client struct {
	rdb    *redis.Client
	debug  bool
	logger *log.Logger
}

// Config holds Redis connection configuration
type Config struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Debug logs every store operation
	Debug bool
}

// NewClient creates a client from cfg and verifies the connection
func NewClient(ctx context.Context, cfg *Config, logger *log.Logger) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "redis_config", "invalid REDIS_URL")
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	c := New(redis.NewClient(opts), cfg.Debug, logger)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Health(pingCtx); err != nil {
		_ = c.Close()
		return nil, err
	}

	return c, nil
}

// New wraps an existing go-redis client
func New(rdb *redis.Client, debug bool, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Nop()
	}
	return &Client{rdb: rdb, debug: debug, logger: logger.WithComponent("store")}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "ping", "failed to ping Redis")
	}
	return nil
}

// HSet stores value under key in hash hkey and reports success
func (c *Client) HSet(ctx context.Context, hkey, key, value string) (bool, error) {
	if err := c.rdb.HSet(ctx, hkey, key, value).Err(); err != nil {
		return false, c.storeError(err, "hset", hkey, key)
	}
	c.trace("hset", hkey, key, value)
	return true, nil
}

// HGet returns the value under key in hash hkey; false when absent
func (c *Client) HGet(ctx context.Context, hkey, key string) (string, bool, error) {
	value, err := c.rdb.HGet(ctx, hkey, key).Result()
	if err == redis.Nil {
		c.trace("hget", hkey, key, "<nil>")
		return "", false, nil
	}
	if err != nil {
		return "", false, c.storeError(err, "hget", hkey, key)
	}
	c.trace("hget", hkey, key, value)
	return value, true, nil
}

// HGetAll returns every field of hash hkey
func (c *Client) HGetAll(ctx context.Context, hkey string) (map[string]string, error) {
	fields, err := c.rdb.HGetAll(ctx, hkey).Result()
	if err != nil {
		return nil, c.storeError(err, "hgetall", hkey, "")
	}
	c.trace("hgetall", hkey, "*", fmt.Sprintf("%d fields", len(fields)))
	return fields, nil
}

func (c *Client) storeError(err error, op, hkey, key string) error {
	se := errors.Wrap(err, errors.ErrorTypeStore, op, "shared store operation failed").
		WithContext("hkey", hkey)
	if key != "" {
		se = se.WithContext("key", key)
	}
	return se
}

func (c *Client) trace(op, hkey, key, value string) {
	if !c.debug {
		return
	}
	c.logger.Info("store operation",
		"op", op,
		"hkey", hkey,
		"key", key,
		"value", value,
	)
}
