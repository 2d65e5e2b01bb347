package redis

import (
	"context"
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"ProjectForge/internal/config"
)

var ErrNotConfigured = errors.New("redis not configured")

// Client wraps the shared go-redis client used by the limiter store, the
// token blacklist and readiness checks. A nil Client means Redis is off.
type Client struct {
	Redis *redis.Client
}

// New returns nil when no address is configured.
func New(cfg config.RedisConfig) *Client {
	if cfg.Addr == "" {
		return nil
	}
	cli := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Client{Redis: cli}
}

// Raw returns the underlying client, nil when Redis is off.
func (c *Client) Raw() *redis.Client {
	if c == nil {
		return nil
	}
	return c.Redis
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.Redis == nil {
		return ErrNotConfigured
	}
	return c.Redis.Ping(ctx).Err()
}

// WarnIfDown logs a failed ping at startup. The service still starts:
// Redis-backed parts degrade on their own.
func (c *Client) WarnIfDown(ctx context.Context, logger *slog.Logger) bool {
	if err := c.Ping(ctx); err != nil {
		if logger != nil {
			logger.Warn("redis ping failed", "err", err)
		}
		return false
	}
	return true
}

func (c *Client) Close() error {
	if c == nil || c.Redis == nil {
		return nil
	}
	return c.Redis.Close()
}
