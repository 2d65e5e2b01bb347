package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	metricsinfra "ProjectForge/internal/infra/metrics"
)

// JWTBlacklist remembers revoked access token ids until the tokens expire.
// Without a client it reports nothing as revoked.
type JWTBlacklist struct {
	client  *redis.Client
	logger  *slog.Logger
	metrics *metricsinfra.Metrics
}

func NewJWTBlacklist(client *redis.Client, logger *slog.Logger, metrics *metricsinfra.Metrics) *JWTBlacklist {
	return &JWTBlacklist{client: client, logger: logger, metrics: metrics}
}

func (b *JWTBlacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if b == nil || b.client == nil {
		return false, nil
	}
	if jti == "" {
		return false, errors.New("empty jti")
	}
	n, err := b.client.Exists(ctx, key(jti)).Result()
	if err != nil {
		b.onRedisError(err)
		return false, err
	}
	return n > 0, nil
}

func (b *JWTBlacklist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if b == nil || b.client == nil || jti == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := b.client.Set(ctx, key(jti), "1", ttl).Err(); err != nil {
		b.onRedisError(err)
		return err
	}
	return nil
}

func (b *JWTBlacklist) onRedisError(err error) {
	if b.logger != nil {
		b.logger.Warn("jwt blacklist redis error", "err", err)
	}
	if b.metrics != nil {
		b.metrics.RedisDegraded.WithLabelValues("blacklist").Inc()
	}
}

func key(jti string) string {
	return "pf:revoked:jti:" + jti
}
