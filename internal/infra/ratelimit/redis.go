package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"ProjectForge/internal/domain/ratelimit"
	metricsinfra "ProjectForge/internal/infra/metrics"
)

const (
	redisKeyPrefix  = "rl:"
	redisSweepBatch = 1000
)

// Expired members are removed from the expiry index together with their hashes.
var sweepScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[1], "LIMIT", 0, tonumber(ARGV[3]))
for _, id in ipairs(ids) do
	redis.call("DEL", ARGV[2] .. id)
end
if #ids > 0 then
	redis.call("ZREM", KEYS[1], unpack(ids))
end
return #ids
`)

var incrScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return redis.call("HINCRBY", KEYS[1], "count", 1)
end
return 0
`)

var incrBelowScript = redis.NewScript(`
local c = tonumber(redis.call("HGET", KEYS[1], "count"))
if c == nil then
	return 0
end
if c < tonumber(ARGV[1]) then
	redis.call("HINCRBY", KEYS[1], "count", 1)
	return 1
end
return 0
`)

// RedisStore keeps each record in a hash and indexes expiry times in a sorted
// set so expired records of any key can be swept in one call.
type RedisStore struct {
	client  *redis.Client
	logger  *slog.Logger
	metrics *metricsinfra.Metrics
}

func NewRedisStore(client *redis.Client, logger *slog.Logger, metrics *metricsinfra.Metrics) *RedisStore {
	return &RedisStore{client: client, logger: logger, metrics: metrics}
}

func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if s.client == nil {
		return 0, errRedisUnavailable
	}
	n, err := sweepScript.Run(ctx, s.client,
		[]string{indexKey()},
		strconv.FormatInt(now.UnixMilli(), 10), recordPrefix(), redisSweepBatch,
	).Int64()
	if err != nil {
		s.onRedisError(err)
		return 0, err
	}
	return n, nil
}

func (s *RedisStore) FindByKey(ctx context.Context, key string) (*ratelimit.Record, error) {
	if s.client == nil {
		return nil, errRedisUnavailable
	}
	vals, err := s.client.HMGet(ctx, recordKey(key), "count", "exp").Result()
	if err != nil {
		s.onRedisError(err)
		return nil, err
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return nil, nil
	}
	count, err := strconv.Atoi(toString(vals[0]))
	if err != nil {
		return nil, err
	}
	expMs, err := strconv.ParseInt(toString(vals[1]), 10, 64)
	if err != nil {
		return nil, err
	}
	return &ratelimit.Record{Key: key, Count: count, ExpiresAt: time.UnixMilli(expMs).UTC()}, nil
}

func (s *RedisStore) Upsert(ctx context.Context, rec ratelimit.Record) error {
	if s.client == nil {
		return errRedisUnavailable
	}
	expMs := rec.ExpiresAt.UnixMilli()
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, recordKey(rec.Key), "count", rec.Count, "exp", expMs)
		p.PExpireAt(ctx, recordKey(rec.Key), rec.ExpiresAt)
		p.ZAdd(ctx, indexKey(), redis.Z{Score: float64(expMs), Member: rec.Key})
		return nil
	})
	if err != nil {
		s.onRedisError(err)
		return err
	}
	return nil
}

func (s *RedisStore) IncrementCount(ctx context.Context, key string) error {
	if s.client == nil {
		return errRedisUnavailable
	}
	if err := incrScript.Run(ctx, s.client, []string{recordKey(key)}).Err(); err != nil {
		s.onRedisError(err)
		return err
	}
	return nil
}

func (s *RedisStore) IncrementCountBelow(ctx context.Context, key string, limit int) (bool, error) {
	if s.client == nil {
		return false, errRedisUnavailable
	}
	n, err := incrBelowScript.Run(ctx, s.client, []string{recordKey(key)}, limit).Int()
	if err != nil {
		s.onRedisError(err)
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) onRedisError(err error) {
	if s.logger != nil {
		s.logger.Warn("redis rate limit store error", "err", err)
	}
	if s.metrics != nil {
		s.metrics.RedisDegraded.WithLabelValues("ratelimit").Inc()
	}
}

var errRedisUnavailable = errors.New("redis rate limit store unavailable")

func recordPrefix() string {
	return redisKeyPrefix + "rec:"
}

func recordKey(key string) string {
	return recordPrefix() + key
}

func indexKey() string {
	return redisKeyPrefix + "exp"
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return ""
	}
}
