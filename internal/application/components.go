package application

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"ProjectForge/internal/config"
	"ProjectForge/internal/domain/ratelimit"
	"ProjectForge/internal/infra/generation"
	metricsinfra "ProjectForge/internal/infra/metrics"
	limiterinfra "ProjectForge/internal/infra/ratelimit"
	"ProjectForge/internal/repository"
	"ProjectForge/internal/service"
)

var errRedisRequired = errors.New("rate_limit.store=redis needs redis.addr")

// newLimiterStore picks the backing store and puts it behind a circuit
// breaker, so a dead backend makes the limiter fail open at once.
func newLimiterStore(cfg config.RateLimitConfig, db *sqlx.DB, client *redis.Client, logger *slog.Logger, metrics *metricsinfra.Metrics) (ratelimit.Store, error) {
	var store ratelimit.Store
	switch cfg.Store {
	case config.StoreMySQL:
		if db == nil {
			return nil, errors.New("rate_limit.store=mysql needs a database")
		}
		store = repository.NewRateLimitRepository(db)
	case config.StoreRedis:
		if client == nil {
			return nil, errRedisRequired
		}
		store = limiterinfra.NewRedisStore(client, logger, metrics)
	case config.StoreMemory:
		if logger != nil {
			logger.Warn("in-memory rate limit store: counters are not shared between instances")
		}
		store = limiterinfra.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown rate limit store %q", cfg.Store)
	}
	return limiterinfra.NewBreakerStore(store, cfg.Breaker, logger, metrics), nil
}

// newGenerator uses the remote backend when one is configured and the
// canned replies otherwise.
func newGenerator(cfg config.GenerationConfig, logger *slog.Logger, metrics *metricsinfra.Metrics) service.Generator {
	if cfg.BaseURL == "" {
		return generation.NewCanned()
	}
	return generation.NewBreakerGenerator(generation.NewHTTPGenerator(cfg), cfg.Breaker, logger, metrics)
}
