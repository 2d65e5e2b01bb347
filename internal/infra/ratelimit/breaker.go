package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"ProjectForge/internal/config"
	"ProjectForge/internal/domain/ratelimit"
	metricsinfra "ProjectForge/internal/infra/metrics"
)

// BreakerStore stops calling a failing store for a while. While the circuit
// is open every call returns gobreaker.ErrOpenState at once, and the limiter
// fails open without waiting on the store's timeouts.
type BreakerStore struct {
	next    ratelimit.Store
	cb      *gobreaker.CircuitBreaker
	logger  *slog.Logger
	metrics *metricsinfra.Metrics
}

func NewBreakerStore(next ratelimit.Store, cfg config.BreakerConfig, logger *slog.Logger, metrics *metricsinfra.Metrics) *BreakerStore {
	s := &BreakerStore{next: next, logger: logger, metrics: metrics}
	settings := gobreaker.Settings{
		Name:        "ratelimit_store",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: storeHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			if s.logger != nil {
				s.logger.Warn("circuit state changed", "name", name, "from", from.String(), "to", to.String())
			}
		},
	}
	s.cb = gobreaker.NewCircuitBreaker(settings)
	return s
}

func (s *BreakerStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	v, err := s.execute(func() (any, error) {
		return s.next.DeleteExpired(ctx, now)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (s *BreakerStore) FindByKey(ctx context.Context, key string) (*ratelimit.Record, error) {
	v, err := s.execute(func() (any, error) {
		return s.next.FindByKey(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ratelimit.Record), nil
}

func (s *BreakerStore) Upsert(ctx context.Context, rec ratelimit.Record) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.next.Upsert(ctx, rec)
	})
	return err
}

func (s *BreakerStore) IncrementCount(ctx context.Context, key string) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.next.IncrementCount(ctx, key)
	})
	return err
}

// IncrementCountBelow falls back to a plain increment when the wrapped
// store has no conditional one.
func (s *BreakerStore) IncrementCountBelow(ctx context.Context, key string, limit int) (bool, error) {
	ci, ok := s.next.(ratelimit.ConditionalIncrementer)
	if !ok {
		if err := s.IncrementCount(ctx, key); err != nil {
			return false, err
		}
		return true, nil
	}
	v, err := s.execute(func() (any, error) {
		return ci.IncrementCountBelow(ctx, key, limit)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// storeHealthy treats a cancelled request as no verdict on the store, so
// clients hanging up cannot open the circuit for every key.
func storeHealthy(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

func (s *BreakerStore) State() gobreaker.State {
	return s.cb.State()
}

func (s *BreakerStore) execute(fn func() (any, error)) (any, error) {
	v, err := s.cb.Execute(fn)
	s.observeState()
	return v, err
}

func (s *BreakerStore) observeState() {
	if s.metrics == nil || s.cb == nil {
		return
	}
	switch s.cb.State() {
	case gobreaker.StateClosed:
		s.metrics.RateLimitCircuitState.Set(0)
	case gobreaker.StateHalfOpen:
		s.metrics.RateLimitCircuitState.Set(1)
	case gobreaker.StateOpen:
		s.metrics.RateLimitCircuitState.Set(2)
	}
}
