package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ProjectForge/internal/domain/ratelimit"
	metricsinfra "ProjectForge/internal/infra/metrics"
)

const storeResolution = time.Millisecond

// FixedWindow counts calls per key in fixed windows kept in a Store.
// It holds no per-key state of its own; every decision reads the store.
type FixedWindow struct {
	store   ratelimit.Store
	strict  bool
	now     func() time.Time
	logger  *slog.Logger
	metrics *metricsinfra.Metrics
}

func NewFixedWindow(store ratelimit.Store, strict bool, logger *slog.Logger, metrics *metricsinfra.Metrics) *FixedWindow {
	return &FixedWindow{store: store, strict: strict, now: time.Now, logger: logger, metrics: metrics}
}

// Check counts one call for key against limit calls per windowSeconds.
// Store failures never reject the call: the result is allowed with
// OutcomeFailOpen. Only invalid arguments produce an error.
func (l *FixedWindow) Check(ctx context.Context, key string, limit, windowSeconds int) (ratelimit.Result, error) {
	if key == "" || limit <= 0 || windowSeconds <= 0 {
		return ratelimit.Result{}, fmt.Errorf("%w: key=%q limit=%d window=%d", ratelimit.ErrInvalidArgument, key, limit, windowSeconds)
	}

	// Redis keeps milliseconds and MySQL microseconds; a coarser clock keeps
	// resetAt identical whether it comes from now or from the stored record.
	now := l.now().UTC().Truncate(storeResolution)
	window := time.Duration(windowSeconds) * time.Second

	res, op, err := l.check(ctx, key, limit, now, window)
	if err != nil {
		l.onStoreError(key, op, err)
		res = ratelimit.Result{
			Allowed:   true,
			Remaining: limit,
			ResetAt:   now.Add(window),
			Outcome:   ratelimit.OutcomeFailOpen,
		}
	}
	if l.metrics != nil {
		l.metrics.RateLimitDecisions.WithLabelValues(res.Outcome.String()).Inc()
	}
	return res, nil
}

func (l *FixedWindow) check(ctx context.Context, key string, limit int, now time.Time, window time.Duration) (ratelimit.Result, string, error) {
	if l.store == nil {
		return ratelimit.Result{}, "store", fmt.Errorf("rate limit store is nil")
	}

	if _, err := l.store.DeleteExpired(ctx, now); err != nil {
		return ratelimit.Result{}, "delete_expired", err
	}

	rec, err := l.store.FindByKey(ctx, key)
	if err != nil {
		return ratelimit.Result{}, "find", err
	}

	if rec == nil || rec.Expired(now) {
		resetAt := now.Add(window)
		if err := l.store.Upsert(ctx, ratelimit.Record{Key: key, Count: 1, ExpiresAt: resetAt}); err != nil {
			return ratelimit.Result{}, "upsert", err
		}
		return counted(limit-1, resetAt), "", nil
	}

	if rec.Count >= limit {
		return rejected(rec.ExpiresAt), "", nil
	}

	if l.strict {
		if ci, ok := l.store.(ratelimit.ConditionalIncrementer); ok {
			ok, err := ci.IncrementCountBelow(ctx, key, limit)
			if err != nil {
				return ratelimit.Result{}, "increment_below", err
			}
			if !ok {
				return rejected(rec.ExpiresAt), "", nil
			}
			return counted(limit-rec.Count-1, rec.ExpiresAt), "", nil
		}
	}

	if err := l.store.IncrementCount(ctx, key); err != nil {
		return ratelimit.Result{}, "increment", err
	}
	return counted(limit-rec.Count-1, rec.ExpiresAt), "", nil
}

func (l *FixedWindow) onStoreError(key, op string, err error) {
	if l.logger != nil {
		l.logger.Warn("rate limit store error, allowing request", "key", key, "op", op, "err", err)
	}
	if l.metrics != nil {
		l.metrics.RateLimitStoreErrors.WithLabelValues(op).Inc()
	}
}

func counted(remaining int, resetAt time.Time) ratelimit.Result {
	if remaining < 0 {
		remaining = 0
	}
	return ratelimit.Result{Allowed: true, Remaining: remaining, ResetAt: resetAt, Outcome: ratelimit.OutcomeCounted}
}

func rejected(resetAt time.Time) ratelimit.Result {
	return ratelimit.Result{Allowed: false, Remaining: 0, ResetAt: resetAt, Outcome: ratelimit.OutcomeRejected}
}
