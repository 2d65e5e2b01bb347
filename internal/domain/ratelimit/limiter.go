package ratelimit

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidArgument = errors.New("ratelimit: invalid argument")

// Record is the persisted counter of one key for its current window.
type Record struct {
	Key       string    `db:"rl_key"`
	Count     int       `db:"count"`
	ExpiresAt time.Time `db:"expires_at"`
}

// Expired reports whether the window of r has ended at now.
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

type Outcome int

const (
	OutcomeCounted Outcome = iota + 1
	OutcomeRejected
	OutcomeFailOpen
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCounted:
		return "counted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeFailOpen:
		return "fail_open"
	default:
		return "unknown"
	}
}

type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	Outcome   Outcome
}

// RetryAfter is the time left until ResetAt, zero for allowed results.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed || !r.ResetAt.After(now) {
		return 0
	}
	return r.ResetAt.Sub(now)
}

type Limiter interface {
	Check(ctx context.Context, key string, limit, windowSeconds int) (Result, error)
}

// Store persists one Record per key. FindByKey returns nil, nil for a missing key.
type Store interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	FindByKey(ctx context.Context, key string) (*Record, error)
	Upsert(ctx context.Context, rec Record) error
	IncrementCount(ctx context.Context, key string) error
}

// ConditionalIncrementer is implemented by stores that can increment only
// while the stored count is below limit, in a single operation.
type ConditionalIncrementer interface {
	IncrementCountBelow(ctx context.Context, key string, limit int) (bool, error)
}
