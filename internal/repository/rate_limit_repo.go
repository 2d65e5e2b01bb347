package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"ProjectForge/internal/domain/ratelimit"
)

// RateLimitRepository is the MySQL rate limit store. Counters live in the
// rate_limits table so every API instance shares them.
type RateLimitRepository struct {
	db *sqlx.DB
}

func NewRateLimitRepository(db *sqlx.DB) *RateLimitRepository {
	return &RateLimitRepository{db: db}
}

func (r *RateLimitRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE expires_at < ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *RateLimitRepository) FindByKey(ctx context.Context, key string) (*ratelimit.Record, error) {
	var rec ratelimit.Record
	err := r.db.GetContext(ctx, &rec, `SELECT rl_key, count, expires_at FROM rate_limits WHERE rl_key = ?`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	return &rec, nil
}

func (r *RateLimitRepository) Upsert(ctx context.Context, rec ratelimit.Record) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rate_limits (rl_key, count, expires_at) VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE count = VALUES(count), expires_at = VALUES(expires_at)`,
		rec.Key, rec.Count, rec.ExpiresAt,
	)
	return err
}

func (r *RateLimitRepository) IncrementCount(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE rate_limits SET count = count + 1 WHERE rl_key = ?`, key)
	return err
}

func (r *RateLimitRepository) IncrementCountBelow(ctx context.Context, key string, limit int) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE rate_limits SET count = count + 1 WHERE rl_key = ? AND count < ?`,
		key, limit,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
