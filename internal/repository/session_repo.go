package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

type Session struct {
	ID        int64      `db:"id"`
	UserID    int64      `db:"user_id"`
	TokenHash string     `db:"token_hash"`
	ExpiresAt time.Time  `db:"expires_at"`
	RevokedAt *time.Time `db:"revoked_at"`
	UserAgent *string    `db:"user_agent"`
	IP        *string    `db:"ip"`
	CreatedAt time.Time  `db:"created_at"`
}

type SessionRepository struct {
	db *sqlx.DB
}

func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, s *Session) (int64, error) {
	return createSession(ctx, r.db, s)
}

func (r *SessionRepository) GetByTokenHashForUpdate(ctx context.Context, tx *sqlx.Tx, tokenHash string) (*Session, error) {
	var s Session
	err := tx.GetContext(ctx, &s,
		`SELECT id, user_id, token_hash, expires_at, revoked_at, user_agent, ip, created_at
		 FROM sessions WHERE token_hash = ? FOR UPDATE`, tokenHash,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// RevokeForUser revokes an active session only when it belongs to userID.
func (r *SessionRepository) RevokeForUser(ctx context.Context, userID int64, tokenHash string, revokedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = ? WHERE token_hash = ? AND user_id = ? AND revoked_at IS NULL`,
		revokedAt, tokenHash, userID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *SessionRepository) RevokeWithTx(ctx context.Context, tx *sqlx.Tx, tokenHash string, revokedAt time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE sessions SET revoked_at = ? WHERE token_hash = ?`, revokedAt, tokenHash)
	return err
}

func (r *SessionRepository) RevokeAllByUser(ctx context.Context, userID int64, revokedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL`, revokedAt, userID)
	return err
}

func (r *SessionRepository) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	return withTx(ctx, r.db, fn)
}

func (r *SessionRepository) CreateWithTx(ctx context.Context, tx *sqlx.Tx, s *Session) (int64, error) {
	return createSession(ctx, tx, s)
}

func createSession(ctx context.Context, exec sqlx.ExtContext, s *Session) (int64, error) {
	res, err := sqlx.NamedExecContext(ctx, exec,
		`INSERT INTO sessions (user_id, token_hash, expires_at, revoked_at, user_agent, ip)
		 VALUES (:user_id, :token_hash, :expires_at, :revoked_at, :user_agent, :ip)`,
		s,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, nil
}
