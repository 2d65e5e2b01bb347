package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

type User struct {
	ID           int64     `db:"id"`
	Email        string    `db:"email"`
	Name         string    `db:"name"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, email, name, passwordHash string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (email, name, password_hash) VALUES (?, ?, ?)`,
		email, name, passwordHash,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.get(ctx, `SELECT id, email, name, password_hash, created_at FROM users WHERE email = ?`, email)
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	return r.get(ctx, `SELECT id, email, name, password_hash, created_at FROM users WHERE id = ?`, id)
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id int64, email, name string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET email = ?, name = ? WHERE id = ?`, email, name, id)
	return err
}

func (r *UserRepository) get(ctx context.Context, query string, arg any) (*User, error) {
	var u User
	if err := r.db.GetContext(ctx, &u, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}
