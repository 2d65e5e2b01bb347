package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

type Settings struct {
	UserID        int64     `db:"user_id"`
	DarkMode      bool      `db:"dark_mode"`
	Notifications bool      `db:"notifications"`
	SoundEffects  bool      `db:"sound_effects"`
	AutoSave      bool      `db:"auto_save"`
	UpdatedAt     time.Time `db:"updated_at"`
}

type SettingsRepository struct {
	db *sqlx.DB
}

func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) Get(ctx context.Context, userID int64) (*Settings, error) {
	var s Settings
	err := r.db.GetContext(ctx, &s,
		`SELECT user_id, dark_mode, notifications, sound_effects, auto_save, updated_at FROM user_settings WHERE user_id = ?`,
		userID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *SettingsRepository) Upsert(ctx context.Context, s *Settings) error {
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO user_settings (user_id, dark_mode, notifications, sound_effects, auto_save, updated_at)
		 VALUES (:user_id, :dark_mode, :notifications, :sound_effects, :auto_save, :updated_at)
		 ON DUPLICATE KEY UPDATE
		   dark_mode = VALUES(dark_mode),
		   notifications = VALUES(notifications),
		   sound_effects = VALUES(sound_effects),
		   auto_save = VALUES(auto_save),
		   updated_at = VALUES(updated_at)`,
		s,
	)
	return err
}
