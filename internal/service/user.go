package service

import (
	"context"
	"strings"
	"time"

	"ProjectForge/internal/repository"
)

type UserService struct {
	users    profileStore
	settings settingsStore
	now      func() time.Time
}

type profileStore interface {
	GetByID(ctx context.Context, id int64) (*repository.User, error)
	GetByEmail(ctx context.Context, email string) (*repository.User, error)
	UpdateProfile(ctx context.Context, id int64, email, name string) error
}

type settingsStore interface {
	Get(ctx context.Context, userID int64) (*repository.Settings, error)
	Upsert(ctx context.Context, s *repository.Settings) error
}

type ProfilePatch struct {
	Name  *string
	Email *string
}

type SettingsInput struct {
	DarkMode      bool
	Notifications bool
	SoundEffects  bool
	AutoSave      bool
}

func NewUserService(users profileStore, settings settingsStore) *UserService {
	return &UserService{users: users, settings: settings, now: time.Now}
}

// DefaultSettings are returned to users who never saved their own.
func DefaultSettings(userID int64) repository.Settings {
	return repository.Settings{
		UserID:        userID,
		DarkMode:      true,
		Notifications: true,
		SoundEffects:  false,
		AutoSave:      true,
	}
}

func (s *UserService) Profile(ctx context.Context, userID int64) (*repository.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrNotFound
	}
	return u, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, userID int64, patch ProfilePatch) (*repository.User, error) {
	u, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if err := validateName(name); err != nil {
			return nil, err
		}
		u.Name = name
	}
	if patch.Email != nil {
		email := NormalizeEmail(*patch.Email)
		if err := validateEmail(email); err != nil {
			return nil, err
		}
		if email != u.Email {
			other, err := s.users.GetByEmail(ctx, email)
			if err != nil {
				return nil, err
			}
			if other != nil && other.ID != userID {
				return nil, ErrConflict
			}
		}
		u.Email = email
	}

	if err := s.users.UpdateProfile(ctx, userID, u.Email, u.Name); err != nil {
		if isDuplicateKey(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return u, nil
}

func (s *UserService) Settings(ctx context.Context, userID int64) (repository.Settings, error) {
	st, err := s.settings.Get(ctx, userID)
	if err != nil {
		return repository.Settings{}, err
	}
	if st == nil {
		return DefaultSettings(userID), nil
	}
	return *st, nil
}

func (s *UserService) SaveSettings(ctx context.Context, userID int64, in SettingsInput) (repository.Settings, error) {
	st := repository.Settings{
		UserID:        userID,
		DarkMode:      in.DarkMode,
		Notifications: in.Notifications,
		SoundEffects:  in.SoundEffects,
		AutoSave:      in.AutoSave,
		UpdatedAt:     s.now().UTC(),
	}
	if err := s.settings.Upsert(ctx, &st); err != nil {
		return repository.Settings{}, err
	}
	return st, nil
}
