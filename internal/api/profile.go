package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"ProjectForge/internal/repository"
	"ProjectForge/internal/service"
	"ProjectForge/pkg/api/response"
)

type Profiles interface {
	Profile(ctx context.Context, userID int64) (*repository.User, error)
	UpdateProfile(ctx context.Context, userID int64, patch service.ProfilePatch) (*repository.User, error)
	Settings(ctx context.Context, userID int64) (repository.Settings, error)
	SaveSettings(ctx context.Context, userID int64, in service.SettingsInput) (repository.Settings, error)
}

type ProfileHandler struct {
	users  Profiles
	logger *slog.Logger
}

type updateProfileRequest struct {
	Name  *string `json:"name" validate:"omitnil,min=1,max=100"`
	Email *string `json:"email" validate:"omitnil,email,max=255"`
}

// Pointers make every field mandatory; a missing bool would read as false.
type settingsRequest struct {
	DarkMode      *bool `json:"dark_mode" validate:"required"`
	Notifications *bool `json:"notifications" validate:"required"`
	SoundEffects  *bool `json:"sound_effects" validate:"required"`
	AutoSave      *bool `json:"auto_save" validate:"required"`
}

type profileDTO struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type settingsDTO struct {
	DarkMode      bool `json:"dark_mode"`
	Notifications bool `json:"notifications"`
	SoundEffects  bool `json:"sound_effects"`
	AutoSave      bool `json:"auto_save"`
}

func NewProfileHandler(users Profiles, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{users: users, logger: logger}
}

func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}
	ctx, cancel := contextWithTimeout(r, requestTimeout)
	defer cancel()

	u, err := h.users.Profile(ctx, userID)
	if h.fail(w, err) {
		return
	}
	response.JSON(w, http.StatusOK, toProfileDTO(u))
}

func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}
	var req updateProfileRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	ctx, cancel := contextWithTimeout(r, requestTimeout)
	defer cancel()

	u, err := h.users.UpdateProfile(ctx, userID, service.ProfilePatch{Name: req.Name, Email: req.Email})
	if h.fail(w, err) {
		return
	}
	response.JSON(w, http.StatusOK, toProfileDTO(u))
}

func (h *ProfileHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}
	ctx, cancel := contextWithTimeout(r, requestTimeout)
	defer cancel()

	st, err := h.users.Settings(ctx, userID)
	if h.fail(w, err) {
		return
	}
	response.JSON(w, http.StatusOK, toSettingsDTO(st))
}

func (h *ProfileHandler) SaveSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}
	var req settingsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	ctx, cancel := contextWithTimeout(r, requestTimeout)
	defer cancel()

	st, err := h.users.SaveSettings(ctx, userID, service.SettingsInput{
		DarkMode:      *req.DarkMode,
		Notifications: *req.Notifications,
		SoundEffects:  *req.SoundEffects,
		AutoSave:      *req.AutoSave,
	})
	if h.fail(w, err) {
		return
	}
	response.JSON(w, http.StatusOK, toSettingsDTO(st))
}

func (h *ProfileHandler) fail(w http.ResponseWriter, err error) bool {
	if err != nil && h.logger != nil && !isClientError(err) {
		h.logger.Error("profile request failed", "err", err)
	}
	return mapServiceError(w, err)
}

func toProfileDTO(u *repository.User) profileDTO {
	return profileDTO{ID: u.ID, Email: u.Email, Name: u.Name, CreatedAt: u.CreatedAt}
}

func toSettingsDTO(s repository.Settings) settingsDTO {
	return settingsDTO{
		DarkMode:      s.DarkMode,
		Notifications: s.Notifications,
		SoundEffects:  s.SoundEffects,
		AutoSave:      s.AutoSave,
	}
}
