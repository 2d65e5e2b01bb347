package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	middlewarex "ProjectForge/internal/api/middleware"
	"ProjectForge/internal/config"
	"ProjectForge/internal/domain/ratelimit"
	"ProjectForge/internal/service"
	"ProjectForge/pkg/api/response"
)

type Authenticator interface {
	Register(ctx context.Context, email, name, password string) (int64, error)
	Login(ctx context.Context, email, password, ip, userAgent string) (*service.TokenPair, error)
	Refresh(ctx context.Context, refreshToken, ip, userAgent string) (*service.TokenPair, error)
	Logout(ctx context.Context, userID int64, accessToken, refreshToken string) error
	ParseRefreshTokenUserID(tokenString string) (int64, error)
}

type AuthHandler struct {
	auth          Authenticator
	limiter       ratelimit.Limiter
	loginPolicy   config.Policy
	refreshPolicy config.Policy
	logger        *slog.Logger
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Name     string `json:"name" validate:"required,max=100"`
	Password string `json:"password" validate:"required,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type registerResponse struct {
	Status string `json:"status"`
	ID     int64  `json:"id"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func NewAuthHandler(auth Authenticator, limiter ratelimit.Limiter, rl config.RateLimitConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:          auth,
		limiter:       limiter,
		loginPolicy:   rl.Login,
		refreshPolicy: rl.Refresh,
		logger:        logger,
	}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	ctx, cancel := contextWithTimeout(r, requestTimeout)
	defer cancel()

	id, err := h.auth.Register(ctx, req.Email, req.Name, req.Password)
	if mapServiceError(w, err) {
		return
	}

	w.Header().Set("Location", "/api/v1/profile")
	response.JSON(w, http.StatusCreated, registerResponse{Status: "ok", ID: id})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	key := "login:" + service.NormalizeEmail(req.Email)
	if !checkLimit(w, r, h.limiter, h.logger, key, h.loginPolicy.Limit, h.loginPolicy.WindowSeconds, "too many requests") {
		return
	}

	ctx, cancel := contextWithTimeout(r, requestTimeout)
	defer cancel()

	pair, err := h.auth.Login(ctx, req.Email, req.Password, clientIP(r), r.UserAgent())
	if err != nil {
		if !errors.Is(err, service.ErrInvalidCredentials) && h.logger != nil {
			h.logger.Error("login", "err", err)
		}
		response.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	response.JSON(w, http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	userID, err := h.auth.ParseRefreshTokenUserID(req.RefreshToken)
	if err != nil {
		response.Error(w, http.StatusUnauthorized, "invalid token")
		return
	}

	key := "refresh:" + intToString(userID)
	if !checkLimit(w, r, h.limiter, h.logger, key, h.refreshPolicy.Limit, h.refreshPolicy.WindowSeconds, "too many requests") {
		return
	}

	ctx, cancel := contextWithTimeout(r, requestTimeout)
	defer cancel()

	pair, err := h.auth.Refresh(ctx, req.RefreshToken, clientIP(r), r.UserAgent())
	if err != nil {
		if !errors.Is(err, service.ErrTokenReuse) && !errors.Is(err, service.ErrInvalidToken) && h.logger != nil {
			h.logger.Error("refresh", "err", err)
		}
		response.Error(w, http.StatusUnauthorized, "invalid token")
		return
	}

	response.JSON(w, http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}
	access, _ := middlewarex.BearerToken(r)

	var req refreshRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	ctx, cancel := contextWithTimeout(r, requestTimeout)
	defer cancel()

	err := h.auth.Logout(ctx, userID, access, req.RefreshToken)
	if errors.Is(err, service.ErrInvalidToken) {
		response.Error(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if err != nil {
		if h.logger != nil {
			h.logger.Error("logout", "user_id", userID, "err", err)
		}
		response.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	response.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

// clientIP is recorded on sessions for auditing only.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
