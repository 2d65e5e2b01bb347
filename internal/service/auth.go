package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"ProjectForge/internal/config"
	"ProjectForge/internal/repository"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenReuse         = errors.New("token reuse")
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

type AuthService struct {
	users     UserStore
	sessions  SessionStore
	blacklist TokenBlacklist
	metrics   AuthMetrics
	cfg       config.Config
	logger    *slog.Logger
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

type TokenClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

type UserStore interface {
	Create(ctx context.Context, email, name, passwordHash string) (int64, error)
	GetByEmail(ctx context.Context, email string) (*repository.User, error)
}

type SessionStore interface {
	Create(ctx context.Context, s *repository.Session) (int64, error)
	GetByTokenHashForUpdate(ctx context.Context, tx *sqlx.Tx, tokenHash string) (*repository.Session, error)
	RevokeForUser(ctx context.Context, userID int64, tokenHash string, revokedAt time.Time) (bool, error)
	RevokeAllByUser(ctx context.Context, userID int64, revokedAt time.Time) error
	WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error
	CreateWithTx(ctx context.Context, tx *sqlx.Tx, s *repository.Session) (int64, error)
	RevokeWithTx(ctx context.Context, tx *sqlx.Tx, tokenHash string, revokedAt time.Time) error
}

type TokenBlacklist interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
}

type AuthMetrics interface {
	IncAuthEvent(event string)
}

func NewAuthService(users UserStore, sessions SessionStore, blacklist TokenBlacklist, cfg config.Config, logger *slog.Logger, metrics AuthMetrics) (*AuthService, error) {
	if len(cfg.JWT.Secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 bytes")
	}
	if cfg.Auth.BcryptCost < 10 || cfg.Auth.BcryptCost > 14 {
		return nil, errors.New("bcrypt cost must be between 10 and 14")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{users: users, sessions: sessions, blacklist: blacklist, metrics: metrics, cfg: cfg, logger: logger}, nil
}

// NormalizeEmail is the canonical form used for storage, lookups and the
// login rate limit key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *AuthService) Register(ctx context.Context, email, name, password string) (int64, error) {
	email = NormalizeEmail(email)
	name = strings.TrimSpace(name)
	if err := validateEmail(email); err != nil {
		return 0, err
	}
	if err := validateName(name); err != nil {
		return 0, err
	}
	if err := validatePassword(password); err != nil {
		return 0, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.Auth.BcryptCost)
	if err != nil {
		return 0, err
	}
	id, err := s.users.Create(ctx, email, name, string(hash))
	if err != nil {
		if isDuplicateKey(err) {
			return 0, ErrConflict
		}
		return 0, err
	}
	s.incEvent("register")
	return id, nil
}

func (s *AuthService) Login(ctx context.Context, email, password, ip, userAgent string) (*TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil || user == nil {
		s.incEvent("login_failed")
		return nil, ErrInvalidCredentials
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		s.incEvent("login_failed")
		return nil, ErrInvalidCredentials
	}

	pair, err := s.newTokenPair(user.ID)
	if err != nil {
		return nil, err
	}

	if err := s.createSession(ctx, user.ID, pair.RefreshToken, ip, userAgent); err != nil {
		return nil, err
	}

	s.incEvent("login")
	s.logger.Info("auth_event",
		"event", "login",
		"user_id", user.ID,
		"ip", ip,
		"user_agent", userAgent,
	)

	return pair, nil
}

// Refresh rotates a refresh token. Presenting an already revoked token
// revokes every session of its user.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, ip, userAgent string) (*TokenPair, error) {
	userID, err := s.ParseRefreshTokenUserID(refreshToken)
	if err != nil {
		return nil, err
	}

	hash := hashToken(refreshToken)
	now := time.Now().UTC()

	var newPair *TokenPair
	var newID int64

	err = s.sessions.WithTx(ctx, func(tx *sqlx.Tx) error {
		session, err := s.sessions.GetByTokenHashForUpdate(ctx, tx, hash)
		if err != nil {
			return err
		}
		if session == nil || session.UserID != userID {
			return ErrInvalidToken
		}
		if session.RevokedAt != nil {
			return ErrTokenReuse
		}
		if session.ExpiresAt.Before(now) {
			return ErrInvalidToken
		}

		newPair, err = s.newTokenPair(userID)
		if err != nil {
			return err
		}

		if err := s.sessions.RevokeWithTx(ctx, tx, hash, now); err != nil {
			return err
		}

		newID, err = s.sessions.CreateWithTx(ctx, tx, &repository.Session{
			UserID:    userID,
			TokenHash: hashToken(newPair.RefreshToken),
			ExpiresAt: now.Add(s.cfg.JWT.RefreshTTL),
			UserAgent: nullableString(userAgent),
			IP:        nullableString(ip),
		})
		return err
	})
	if errors.Is(err, ErrTokenReuse) {
		s.incEvent("refresh_reuse")
		s.logger.Warn("auth_event", "event", "refresh_reuse", "user_id", userID, "ip", ip, "user_agent", userAgent)
		if rerr := s.sessions.RevokeAllByUser(ctx, userID, now); rerr != nil {
			s.logger.Error("revoke sessions after reuse", "user_id", userID, "err", rerr)
		}
		return nil, ErrTokenReuse
	}
	if err != nil {
		return nil, err
	}

	s.incEvent("refresh")
	s.logger.Debug("auth_event",
		"event", "refresh",
		"session_id", newID,
		"user_id", userID,
		"ip", ip,
		"user_agent", userAgent,
	)

	return newPair, nil
}

// Logout revokes the refresh session and blacklists the access token until
// it would have expired anyway.
func (s *AuthService) Logout(ctx context.Context, userID int64, accessToken, refreshToken string) error {
	refreshUserID, err := s.ParseRefreshTokenUserID(refreshToken)
	if err != nil || refreshUserID != userID {
		return ErrInvalidToken
	}

	now := time.Now().UTC()
	if _, err := s.sessions.RevokeForUser(ctx, userID, hashToken(refreshToken), now); err != nil {
		return err
	}

	claims, err := s.parseToken(accessToken, TokenTypeAccess)
	if err == nil && claims.ExpiresAt != nil && s.blacklist != nil {
		ttl := claims.ExpiresAt.Time.Sub(now)
		if err := s.blacklist.Revoke(ctx, claims.ID, ttl); err != nil {
			return fmt.Errorf("blacklist access token: %w", err)
		}
	}

	s.incEvent("logout")
	s.logger.Info("auth_event", "event", "logout", "user_id", userID)
	return nil
}

func (s *AuthService) newTokenPair(userID int64) (*TokenPair, error) {
	access, err := s.newToken(userID, TokenTypeAccess, s.cfg.JWT.AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.newToken(userID, TokenTypeRefresh, s.cfg.JWT.RefreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *AuthService) newToken(userID int64, typ string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := TokenClaims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    s.cfg.JWT.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(s.cfg.JWT.Secret))
}

func (s *AuthService) parseToken(tokenString, expectedType string) (*TokenClaims, error) {
	parser := jwt.NewParser(jwt.WithLeeway(s.cfg.JWT.ClockSkew))
	claims := &TokenClaims{}

	tok, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return []byte(s.cfg.JWT.Secret), nil
	})
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != expectedType {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != s.cfg.JWT.Issuer {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseAccessTokenCtx validates an access token and checks the blacklist.
// A blacklist outage does not lock users out.
func (s *AuthService) ParseAccessTokenCtx(ctx context.Context, tokenString string) (int64, error) {
	claims, err := s.parseToken(tokenString, TokenTypeAccess)
	if err != nil {
		return 0, ErrInvalidToken
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	if s.blacklist != nil {
		revoked, err := s.blacklist.IsRevoked(ctx, claims.ID)
		if err != nil {
			s.logger.Warn("blacklist check failed", "user_id", userID, "err", err)
		} else if revoked {
			return 0, ErrInvalidToken
		}
	}
	return userID, nil
}

func (s *AuthService) ParseRefreshTokenUserID(tokenString string) (int64, error) {
	claims, err := s.parseToken(tokenString, TokenTypeRefresh)
	if err != nil {
		return 0, ErrInvalidToken
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return userID, nil
}

func (s *AuthService) createSession(ctx context.Context, userID int64, refreshToken, ip, userAgent string) error {
	session := &repository.Session{
		UserID:    userID,
		TokenHash: hashToken(refreshToken),
		ExpiresAt: time.Now().UTC().Add(s.cfg.JWT.RefreshTTL),
		UserAgent: nullableString(userAgent),
		IP:        nullableString(ip),
	}
	id, err := s.sessions.Create(ctx, session)
	if err != nil {
		return err
	}
	s.logger.Debug("auth_event",
		"event", "session_created",
		"session_id", id,
		"user_id", userID,
	)
	return nil
}

func (s *AuthService) incEvent(event string) {
	if s.metrics != nil {
		s.metrics.IncAuthEvent(event)
	}
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func validateEmail(email string) error {
	if len(email) > 255 || !emailRegex.MatchString(email) {
		return fmt.Errorf("%w: invalid email", ErrBadRequest)
	}
	return nil
}

func validateName(name string) error {
	if n := utf8.RuneCountInString(name); n < 1 || n > 100 {
		return fmt.Errorf("%w: invalid name", ErrBadRequest)
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 10 {
		return fmt.Errorf("%w: invalid password", ErrBadRequest)
	}
	hasLetter := false
	hasDigit := false
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			hasLetter = true
		case r >= '0' && r <= '9':
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return fmt.Errorf("%w: invalid password", ErrBadRequest)
	}
	return nil
}
