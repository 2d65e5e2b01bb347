package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"ProjectForge/internal/config"
	"ProjectForge/internal/repository"
)

type fakeUsers struct {
	user      *repository.User
	createErr error
	getErr    error
}

func (f *fakeUsers) Create(ctx context.Context, email, name, passwordHash string) (int64, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.user = &repository.User{ID: 1, Email: email, Name: name, PasswordHash: passwordHash}
	return 1, nil
}

func (f *fakeUsers) GetByEmail(ctx context.Context, email string) (*repository.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.user != nil && f.user.Email == email {
		return f.user, nil
	}
	return nil, nil
}

type fakeSessions struct {
	sessions map[string]*repository.Session
	txErr    error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string]*repository.Session)}
}

func (f *fakeSessions) Create(ctx context.Context, s *repository.Session) (int64, error) {
	f.sessions[s.TokenHash] = s
	return int64(len(f.sessions)), nil
}

func (f *fakeSessions) CreateWithTx(ctx context.Context, _ *sqlx.Tx, s *repository.Session) (int64, error) {
	return f.Create(ctx, s)
}

func (f *fakeSessions) GetByTokenHashForUpdate(ctx context.Context, _ *sqlx.Tx, tokenHash string) (*repository.Session, error) {
	return f.sessions[tokenHash], nil
}

func (f *fakeSessions) RevokeWithTx(ctx context.Context, _ *sqlx.Tx, tokenHash string, revokedAt time.Time) error {
	if s := f.sessions[tokenHash]; s != nil {
		s.RevokedAt = &revokedAt
	}
	return nil
}

func (f *fakeSessions) RevokeForUser(ctx context.Context, userID int64, tokenHash string, revokedAt time.Time) (bool, error) {
	s := f.sessions[tokenHash]
	if s == nil || s.UserID != userID || s.RevokedAt != nil {
		return false, nil
	}
	s.RevokedAt = &revokedAt
	return true, nil
}

func (f *fakeSessions) RevokeAllByUser(ctx context.Context, userID int64, revokedAt time.Time) error {
	for _, s := range f.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			s.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (f *fakeSessions) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.txErr != nil {
		return f.txErr
	}
	return fn(nil)
}

func (f *fakeSessions) active(userID int64) int {
	n := 0
	for _, s := range f.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			n++
		}
	}
	return n
}

type fakeBlacklist struct {
	revoked map[string]time.Duration
	err     error
}

func newFakeBlacklist() *fakeBlacklist {
	return &fakeBlacklist{revoked: map[string]time.Duration{}}
}

func (b *fakeBlacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if b.err != nil {
		return false, b.err
	}
	_, ok := b.revoked[jti]
	return ok, nil
}

func (b *fakeBlacklist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if b.err != nil {
		return b.err
	}
	b.revoked[jti] = ttl
	return nil
}

type fakeMetrics struct {
	events map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{events: map[string]int{}}
}

func (m *fakeMetrics) IncAuthEvent(event string) {
	m.events[event]++
}

func baseConfig() config.Config {
	cfg := config.Config{}
	cfg.JWT.Secret = "change-me-please-change-me-please-32"
	cfg.JWT.AccessTTL = 15 * time.Minute
	cfg.JWT.RefreshTTL = 30 * 24 * time.Hour
	cfg.JWT.Issuer = "project-forge"
	cfg.JWT.ClockSkew = time.Minute
	cfg.Auth.BcryptCost = 10
	return cfg
}

type authFixture struct {
	auth      *AuthService
	users     *fakeUsers
	sessions  *fakeSessions
	blacklist *fakeBlacklist
	metrics   *fakeMetrics
}

func newAuthFixture(t *testing.T) authFixture {
	t.Helper()
	f := authFixture{users: &fakeUsers{}, sessions: newFakeSessions(), blacklist: newFakeBlacklist(), metrics: newFakeMetrics()}
	auth, err := NewAuthService(f.users, f.sessions, f.blacklist, baseConfig(), nil, f.metrics)
	if err != nil {
		t.Fatalf("auth init: %v", err)
	}
	f.auth = auth
	return f
}

func (f authFixture) registerAndLogin(t *testing.T) *TokenPair {
	t.Helper()
	if _, err := f.auth.Register(context.Background(), "u@test.com", "Ann", "Password123"); err != nil {
		t.Fatalf("register: %v", err)
	}
	pair, err := f.auth.Login(context.Background(), "u@test.com", "Password123", "1.2.3.4", "ua")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return pair
}

func TestNewAuthServiceValidation(t *testing.T) {
	cfg := baseConfig()
	cfg.JWT.Secret = "short"
	if _, err := NewAuthService(&fakeUsers{}, newFakeSessions(), nil, cfg, nil, nil); err == nil {
		t.Fatalf("expected error for short secret")
	}
	cfg = baseConfig()
	cfg.Auth.BcryptCost = 4
	if _, err := NewAuthService(&fakeUsers{}, newFakeSessions(), nil, cfg, nil, nil); err == nil {
		t.Fatalf("expected error for bcrypt cost")
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		valid    bool
	}{
		{name: "short", password: "short1", valid: false},
		{name: "no digit", password: "longpassword", valid: false},
		{name: "no letter", password: "1234567890", valid: false},
		{name: "valid", password: "Password123", valid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePassword(tt.password)
			if tt.valid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrBadRequest) {
				t.Fatalf("expected bad request, got %v", err)
			}
		})
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newAuthFixture(t)

	tests := []struct {
		name     string
		email    string
		userName string
		password string
		wantErr  bool
	}{
		{name: "bad email", email: "bad", userName: "Ann", password: "Password123", wantErr: true},
		{name: "empty name", email: "u@test.com", userName: "   ", password: "Password123", wantErr: true},
		{name: "bad password", email: "u@test.com", userName: "Ann", password: "short1", wantErr: true},
		{name: "ok", email: " U@Test.com ", userName: "Ann", password: "Password123", wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.auth.Register(context.Background(), tt.email, tt.userName, tt.password)
			if tt.wantErr && !errors.Is(err, ErrBadRequest) {
				t.Fatalf("expected bad request, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
	if f.users.user == nil || f.users.user.Email != "u@test.com" {
		t.Fatalf("email must be stored normalized, got %+v", f.users.user)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	users := &fakeUsers{createErr: &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}}
	auth, _ := NewAuthService(users, newFakeSessions(), nil, baseConfig(), nil, nil)

	_, err := auth.Register(context.Background(), "u@test.com", "Ann", "Password123")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	cases := []struct {
		name     string
		users    *fakeUsers
		email    string
		password string
	}{
		{name: "unknown user", users: &fakeUsers{}, email: "u@test.com", password: "Password123"},
		{name: "db error", users: &fakeUsers{getErr: errors.New("db down")}, email: "u@test.com", password: "Password123"},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			metrics := newFakeMetrics()
			auth, _ := NewAuthService(tt.users, newFakeSessions(), nil, baseConfig(), nil, metrics)
			_, err := auth.Login(context.Background(), tt.email, tt.password, "", "")
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("expected invalid credentials, got %v", err)
			}
			if metrics.events["login_failed"] != 1 {
				t.Fatalf("expected login_failed metric")
			}
		})
	}
}

func TestLoginBadPassword(t *testing.T) {
	f := newAuthFixture(t)
	f.registerAndLogin(t)

	_, err := f.auth.Login(context.Background(), "U@test.com", "Password999", "", "")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if f.metrics.events["login"] != 1 || f.metrics.events["login_failed"] != 1 {
		t.Fatalf("unexpected metrics %v", f.metrics.events)
	}
}

func TestRegisterLoginRefresh(t *testing.T) {
	f := newAuthFixture(t)
	pair := f.registerAndLogin(t)

	userID, err := f.auth.ParseAccessTokenCtx(context.Background(), pair.AccessToken)
	if err != nil || userID != 1 {
		t.Fatalf("access token userID=%d err=%v", userID, err)
	}

	next, err := f.auth.Refresh(context.Background(), pair.RefreshToken, "1.2.3.4", "ua")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatalf("refresh token must rotate")
	}
	if got := f.sessions.active(1); got != 1 {
		t.Fatalf("active sessions=%d want 1", got)
	}
	if f.metrics.events["refresh"] != 1 {
		t.Fatalf("expected refresh metric")
	}
}

func TestRefreshReuseRevokesAllSessions(t *testing.T) {
	f := newAuthFixture(t)
	pair := f.registerAndLogin(t)

	next, err := f.auth.Refresh(context.Background(), pair.RefreshToken, "", "")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	_, err = f.auth.Refresh(context.Background(), pair.RefreshToken, "", "")
	if !errors.Is(err, ErrTokenReuse) {
		t.Fatalf("expected token reuse, got %v", err)
	}
	if got := f.sessions.active(1); got != 0 {
		t.Fatalf("active sessions=%d want 0 after reuse", got)
	}
	if _, err := f.auth.Refresh(context.Background(), next.RefreshToken, "", ""); !errors.Is(err, ErrTokenReuse) {
		t.Fatalf("rotated token must be revoked too, got %v", err)
	}
}

func TestRefreshScenarios(t *testing.T) {
	f := newAuthFixture(t)
	pair, err := f.auth.newTokenPair(1)
	if err != nil {
		t.Fatalf("token pair: %v", err)
	}

	cases := []struct {
		name     string
		session  *repository.Session
		token    string
		expected error
	}{
		{
			name:     "unknown session",
			token:    pair.RefreshToken,
			expected: ErrInvalidToken,
		},
		{
			name:     "expired session",
			session:  &repository.Session{UserID: 1, TokenHash: hashToken(pair.RefreshToken), ExpiresAt: time.Now().Add(-time.Minute)},
			token:    pair.RefreshToken,
			expected: ErrInvalidToken,
		},
		{
			name:     "session of another user",
			session:  &repository.Session{UserID: 2, TokenHash: hashToken(pair.RefreshToken), ExpiresAt: time.Now().Add(time.Hour)},
			token:    pair.RefreshToken,
			expected: ErrInvalidToken,
		},
		{
			name:     "access token",
			token:    pair.AccessToken,
			expected: ErrInvalidToken,
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			f.sessions.sessions = make(map[string]*repository.Session)
			if tt.session != nil {
				f.sessions.sessions[tt.session.TokenHash] = tt.session
			}
			_, err := f.auth.Refresh(context.Background(), tt.token, "", "")
			if !errors.Is(err, tt.expected) {
				t.Fatalf("expected %v, got %v", tt.expected, err)
			}
		})
	}
}

func TestRefreshTxError(t *testing.T) {
	f := newAuthFixture(t)
	f.sessions.txErr = errors.New("db down")
	refresh, _ := f.auth.newToken(1, TokenTypeRefresh, time.Minute)

	if _, err := f.auth.Refresh(context.Background(), refresh, "", ""); err == nil || errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected db error, got %v", err)
	}
}

func TestLogout(t *testing.T) {
	f := newAuthFixture(t)
	pair := f.registerAndLogin(t)

	if err := f.auth.Logout(context.Background(), 1, pair.AccessToken, pair.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if got := f.sessions.active(1); got != 0 {
		t.Fatalf("active sessions=%d want 0", got)
	}
	if len(f.blacklist.revoked) != 1 {
		t.Fatalf("expected access token jti blacklisted")
	}
	for _, ttl := range f.blacklist.revoked {
		if ttl <= 0 || ttl > 15*time.Minute {
			t.Fatalf("blacklist ttl=%v", ttl)
		}
	}
	if _, err := f.auth.ParseAccessTokenCtx(context.Background(), pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("blacklisted token must be rejected, got %v", err)
	}
	if _, err := f.auth.Refresh(context.Background(), pair.RefreshToken, "", ""); !errors.Is(err, ErrTokenReuse) {
		t.Fatalf("logged out refresh token must not rotate, got %v", err)
	}
}

func TestLogoutForeignRefreshToken(t *testing.T) {
	f := newAuthFixture(t)
	pair := f.registerAndLogin(t)

	if err := f.auth.Logout(context.Background(), 2, pair.AccessToken, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
	if got := f.sessions.active(1); got != 1 {
		t.Fatalf("session must stay active")
	}
}

func TestParseAccessTokenBlacklistDown(t *testing.T) {
	f := newAuthFixture(t)
	pair := f.registerAndLogin(t)
	f.blacklist.err = errors.New("redis down")

	userID, err := f.auth.ParseAccessTokenCtx(context.Background(), pair.AccessToken)
	if err != nil || userID != 1 {
		t.Fatalf("blacklist outage must not reject tokens, userID=%d err=%v", userID, err)
	}
}

func TestParseAccessTokenScenarios(t *testing.T) {
	f := newAuthFixture(t)
	cfg := baseConfig()

	signed := func(method jwt.SigningMethod, key any, claims TokenClaims) string {
		str, _ := jwt.NewWithClaims(method, claims).SignedString(key)
		return str
	}
	claimsFor := func(typ, issuer, subject string) TokenClaims {
		return TokenClaims{
			Type: typ,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   subject,
				Issuer:    issuer,
				IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
				ExpiresAt: jwt.NewNumericDate(time.Now().UTC().Add(time.Minute)),
				ID:        uuid.NewString(),
			},
		}
	}

	cases := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{name: "valid", token: signed(jwt.SigningMethodHS256, []byte(cfg.JWT.Secret), claimsFor(TokenTypeAccess, cfg.JWT.Issuer, "7"))},
		{name: "wrong type", token: signed(jwt.SigningMethodHS256, []byte(cfg.JWT.Secret), claimsFor(TokenTypeRefresh, cfg.JWT.Issuer, "7")), wantErr: true},
		{name: "wrong issuer", token: signed(jwt.SigningMethodHS256, []byte(cfg.JWT.Secret), claimsFor(TokenTypeAccess, "other", "7")), wantErr: true},
		{name: "wrong secret", token: signed(jwt.SigningMethodHS256, []byte("another-secret-another-secret-123"), claimsFor(TokenTypeAccess, cfg.JWT.Issuer, "7")), wantErr: true},
		{name: "bad subject", token: signed(jwt.SigningMethodHS256, []byte(cfg.JWT.Secret), claimsFor(TokenTypeAccess, cfg.JWT.Issuer, "abc")), wantErr: true},
		{name: "garbage", token: "not-a-token", wantErr: true},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.auth.ParseAccessTokenCtx(context.Background(), tt.token)
			if tt.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestParseRefreshTokenUserID(t *testing.T) {
	f := newAuthFixture(t)

	refresh, err := f.auth.newToken(42, TokenTypeRefresh, time.Minute)
	if err != nil {
		t.Fatalf("newToken refresh: %v", err)
	}
	id, err := f.auth.ParseRefreshTokenUserID(refresh)
	if err != nil || id != 42 {
		t.Fatalf("id=%d err=%v", id, err)
	}

	access, _ := f.auth.newToken(42, TokenTypeAccess, time.Minute)
	if _, err := f.auth.ParseRefreshTokenUserID(access); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
