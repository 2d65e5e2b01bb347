package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"ProjectForge/internal/config"
	"ProjectForge/internal/domain/ratelimit"
	limiterinfra "ProjectForge/internal/infra/ratelimit"
	"ProjectForge/internal/repository"
	"ProjectForge/internal/service"
)

const testToken = "good-token"

type fakeTokens struct{}

func (fakeTokens) ParseAccessTokenCtx(_ context.Context, token string) (int64, error) {
	if token == testToken {
		return 7, nil
	}
	return 0, service.ErrInvalidToken
}

type fakeAuth struct {
	register func(email, name, password string) (int64, error)
	login    func(email, password string) (*service.TokenPair, error)
	refresh  func(token string) (*service.TokenPair, error)
	logout   func(userID int64, access, refresh string) error
	parse    func(token string) (int64, error)
}

func (f *fakeAuth) Register(_ context.Context, email, name, password string) (int64, error) {
	return f.register(email, name, password)
}

func (f *fakeAuth) Login(_ context.Context, email, password, _, _ string) (*service.TokenPair, error) {
	return f.login(email, password)
}

func (f *fakeAuth) Refresh(_ context.Context, token, _, _ string) (*service.TokenPair, error) {
	return f.refresh(token)
}

func (f *fakeAuth) Logout(_ context.Context, userID int64, access, refresh string) error {
	return f.logout(userID, access, refresh)
}

func (f *fakeAuth) ParseRefreshTokenUserID(token string) (int64, error) {
	return f.parse(token)
}

type fakeProjects struct {
	create func(userID int64, in service.ProjectInput) (*repository.Project, error)
	list   func(userID int64, q string) ([]repository.Project, error)
	get    func(userID int64, id string) (*repository.Project, []repository.Message, error)
	update func(userID int64, id string, patch service.ProjectPatch) (*repository.Project, error)
	del    func(userID int64, id string) error
}

func (f *fakeProjects) Create(_ context.Context, userID int64, in service.ProjectInput) (*repository.Project, error) {
	return f.create(userID, in)
}

func (f *fakeProjects) List(_ context.Context, userID int64, q string) ([]repository.Project, error) {
	return f.list(userID, q)
}

func (f *fakeProjects) Get(_ context.Context, userID int64, id string) (*repository.Project, []repository.Message, error) {
	return f.get(userID, id)
}

func (f *fakeProjects) Update(_ context.Context, userID int64, id string, patch service.ProjectPatch) (*repository.Project, error) {
	return f.update(userID, id, patch)
}

func (f *fakeProjects) Delete(_ context.Context, userID int64, id string) error {
	return f.del(userID, id)
}

type fakeChat struct {
	list func(userID int64, projectID string) ([]repository.Message, error)
	send func(userID int64, projectID, content string) (string, error)
}

func (f *fakeChat) ListMessages(_ context.Context, userID int64, projectID string) ([]repository.Message, error) {
	return f.list(userID, projectID)
}

func (f *fakeChat) Send(_ context.Context, userID int64, projectID, content string) (string, error) {
	return f.send(userID, projectID, content)
}

type fakeProfiles struct {
	profile      func(userID int64) (*repository.User, error)
	update       func(userID int64, patch service.ProfilePatch) (*repository.User, error)
	settings     func(userID int64) (repository.Settings, error)
	saveSettings func(userID int64, in service.SettingsInput) (repository.Settings, error)
}

func (f *fakeProfiles) Profile(_ context.Context, userID int64) (*repository.User, error) {
	return f.profile(userID)
}

func (f *fakeProfiles) UpdateProfile(_ context.Context, userID int64, patch service.ProfilePatch) (*repository.User, error) {
	return f.update(userID, patch)
}

func (f *fakeProfiles) Settings(_ context.Context, userID int64) (repository.Settings, error) {
	return f.settings(userID)
}

func (f *fakeProfiles) SaveSettings(_ context.Context, userID int64, in service.SettingsInput) (repository.Settings, error) {
	return f.saveSettings(userID, in)
}

// keyRecorder remembers every key checked by the wrapped limiter.
type keyRecorder struct {
	next ratelimit.Limiter
	mu   sync.Mutex
	keys []string
}

func (k *keyRecorder) Check(ctx context.Context, key string, limit, windowSeconds int) (ratelimit.Result, error) {
	k.mu.Lock()
	k.keys = append(k.keys, key)
	k.mu.Unlock()
	return k.next.Check(ctx, key, limit, windowSeconds)
}

func (k *keyRecorder) seen(key string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	n := 0
	for _, got := range k.keys {
		if got == key {
			n++
		}
	}
	return n
}

func testConfig() *config.Config {
	return &config.Config{
		HTTP: config.HTTPConfig{Addr: ":0"},
		RateLimit: config.RateLimitConfig{
			PerMinute:     100,
			ProjectCreate: config.Policy{Limit: 10, WindowSeconds: 60},
			Generate:      config.Policy{Limit: 5, WindowSeconds: 60},
			Login:         config.Policy{Limit: 5, WindowSeconds: 60},
			Refresh:       config.Policy{Limit: 20, WindowSeconds: 60},
		},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func panicAuth() *fakeAuth {
	fail := func() { panic("unexpected auth call") }
	return &fakeAuth{
		register: func(string, string, string) (int64, error) { fail(); return 0, nil },
		login:    func(string, string) (*service.TokenPair, error) { fail(); return nil, nil },
		refresh:  func(string) (*service.TokenPair, error) { fail(); return nil, nil },
		logout:   func(int64, string, string) error { fail(); return nil },
		parse:    func(string) (int64, error) { return 0, service.ErrInvalidToken },
	}
}

type testServer struct {
	router  *Router
	limiter *keyRecorder
}

func newTestServer(t *testing.T, deps Deps) *testServer {
	t.Helper()
	rec := &keyRecorder{next: limiterinfra.NewFixedWindow(limiterinfra.NewMemoryStore(), true, testLogger(), nil)}
	deps.Limiter = rec
	if deps.Tokens == nil {
		deps.Tokens = fakeTokens{}
	}
	if deps.Auth == nil {
		deps.Auth = panicAuth()
	}
	if deps.Projects == nil {
		deps.Projects = &fakeProjects{}
	}
	if deps.Chat == nil {
		deps.Chat = &fakeChat{}
	}
	if deps.Profiles == nil {
		deps.Profiles = &fakeProfiles{}
	}
	return &testServer{router: New(testConfig(), testLogger(), deps), limiter: rec}
}

func (s *testServer) do(method, path, body string, authed bool) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	if authed {
		r.Header.Set("Authorization", "Bearer "+testToken)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	return w
}

var errBoom = errors.New("boom")
