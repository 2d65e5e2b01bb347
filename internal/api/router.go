package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	middlewarex "ProjectForge/internal/api/middleware"
	"ProjectForge/internal/config"
	"ProjectForge/internal/domain/ratelimit"
	metricsinfra "ProjectForge/internal/infra/metrics"
	"ProjectForge/pkg/api/response"
)

// ReadyCheck reports whether one dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

type Deps struct {
	Auth     Authenticator
	Tokens   middlewarex.TokenParser
	Projects ProjectManager
	Chat     Chat
	Profiles Profiles
	Limiter  ratelimit.Limiter
	Metrics  *metricsinfra.Metrics
	Ready    map[string]ReadyCheck

	// Idempotency may be nil.
	Idempotency *middlewarex.Idempotency
}

type Router struct {
	*chi.Mux
	Server *http.Server
	logger *slog.Logger
	cfg    *config.Config
}

func New(cfg *config.Config, logger *slog.Logger, deps Deps) *Router {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middlewarex.SecurityHeaders)
	r.Use(middlewarex.Logger(logger))
	r.Use(middlewarex.Metrics(deps.Metrics))

	authHandler := NewAuthHandler(deps.Auth, deps.Limiter, cfg.RateLimit, logger)
	projectHandler := NewProjectHandler(deps.Projects, deps.Chat, deps.Limiter, cfg.RateLimit, logger)
	profileHandler := NewProfileHandler(deps.Profiles, logger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/ready", readyHandler(deps.Ready, logger))
	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/refresh", authHandler.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(middlewarex.AuthMiddleware(deps.Tokens))
			r.Use(middlewarex.UserRateLimit(deps.Limiter, cfg.RateLimit.PerMinute, logger))

			r.Post("/logout", authHandler.Logout)

			r.Get("/profile", profileHandler.GetProfile)
			r.Patch("/profile", profileHandler.UpdateProfile)
			r.Get("/settings", profileHandler.GetSettings)
			r.Put("/settings", profileHandler.SaveSettings)

			r.Get("/projects", projectHandler.List)
			r.With(deps.Idempotency.Handler).Post("/projects", projectHandler.Create)
			r.Get("/projects/{id}", projectHandler.Get)
			r.Patch("/projects/{id}", projectHandler.Update)
			r.Delete("/projects/{id}", projectHandler.Delete)
			r.Get("/projects/{id}/messages", projectHandler.ListMessages)
			r.With(deps.Idempotency.Handler).Post("/projects/{id}/messages", projectHandler.SendMessage)
		})
	})

	router := &Router{
		Mux:    r,
		logger: logger,
		cfg:    cfg,
	}

	router.Server = &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return router
}

func readyHandler(checks map[string]ReadyCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{}
		ok := true
		for name, check := range checks {
			if err := check(ctx); err != nil {
				ok = false
				status[name] = "down"
				if logger != nil {
					logger.Warn("readiness check failed", "check", name, "err", err)
				}
				continue
			}
			status[name] = "up"
		}
		if !ok {
			response.JSON(w, http.StatusServiceUnavailable, status)
			return
		}
		response.JSON(w, http.StatusOK, status)
	}
}
