package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmoiron/sqlx"

	"ProjectForge/internal/api"
	middlewarex "ProjectForge/internal/api/middleware"
	"ProjectForge/internal/config"
	authinfra "ProjectForge/internal/infra/auth"
	ideminfra "ProjectForge/internal/infra/idempotency"
	metricsinfra "ProjectForge/internal/infra/metrics"
	limiterinfra "ProjectForge/internal/infra/ratelimit"
	redisinfra "ProjectForge/internal/infra/redis"
	"ProjectForge/internal/infra/redislock"
	"ProjectForge/internal/repository"
	"ProjectForge/internal/service"
	"ProjectForge/pkg/nethttp/runner"
)

type Application struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metricsinfra.Metrics
	db      *sqlx.DB
	redis   *redisinfra.Client
	router  *api.Router

	errChan chan error
	wg      sync.WaitGroup
	ready   bool
}

func New() *Application {
	return &Application{errChan: make(chan error)}
}

func (a *Application) Ready() bool {
	return a.ready
}

func (a *Application) Start(ctx context.Context, build string) error {
	if err := a.initCoreComponents(ctx); err != nil {
		return fmt.Errorf("initCoreComponents(): %w", err)
	}

	if err := a.initPublicRouter(ctx); err != nil {
		return fmt.Errorf("initPublicRouter(): %w", err)
	}

	a.logger.Info("application started",
		slog.String("build", build),
		slog.String("addr", a.cfg.HTTP.Addr),
		slog.String("rate_limit_store", a.cfg.RateLimit.Store),
		slog.Bool("rate_limit_strict", a.cfg.RateLimit.Strict),
	)
	a.ready = true
	return nil
}

func (a *Application) Wait(ctx context.Context, cancel context.CancelFunc) error {
	var appErr error

	errWg := sync.WaitGroup{}
	errWg.Add(1)

	go func() {
		defer errWg.Done()
		for err := range a.errChan {
			cancel()
			if err != nil {
				a.logger.Error("error in Wait", slog.String("error", err.Error()))
				appErr = err
			}
		}
	}()

	<-ctx.Done()
	a.wg.Wait()
	close(a.errChan)
	errWg.Wait()

	a.close()
	return appErr
}

func (a *Application) initCoreComponents(ctx context.Context) error {
	if err := a.initConfig(); err != nil {
		return fmt.Errorf("initConfig(): %w", err)
	}

	a.initLogger()
	a.metrics = metricsinfra.New()

	if err := a.initMySQL(); err != nil {
		return fmt.Errorf("initMySQL(): %w", err)
	}
	a.initRedis(ctx)
	return nil
}

func (a *Application) initConfig() error {
	cfg, err := config.New()
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func (a *Application) initLogger() {
	a.logger = NewLogger(a.cfg.Log.LevelStr)
}

func (a *Application) initMySQL() error {
	db, err := repository.NewMySQL(a.cfg.MySQL)
	if err != nil {
		return err
	}
	a.db = db
	return nil
}

// initRedis never fails: every Redis-backed component degrades on its own.
func (a *Application) initRedis(ctx context.Context) {
	a.redis = redisinfra.New(a.cfg.Redis)
	a.redis.WarnIfDown(ctx, a.logger)
}

func (a *Application) initPublicRouter(ctx context.Context) error {
	store, err := newLimiterStore(a.cfg.RateLimit, a.db, a.redis.Raw(), a.logger, a.metrics)
	if err != nil {
		return fmt.Errorf("limiter store: %w", err)
	}
	limiter := limiterinfra.NewFixedWindow(store, a.cfg.RateLimit.Strict, a.logger, a.metrics)

	users := repository.NewUserRepository(a.db)
	sessions := repository.NewSessionRepository(a.db)
	projects := repository.NewProjectRepository(a.db)
	messages := repository.NewMessageRepository(a.db)
	settings := repository.NewSettingsRepository(a.db)

	blacklist := authinfra.NewJWTBlacklist(a.redis.Raw(), a.logger, a.metrics)
	authService, err := service.NewAuthService(users, sessions, blacklist, *a.cfg, a.logger, a.metrics)
	if err != nil {
		return fmt.Errorf("auth service: %w", err)
	}

	idem := middlewarex.NewIdempotency(
		a.cfg.Idempotency,
		ideminfra.NewStore(a.redis.Raw()),
		redislock.New(a.redis.Raw(), a.logger, a.metrics),
		a.logger,
		a.metrics,
	)

	a.router = api.New(a.cfg, a.logger, api.Deps{
		Auth:        authService,
		Tokens:      authService,
		Projects:    service.NewProjectService(projects, messages, a.logger),
		Chat:        service.NewChatService(a.db, projects, messages, newGenerator(a.cfg.Generation, a.logger, a.metrics), a.logger),
		Profiles:    service.NewUserService(users, settings),
		Limiter:     limiter,
		Metrics:     a.metrics,
		Idempotency: idem,
		Ready: map[string]api.ReadyCheck{
			"mysql": a.db.PingContext,
			"redis": a.redis.Ping,
		},
	})

	return runner.RunServer(ctx, a.router.Server, a.cfg.HTTP.Addr, a.errChan, &a.wg, a.cfg.HTTP.ShutdownTimeout)
}

func (a *Application) close() {
	if err := a.redis.Close(); err != nil {
		a.logger.Warn("close redis", "err", err)
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close mysql", "err", err)
		}
	}
}
