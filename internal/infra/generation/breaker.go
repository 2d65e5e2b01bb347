package generation

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sony/gobreaker"

	"ProjectForge/internal/config"
	metricsinfra "ProjectForge/internal/infra/metrics"
)

type Generator interface {
	Generate(ctx context.Context, message, projectPrompt string) (string, error)
}

type BreakerGenerator struct {
	next    Generator
	cb      *gobreaker.CircuitBreaker
	logger  *slog.Logger
	metrics *metricsinfra.Metrics
}

func NewBreakerGenerator(next Generator, cfg config.BreakerConfig, logger *slog.Logger, metrics *metricsinfra.Metrics) *BreakerGenerator {
	settings := gobreaker.Settings{
		Name:        "generation",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// a user leaving mid-generation says nothing about the backend
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	return &BreakerGenerator{next: next, cb: gobreaker.NewCircuitBreaker(settings), logger: logger, metrics: metrics}
}

func (g *BreakerGenerator) Generate(ctx context.Context, message, projectPrompt string) (string, error) {
	if g.next == nil {
		return "", errors.New("generator is nil")
	}

	v, err := g.cb.Execute(func() (any, error) {
		return g.next.Generate(ctx, message, projectPrompt)
	})
	g.observeState()
	if err != nil {
		if g.metrics != nil {
			g.metrics.GenerationErrors.Inc()
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				g.metrics.GenerationCircuitOpen.Inc()
			}
		}
		if g.logger != nil {
			g.logger.Warn("generation failed", "err", err)
		}
		return "", err
	}
	return v.(string), nil
}

func (g *BreakerGenerator) State() gobreaker.State {
	return g.cb.State()
}

func (g *BreakerGenerator) observeState() {
	if g.metrics == nil || g.cb == nil {
		return
	}
	switch g.cb.State() {
	case gobreaker.StateClosed:
		g.metrics.GenerationCircuitState.Set(0)
	case gobreaker.StateHalfOpen:
		g.metrics.GenerationCircuitState.Set(1)
	case gobreaker.StateOpen:
		g.metrics.GenerationCircuitState.Set(2)
	}
}
