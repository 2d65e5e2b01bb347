package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Registry               *prometheus.Registry
	HTTPRequests           *prometheus.CounterVec
	HTTPDuration           *prometheus.HistogramVec
	HTTPInFlight           prometheus.Gauge
	HTTPErrors             *prometheus.CounterVec
	RedisDegraded          *prometheus.CounterVec
	AuthEvents             *prometheus.CounterVec
	RateLimitDecisions     *prometheus.CounterVec
	RateLimitStoreErrors   *prometheus.CounterVec
	RateLimitCircuitState  prometheus.Gauge
	GenerationErrors       prometheus.Counter
	GenerationCircuitOpen  prometheus.Counter
	GenerationCircuitState prometheus.Gauge
	IdempotencyHits        prometheus.Counter
	IdempotencyConflict    prometheus.Counter
	IdempotencyBypass      *prometheus.CounterVec
	LockReleaseErrors      prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "code"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_in_flight_requests",
				Help: "Number of in-flight HTTP requests.",
			},
		),
		HTTPErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_errors_total",
				Help: "Total number of HTTP 5xx errors.",
			},
			[]string{"method", "path", "code"},
		),
		RedisDegraded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redis_degraded_total",
				Help: "Total number of Redis degradation events.",
			},
			[]string{"component"},
		),
		AuthEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_events_total",
				Help: "Total number of auth events.",
			},
			[]string{"event"},
		),
		RateLimitDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_decisions_total",
				Help: "Rate limiter decisions by outcome.",
			},
			[]string{"outcome"},
		),
		RateLimitStoreErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_store_errors_total",
				Help: "Rate limiter store errors by operation.",
			},
			[]string{"op"},
		),
		RateLimitCircuitState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rate_limit_store_circuit_state",
				Help: "Rate limit store circuit breaker state: 0=closed,1=half_open,2=open.",
			},
		),
		GenerationErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "generation_errors_total",
				Help: "Total number of generation backend errors.",
			},
		),
		GenerationCircuitOpen: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "generation_circuit_open_total",
				Help: "Total number of calls rejected by the open generation circuit.",
			},
		),
		GenerationCircuitState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "generation_circuit_state",
				Help: "Generation circuit breaker state: 0=closed,1=half_open,2=open.",
			},
		),
		IdempotencyHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "idempotency_hits_total",
				Help: "Total number of replayed idempotent responses.",
			},
		),
		IdempotencyConflict: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "idempotency_conflicts_total",
				Help: "Total number of idempotency keys reused with a different payload.",
			},
		),
		IdempotencyBypass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idempotency_bypass_total",
				Help: "Requests with an idempotency key served without replay protection.",
			},
			[]string{"reason"},
		),
		LockReleaseErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "redis_lock_release_errors_total",
				Help: "Total number of failed Redis lock releases.",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.HTTPInFlight,
		m.HTTPErrors,
		m.RedisDegraded,
		m.AuthEvents,
		m.RateLimitDecisions,
		m.RateLimitStoreErrors,
		m.RateLimitCircuitState,
		m.GenerationErrors,
		m.GenerationCircuitOpen,
		m.GenerationCircuitState,
		m.IdempotencyHits,
		m.IdempotencyConflict,
		m.IdempotencyBypass,
		m.LockReleaseErrors,
	)

	return m
}

func (m *Metrics) IncAuthEvent(event string) {
	if m == nil {
		return
	}
	m.AuthEvents.WithLabelValues(event).Inc()
}
