package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	metricsinfra "ProjectForge/internal/infra/metrics"
)

// Metrics records request counts and latency labelled by route pattern, so
// project ids never become label values.
func Metrics(m *metricsinfra.Metrics) func(http.Handler) http.Handler {
	if m == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.HTTPInFlight.Inc()
			defer m.HTTPInFlight.Dec()

			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			status := sw.status
			if status == 0 {
				status = http.StatusOK
			}
			path := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				path = rc.RoutePattern()
			}

			code := strconv.Itoa(status)
			m.HTTPRequests.WithLabelValues(r.Method, path, code).Inc()
			m.HTTPDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
			if status >= http.StatusInternalServerError {
				m.HTTPErrors.WithLabelValues(r.Method, path, code).Inc()
			}
		})
	}
}
