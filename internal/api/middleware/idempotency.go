package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"ProjectForge/internal/config"
	ideminfra "ProjectForge/internal/infra/idempotency"
	metricsinfra "ProjectForge/internal/infra/metrics"
	"ProjectForge/pkg/api/response"
)

const maxIdempotencyKeyLen = 128

type IdemStore interface {
	Available() bool
	Get(ctx context.Context, key string) (*ideminfra.StoredResponse, bool, error)
	Set(ctx context.Context, key string, ttl time.Duration, v ideminfra.StoredResponse) error
}

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// Idempotency replays the stored response of an authenticated POST that
// carries an Idempotency-Key already seen for the same user and route.
// Replays never reach the handler, so they do not spend rate limit quota.
// Without Redis requests go through unprotected.
type Idempotency struct {
	disabled    bool
	store       IdemStore
	locker      Locker
	lockTTL     time.Duration
	responseTTL time.Duration
	logger      *slog.Logger
	metrics     *metricsinfra.Metrics
}

func NewIdempotency(cfg config.IdempotencyConfig, store IdemStore, locker Locker, logger *slog.Logger, metrics *metricsinfra.Metrics) *Idempotency {
	return &Idempotency{
		disabled:    cfg.Disabled,
		store:       store,
		locker:      locker,
		lockTTL:     cfg.LockTTL,
		responseTTL: cfg.ResponseTTL,
		logger:      logger,
		metrics:     metrics,
	}
}

func (m *Idempotency) Handler(next http.Handler) http.Handler {
	if m == nil || m.disabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if r.Method != http.MethodPost || idemKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(idemKey) > maxIdempotencyKeyLen {
			response.Error(w, http.StatusBadRequest, "idempotency key too long")
			return
		}

		userID, ok := UserIDFromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		routePattern := routePattern(r)
		if routePattern == "" || m.store == nil || !m.store.Available() || m.locker == nil {
			m.bypass("unavailable")
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "invalid request")
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		reqHash := ideminfra.RequestHash(r.Method, routePattern, r.Header.Get("Content-Type"), r.URL.Query(), body)
		responseKey := ideminfra.ResponseKey(userID, routePattern, idemKey)

		cached, found, err := m.store.Get(r.Context(), responseKey)
		if err != nil {
			m.onRedisError(err, "store_get_error")
			next.ServeHTTP(w, r)
			return
		}
		if found {
			m.replay(w, cached, reqHash)
			return
		}

		lockKey := ideminfra.LockKey(userID, routePattern, idemKey)
		lockToken, ok, err := m.locker.Acquire(r.Context(), lockKey, m.lockTTL)
		if err != nil {
			m.onRedisError(err, "lock_acquire_error")
			next.ServeHTTP(w, r)
			return
		}
		if !ok {
			response.Error(w, http.StatusConflict, "request already in progress")
			return
		}
		defer m.release(lockKey, lockToken)

		rec := &replayRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if !ideminfra.Replayable(rec.status) {
			return
		}
		stored := ideminfra.StoredResponse{
			Status:      rec.status,
			Body:        rec.body.Bytes(),
			ContentType: rec.contentType,
			Headers:     rec.replayHeaders,
			RequestHash: reqHash,
			CreatedAt:   time.Now().UTC().Unix(),
		}
		if err := m.store.Set(r.Context(), responseKey, m.responseTTL, stored); err != nil {
			m.onRedisError(err, "store_set_error")
		}
	})
}

func (m *Idempotency) replay(w http.ResponseWriter, sr *ideminfra.StoredResponse, reqHash string) {
	if sr.RequestHash != reqHash {
		if m.metrics != nil {
			m.metrics.IdempotencyConflict.Inc()
		}
		response.Error(w, http.StatusConflict, "idempotency key reused with different payload")
		return
	}
	if m.metrics != nil {
		m.metrics.IdempotencyHits.Inc()
	}
	if sr.ContentType != "" {
		w.Header().Set("Content-Type", sr.ContentType)
	}
	for k, v := range sr.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(sr.Status)
	_, _ = w.Write(sr.Body)
}

func (m *Idempotency) release(key, token string) {
	if err := m.locker.Release(context.Background(), key, token); err != nil {
		if m.logger != nil {
			m.logger.Warn("idempotency lock release failed", "err", err)
		}
		if m.metrics != nil {
			m.metrics.LockReleaseErrors.Inc()
		}
	}
}

func (m *Idempotency) onRedisError(err error, reason string) {
	if m.logger != nil {
		m.logger.Warn("idempotency redis error, bypassing", "err", err, "reason", reason)
	}
	if m.metrics != nil {
		m.metrics.RedisDegraded.WithLabelValues("idempotency").Inc()
	}
	m.bypass(reason)
}

func (m *Idempotency) bypass(reason string) {
	if m.metrics != nil {
		m.metrics.IdempotencyBypass.WithLabelValues(reason).Inc()
	}
}

func routePattern(r *http.Request) string {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return ""
	}
	return rc.RoutePattern()
}

// replayRecorder copies the response while passing it through.
type replayRecorder struct {
	http.ResponseWriter
	status        int
	body          bytes.Buffer
	wroteHeader   bool
	contentType   string
	replayHeaders map[string]string
}

func (r *replayRecorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.status = code
	r.wroteHeader = true
	h := r.ResponseWriter.Header()
	r.contentType = h.Get("Content-Type")
	if loc := h.Get("Location"); loc != "" {
		r.replayHeaders = map[string]string{"Location": loc}
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *replayRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}
