package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"ProjectForge/internal/domain/ratelimit"
	"ProjectForge/pkg/api/response"
)

// UserRateLimit allows each authenticated user perMinute requests per fixed
// minute window, counted under "api:<userID>".
func UserRateLimit(limiter ratelimit.Limiter, perMinute int, logger *slog.Logger) func(http.Handler) http.Handler {
	if limiter == nil || perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserIDFromContext(r.Context())
			if !ok {
				if logger != nil {
					logger.Error("internal auth context missing")
				}
				response.Error(w, http.StatusInternalServerError, "internal error")
				return
			}

			res, err := limiter.Check(r.Context(), "api:"+strconv.FormatInt(userID, 10), perMinute, 60)
			if err != nil {
				if logger != nil {
					logger.Error("api rate limit check", "err", err)
				}
				response.Error(w, http.StatusInternalServerError, "internal error")
				return
			}
			if !WriteRateLimitHeaders(w, perMinute, res, time.Now()) {
				response.Error(w, http.StatusTooManyRequests, "too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WriteRateLimitHeaders sets the X-RateLimit-* headers for res, plus
// Retry-After when res was rejected. It returns res.Allowed.
func WriteRateLimitHeaders(w http.ResponseWriter, limit int, res ratelimit.Result, now time.Time) bool {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	if res.Allowed {
		return true
	}
	secs := int(math.Ceil(res.RetryAfter(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	h.Set("Retry-After", strconv.Itoa(secs))
	return false
}
