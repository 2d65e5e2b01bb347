package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	middlewarex "ProjectForge/internal/api/middleware"
	"ProjectForge/internal/domain/ratelimit"
	"ProjectForge/internal/service"
	"ProjectForge/pkg/api/response"
)

const requestTimeout = 5 * time.Second

func mapServiceError(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, service.ErrNotFound):
		response.Error(w, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrForbidden):
		response.Error(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, service.ErrConflict):
		response.Error(w, http.StatusConflict, "conflict")
	case errors.Is(err, service.ErrBadRequest):
		response.Error(w, http.StatusBadRequest, badRequestMessage(err))
	case errors.Is(err, service.ErrUnavailable):
		response.Error(w, http.StatusServiceUnavailable, "generation unavailable")
	default:
		response.Error(w, http.StatusInternalServerError, "internal error")
	}
	return true
}

// badRequestMessage strips the sentinel prefix from "bad request: <detail>".
func badRequestMessage(err error) string {
	msg := err.Error()
	prefix := service.ErrBadRequest.Error() + ": "
	if i := strings.Index(msg, prefix); i >= 0 {
		return msg[i+len(prefix):]
	}
	return "invalid request"
}

// decodeAndValidate reads a JSON body into v and runs its validate tags.
// It writes the 400 response itself and reports whether decoding succeeded.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := decodeJSON(r, v); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request")
		return false
	}
	if err := validate.Struct(v); err != nil {
		response.Error(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// checkLimit applies one fixed-window policy to key and writes the 429 with
// msg when the call is rejected. It reports whether the handler may go on.
func checkLimit(w http.ResponseWriter, r *http.Request, limiter ratelimit.Limiter, logger *slog.Logger, key string, limit, windowSeconds int, msg string) bool {
	if limiter == nil {
		return true
	}
	res, err := limiter.Check(r.Context(), key, limit, windowSeconds)
	if err != nil {
		if logger != nil {
			logger.Error("rate limit check", "key", key, "err", err)
		}
		response.Error(w, http.StatusInternalServerError, "internal error")
		return false
	}
	if !middlewarex.WriteRateLimitHeaders(w, limit, res, time.Now()) {
		response.Error(w, http.StatusTooManyRequests, msg)
		return false
	}
	return true
}

func userIDFrom(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middlewarex.UserIDFromContext(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "unauthorized")
		return 0, false
	}
	return userID, true
}

func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}

func intToString(v int64) string {
	return strconv.FormatInt(v, 10)
}

func isClientError(err error) bool {
	return errors.Is(err, service.ErrNotFound) ||
		errors.Is(err, service.ErrForbidden) ||
		errors.Is(err, service.ErrConflict) ||
		errors.Is(err, service.ErrBadRequest)
}
