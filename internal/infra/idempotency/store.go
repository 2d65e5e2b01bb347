package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "pf:idem:"

// StoredResponse is a finished response kept for replay under its key.
type StoredResponse struct {
	Status      int               `json:"status"`
	Body        []byte            `json:"body"`
	ContentType string            `json:"content_type"`
	Headers     map[string]string `json:"headers,omitempty"`
	RequestHash string            `json:"request_hash"`
	CreatedAt   int64             `json:"created_at"`
}

// Store keeps responses as JSON strings in Redis. A Store without a client
// finds nothing and stores nothing.
type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Available() bool {
	return s != nil && s.client != nil
}

func (s *Store) Get(ctx context.Context, key string) (*StoredResponse, bool, error) {
	if !s.Available() {
		return nil, false, nil
	}
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var out StoredResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, err
	}
	return &out, true, nil
}

func (s *Store) Set(ctx context.Context, key string, ttl time.Duration, v StoredResponse) error {
	if !s.Available() {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, raw, ttl).Err()
}

// ResponseKey scopes an Idempotency-Key to one user and one route.
func ResponseKey(userID int64, routePattern, idemKey string) string {
	return keyPrefix + "resp:" + strconv.FormatInt(userID, 10) + ":" + routeHash(routePattern) + ":" + idemKey
}

func LockKey(userID int64, routePattern, idemKey string) string {
	return keyPrefix + "lock:" + strconv.FormatInt(userID, 10) + ":" + routeHash(routePattern) + ":" + idemKey
}

// RequestHash fingerprints a request so a key reused with another payload
// can be told apart from a retry. JSON bodies are compared by value.
func RequestHash(method, routePattern, contentType string, query url.Values, body []byte) string {
	contentType = strings.TrimSpace(strings.ToLower(strings.Split(contentType, ";")[0]))
	parts := []string{
		strings.ToUpper(strings.TrimSpace(method)),
		strings.TrimSpace(routePattern),
		contentType,
		canonicalQuery(query),
		canonicalJSON(body),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(sum[:])
}

func routeHash(routePattern string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(routePattern)))
	return hex.EncodeToString(sum[:8])
}

func canonicalQuery(v url.Values) string {
	if len(v) == 0 {
		return ""
	}
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		vals := append([]string(nil), v[k]...)
		sort.Strings(vals)
		for _, one := range vals {
			parts = append(parts, k+"="+one)
		}
	}
	return strings.Join(parts, "&")
}

func canonicalJSON(raw []byte) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return ""
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return trimmed
	}
	b, err := json.Marshal(v)
	if err != nil {
		return trimmed
	}
	return string(b)
}

// Replayable reports whether a response with status may be replayed.
// Rate limiting, auth failures and server errors are retried for real.
func Replayable(status int) bool {
	if status >= 200 && status < 300 {
		return true
	}
	switch status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict:
		return true
	default:
		return false
	}
}
