package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"marketplace/identity/internal/config"

	"github.com/redis/go-redis/v9"
)

// BucketStore takes one token from the bucket identified by key.
type BucketStore interface {
	Take(ctx context.Context, key string) (allowed bool, remaining int64, retryAfter time.Duration, err error)
}

var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local refill_tokens = tonumber(ARGV[3])
local interval_ms = tonumber(ARGV[4])
local ttl_seconds = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])
if tokens == nil or last_refill == nil then
  tokens = capacity
  last_refill = now_ms
end

local elapsed = math.max(0, now_ms - last_refill)
local intervals = math.floor(elapsed / interval_ms)
if intervals > 0 then
  tokens = math.min(capacity, tokens + intervals * refill_tokens)
  last_refill = last_refill + intervals * interval_ms
end

local allowed = 0
local retry_ms = 0
if tokens > 0 then
  allowed = 1
  tokens = tokens - 1
else
  retry_ms = math.max(0, interval_ms - (now_ms - last_refill))
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)
return { allowed, tokens, retry_ms }
`)

// RedisBucket is a token bucket shared by every instance through Redis.
type RedisBucket struct {
	client redis.Scripter
	cfg    config.RateLimitConfig
}

// NewRedisBucket constructs a RedisBucket.
func NewRedisBucket(client redis.Scripter, cfg config.RateLimitConfig) *RedisBucket {
	return &RedisBucket{client: client, cfg: cfg}
}

// Take implements BucketStore.
func (b *RedisBucket) Take(ctx context.Context, key string) (bool, int64, time.Duration, error) {
	vals, err := tokenBucketScript.Run(ctx, b.client, []string{key},
		time.Now().UnixMilli(),
		b.cfg.Capacity,
		b.cfg.RefillTokens,
		b.cfg.RefillInterval.Milliseconds(),
		int64(b.cfg.TTL/time.Second),
	).Int64Slice()
	if err != nil {
		return false, 0, 0, err
	}
	if len(vals) != 3 {
		return false, 0, 0, fmt.Errorf("ratelimit: unexpected script result %v", vals)
	}
	return vals[0] == 1, vals[1], time.Duration(vals[2]) * time.Millisecond, nil
}

// RateLimiter throttles requests per client IP and route. A nil store or a
// store error lets the request through.
type RateLimiter struct {
	store    BucketStore
	prefix   string
	capacity int
	trusted  []netip.Prefix
	logger   *slog.Logger
}

// NewRateLimiter constructs a limiter. store may be nil to disable limiting.
func NewRateLimiter(store BucketStore, cfg config.RateLimitConfig, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		store = nil
	}
	return &RateLimiter{
		store:    store,
		prefix:   cfg.Prefix,
		capacity: cfg.Capacity,
		trusted:  cfg.TrustedProxies,
		logger:   logger,
	}
}

// Wrap applies the limiter to next.
func (l *RateLimiter) Wrap(next http.Handler) http.Handler {
	if l == nil || l.store == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.Join([]string{l.prefix, "ip", clientIP(r, l.trusted), "route", r.URL.Path}, ":")
		allowed, remaining, retryAfter, err := l.store.Take(r.Context(), key)
		if err != nil {
			l.logger.Warn("rate limit check failed", "key", key, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.capacity))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if !allowed {
			secs := int(math.Ceil(retryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":       "rate limit exceeded",
				"code":        "TOO_MANY_REQUESTS",
				"retry_after": secs,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
