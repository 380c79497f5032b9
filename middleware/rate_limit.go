package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"pix-checkout-api/utils"
)

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	Message  string
}

var defaultConfigs = map[string]RateLimitConfig{
	"/api/create-payment": {
		Requests: 10,
		Window:   time.Minute,
		Message:  "Too many payment attempts. Please wait a minute.",
	},
	"/api/check-payment": {
		Requests: 120,
		Window:   time.Minute,
		Message:  "Too many status checks. Please slow down.",
	},
	"/api/internal/token": {
		Requests: 10,
		Window:   time.Minute * 5,
		Message:  "Too many token requests.",
	},
	"default": {
		Requests: 60,
		Window:   time.Minute,
		Message:  "Rate limit exceeded. Please slow down your requests.",
	},
}

// Provider callbacks arrive from a handful of gateway IPs and are guarded by
// the webhook token instead.
var exemptPaths = map[string]bool{
	"/api/webhook/pushinpay": true,
}

// Sliding window: one sorted-set member per request, scored by unix ms.
var slidingWindow = redis.NewScript(`
    local key = KEYS[1]
    local window_start = tonumber(ARGV[1])
    local limit = tonumber(ARGV[2])
    local now = tonumber(ARGV[3])
    local member = ARGV[4]
    local ttl = tonumber(ARGV[5])

    redis.call('ZREMRANGEBYSCORE', key, 0, window_start)

    local current_count = redis.call('ZCARD', key)
    if current_count < limit then
        redis.call('ZADD', key, now, member)
        redis.call('PEXPIRE', key, ttl)
        return {1, limit - current_count - 1}
    end
    return {0, 0}
`)

type RateLimiter struct {
	client *redis.Client
	log    *zap.Logger
	now    func() time.Time
}

func NewRateLimiter(client *redis.Client, log *zap.Logger) *RateLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &RateLimiter{client: client, log: log, now: time.Now}
}

func (rl *RateLimiter) RateLimitMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			config, limited := configForEndpoint(r.URL.Path)
			if !limited {
				next.ServeHTTP(w, r)
				return
			}
			key := rateLimitKey(r)

			allowed, remaining, resetTime, err := rl.checkRateLimit(r.Context(), key, config)
			if err != nil {
				// Fail open: a Redis outage must not take checkout down.
				rl.log.Warn("rate limit check failed", zap.String("path", r.URL.Path), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.Requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

			if !allowed {
				rl.log.Info("rate limit exceeded", zap.String("key", key))
				retryAfter := int64(resetTime.Sub(rl.now()).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				utils.SendErrorResponse(w, http.StatusTooManyRequests, config.Message)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// configForEndpoint returns the limit for path; false means the path is not limited.
func configForEndpoint(path string) (RateLimitConfig, bool) {
	if exemptPaths[path] {
		return RateLimitConfig{}, false
	}
	if config, ok := defaultConfigs[path]; ok {
		return config, true
	}
	return defaultConfigs["default"], true
}

func rateLimitKey(r *http.Request) string {
	return fmt.Sprintf("rate_limit:%s:%s", ClientIP(r), r.URL.Path)
}

func (rl *RateLimiter) checkRateLimit(ctx context.Context, key string, config RateLimitConfig) (bool, int, time.Time, error) {
	now := rl.now()
	windowStart := now.Add(-config.Window)

	result, err := slidingWindow.Run(ctx, rl.client, []string{key},
		windowStart.UnixMilli(),
		config.Requests,
		now.UnixMilli(),
		strconv.FormatInt(now.UnixNano(), 10)+"-"+uuid.NewString(),
		config.Window.Milliseconds(),
	).Result()
	if err != nil {
		return false, 0, time.Time{}, err
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, time.Time{}, fmt.Errorf("unexpected redis result format")
	}
	allowed, ok1 := values[0].(int64)
	remaining, ok2 := values[1].(int64)
	if !ok1 || !ok2 {
		return false, 0, time.Time{}, fmt.Errorf("failed to parse redis result")
	}

	return allowed == 1, int(remaining), now.Add(config.Window), nil
}

// SecurityHeadersMiddleware sets the standard hardening headers.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")

		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
			w.Header().Set("Pragma", "no-cache")
			w.Header().Set("Expires", "0")
		}

		next.ServeHTTP(w, r)
	})
}

// ClientIP prefers proxy headers over RemoteAddr.
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
