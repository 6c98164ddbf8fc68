// Package ratelimit limits requests per client with a fixed one-minute window
// kept in Redis, so every server instance shares the same counters.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sundayezeilo/golinks/internal/httpx"
)

const (
	window    = time.Minute
	keyPrefix = "ratelimit:"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts requests per key in Redis.
type Limiter struct {
	client redis.Cmdable
	limit  int
	now    func() time.Time
	logger *slog.Logger
}

// Config holds Limiter settings. A non-positive PerMinute disables limiting.
type Config struct {
	PerMinute int
	Logger    *slog.Logger
}

// New creates a Limiter.
func New(client redis.Cmdable, cfg *Config) *Limiter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		client: client,
		limit:  cfg.PerMinute,
		now:    time.Now,
		logger: logger.With("component", "ratelimit"),
	}
}

func (l *Limiter) windowKey(key string, start time.Time) string {
	return fmt.Sprintf("%s%s:%d", keyPrefix, key, start.Unix())
}

// Allow counts one request for key. Redis failures allow the request.
func (l *Limiter) Allow(ctx context.Context, key string) Decision {
	if l.limit <= 0 {
		return Decision{Allowed: true, Remaining: -1}
	}

	now := l.now()
	start := now.Truncate(window)
	redisKey := l.windowKey(key, start)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, window+time.Second)
		return nil
	})
	if err != nil {
		l.logger.WarnContext(ctx, "rate limit check failed, allowing request",
			"key", key,
			"error", err.Error(),
		)
		return Decision{Allowed: true, Remaining: -1}
	}

	count := int(incr.Val())
	if count > l.limit {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: start.Add(window).Sub(now),
		}
	}
	return Decision{Allowed: true, Remaining: l.limit - count}
}

// Middleware rejects clients over the limit with 429, keyed by client IP.
// Behind a trusted proxy it must run after chi's RealIP middleware so proxied
// clients are told apart.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := l.Allow(r.Context(), httpx.ClientIP(r))
		if d.Remaining >= 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		}
		if !d.Allowed {
			secs := int((d.RetryAfter + time.Second - 1) / time.Second)
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
			httpx.WriteError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
