package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sungwon/psp-relay/internal/metrics"
)

// ErrRateLimited is returned when a producer exceeds its per-minute limit.
var ErrRateLimited = errors.New("producer rate limit exceeded")

const (
	rateWindow      = time.Minute
	anonymousCaller = "anonymous"
)

// windowCounter increments a counter that expires after ttl and returns the new value.
type windowCounter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type redisCounter struct {
	client *redis.Client
}

func (c redisCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := c.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// RateLimiter caps producer requests per minute using a Redis fixed window.
// Counters live in Redis so every relay instance shares them.
type RateLimiter struct {
	counter windowCounter
	limit   int
	now     func() time.Time
}

// NewRateLimiter creates a RateLimiter allowing limit requests per producer per
// minute. A nil client or a limit of zero disables limiting.
func NewRateLimiter(client *redis.Client, limit int) *RateLimiter {
	rl := &RateLimiter{limit: limit, now: time.Now}
	if client != nil {
		rl.counter = redisCounter{client: client}
	}
	return rl
}

// Allow counts one request for producer. When the limit is exceeded it returns
// ErrRateLimited and the time until the window resets.
func (rl *RateLimiter) Allow(ctx context.Context, producer string) (time.Duration, error) {
	if rl.counter == nil || rl.limit <= 0 {
		// No Redis client configured; skip rate limiting.
		return 0, nil
	}

	now := rl.now().UTC()
	window := now.Truncate(rateWindow)
	count, err := rl.counter.Incr(ctx, rateKey(producer, window), 2*rateWindow)
	if err != nil {
		return 0, fmt.Errorf("check rate limit: %w", err)
	}

	if count > int64(rl.limit) {
		return window.Add(rateWindow).Sub(now), ErrRateLimited
	}
	return 0, nil
}

func rateKey(producer string, window time.Time) string {
	return fmt.Sprintf("ratelimit:producer:%s:%s", producer, window.Format("200601021504"))
}

// ProducerRateLimit returns an HTTP middleware that rejects producers over their
// limit with 429. It must run after ProducerAuth; unauthenticated callers share
// one bucket. Redis errors are logged and the request is let through.
func ProducerRateLimit(rl *RateLimiter, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			producer := ProducerFromContext(r.Context())
			if producer == "" {
				producer = anonymousCaller
			}

			retryAfter, err := rl.Allow(r.Context(), producer)
			switch {
			case errors.Is(err, ErrRateLimited):
				metrics.APIRateLimitedTotal.WithLabelValues(producer).Inc()
				secs := int(retryAfter.Round(time.Second) / time.Second)
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			case err != nil:
				log.Warn().Err(err).Str("producer", producer).Msg("rate limiter unavailable, allowing request")
			}

			next.ServeHTTP(w, r)
		})
	}
}
