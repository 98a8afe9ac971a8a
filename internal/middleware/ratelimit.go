package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"studybuddy/internal/model"
)

// Counter increments a fixed-window counter and reports the new value.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

type redisCounter struct {
	client *redis.Client
}

// NewRedisCounter keeps window counters in Redis.
func NewRedisCounter(client *redis.Client) Counter {
	return &redisCounter{client: client}
}

func (c *redisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// TierResolver looks up a user's plan tier.
type TierResolver interface {
	ResolveTier(ctx context.Context, userID string) (model.PlanTier, error)
}

// RateLimiter caps generation requests per user per window, by tier.
type RateLimiter struct {
	counter Counter
	tiers   TierResolver
	limits  map[model.PlanTier]int
	window  time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

// NewRateLimiter allows limits[tier] requests per window. A tier without a
// positive limit is not limited.
func NewRateLimiter(counter Counter, tiers TierResolver, limits map[model.PlanTier]int, window time.Duration, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		counter: counter,
		tiers:   tiers,
		limits:  limits,
		window:  window,
		now:     time.Now,
		logger:  logger.With().Str("component", "RateLimiter").Logger(),
	}
}

// Middleware must run after AuthMiddleware. Limiter outages let requests through.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		tier, err := l.tiers.ResolveTier(r.Context(), userID)
		if err != nil {
			l.logger.Warn().Err(err).Str("user_id", userID).Msg("Could not resolve tier; using default limit")
			tier = model.PlanCooked
		}
		limit := l.limits[tier]
		if limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		now := l.now()
		windowStart := now.Truncate(l.window)
		key := fmt.Sprintf("ratelimit:%s:%d", userID, windowStart.Unix())
		count, err := l.counter.Incr(r.Context(), key, l.window)
		if err != nil {
			l.logger.Warn().Err(err).Str("user_id", userID).Msg("Rate limiter unavailable; allowing request")
			next.ServeHTTP(w, r)
			return
		}

		remaining := int64(limit) - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(limit) {
			retryAfter := int(windowStart.Add(l.window).Sub(now).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":   "rate_limited",
				"message": "Too many generation requests. Try again shortly.",
			})
			l.logger.Info().Str("user_id", userID).Str("tier", string(tier)).Int64("count", count).Msg("Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
