package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shattavibe/api/pkg/response"
)

// RateLimiter is a fixed-window limiter backed by redis counters.
type RateLimiter struct {
	redis  *redis.Client
	logger *zap.Logger
}

func NewRateLimiter(redisClient *redis.Client, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{redis: redisClient, logger: logger}
}

// Limit creates a rate limiting middleware. Callers are keyed by resolved
// identity, or by client IP before identity resolution.
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		subject := c.IP()
		if id := GetIdentity(c); !id.IsZero() {
			subject = id.Key()
		}

		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, subject)
		ctx := c.UserContext()

		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			// Fail open when redis is down.
			rl.logger.Debug("rate limit counter unavailable", zap.String("key", key), zap.Error(err))
			return c.Next()
		}

		if count == 1 {
			rl.redis.Expire(ctx, key, window)
		}

		if count > int64(maxRequests) {
			ttl, _ := rl.redis.TTL(ctx, key).Result()
			c.Set("Retry-After", fmt.Sprintf("%d", int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequests))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", maxRequests-int(count)))

		return c.Next()
	}
}

// CallbackLimit limits vendor callback deliveries per source address.
func (rl *RateLimiter) CallbackLimit(maxPerMin int) fiber.Handler {
	return rl.Limit("callback", maxPerMin, time.Minute)
}

// ReadLimit limits library reads per identity.
func (rl *RateLimiter) ReadLimit(maxPerMin int) fiber.Handler {
	return rl.Limit("read", maxPerMin, time.Minute)
}
