package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const subjectKey = "rate_subject"

// Limiter counts hits on a key within a fixed window.
type Limiter interface {
	// Hit records one hit and returns the count in the current window and its remaining lifetime.
	Hit(ctx context.Context, key string) (count int64, ttl time.Duration, err error)
}

// KeyFunc extracts the rate limit subject from a request. An empty key skips limiting.
type KeyFunc func(c *fiber.Ctx) string

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	MaxRequests int
	KeyPrefix   string
	Key         KeyFunc
}

// ByIP limits per client address.
func ByIP(c *fiber.Ctx) string {
	return c.IP()
}

// RateLimit rejects requests over MaxRequests per window with 429. It fails open
// when the limiter is unavailable.
func RateLimit(limiter Limiter, config RateLimitConfig, logger *zap.Logger) fiber.Handler {
	keyFn := config.Key
	if keyFn == nil {
		keyFn = ByIP
	}

	return func(c *fiber.Ctx) error {
		subject := keyFn(c)
		if subject == "" {
			return c.Next()
		}
		c.Locals(subjectKey, subject)

		count, ttl, err := limiter.Hit(c.UserContext(), config.KeyPrefix+":"+subject)
		if err != nil {
			logger.Error("rate limit backend error", zap.Error(err))
			return c.Next()
		}

		remaining := config.MaxRequests - int(count)
		if remaining < 0 {
			remaining = 0
		}
		c.Set("X-RateLimit-Limit", strconv.Itoa(config.MaxRequests))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))

		if count > int64(config.MaxRequests) {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(ttl.Round(time.Second).Seconds())))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}
		return c.Next()
	}
}
