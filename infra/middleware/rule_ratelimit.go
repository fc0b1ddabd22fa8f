package middleware

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"rule_server/pkg/apperr"
	"rule_server/pkg/logger"
)

// Limiter decides whether a keyed request may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// RateLimit throttles requests per user, falling back to the client IP
// before ParseUserID has run. Limiter errors let the request through.
func RateLimit(limiter Limiter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		key := "ip:" + c.IP()
		if id, ok := c.Locals(UserIDLocal).(uuid.UUID); ok {
			key = "user:" + id.String()
		}

		allowed, wait, err := limiter.Allow(c.UserContext(), key)
		if err != nil {
			logger.WithError(err).WithField("key", key).Warn("rate limiter unavailable")
			return c.Next()
		}
		if !allowed {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			return apperr.RateLimited(wait)
		}
		return c.Next()
	}
}
