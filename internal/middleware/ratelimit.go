package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimitMiddleware counts requests per client in fixed windows. Sessions
// are keyed by admin id, anonymous requests by IP.
func RateLimitMiddleware(rdb *redis.Client, limit int, window time.Duration) fiber.Handler {
	windowSecs := int64(window / time.Second)
	if windowSecs <= 0 {
		windowSecs = 1
	}
	return func(c *fiber.Ctx) error {
		client := c.IP()
		if id := GetAdminID(c); id != uuid.Nil {
			client = id.String()
		}
		key := fmt.Sprintf("rl:%s:%d", client, time.Now().Unix()/windowSecs)

		ctx := c.UserContext()
		pipe := rdb.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, window)
		if _, err := pipe.Exec(ctx); err != nil {
			return c.Next() // fail open
		}
		count := incr.Val()
		c.Set("X-RateLimit-Limit", strconv.Itoa(limit))

		if count > int64(limit) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}

		return c.Next()
	}
}
