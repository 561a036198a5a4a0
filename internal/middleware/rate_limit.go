package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimit caps requests per caller in fixed windows using Redis counters.
// Callers are keyed by user id, falling back to the client IP. It fails open
// when Redis is absent or erroring.
func RateLimit(cache *redis.Client, scope string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Hour
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		who, _ := c.Locals("user_id").(string)
		if who == "" {
			who = c.IP()
		}
		key := "rl:" + scope + ":" + who

		ctx := c.UserContext()
		cnt, err := cache.Incr(ctx, key).Result()
		if err != nil {
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(ctx, key, window)
		}
		if cnt > int64(max) {
			if ttl, err := cache.TTL(ctx, key).Result(); err == nil && ttl > 0 {
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(ttl.Seconds())+1))
			}
			return fiber.NewError(http.StatusTooManyRequests, "too many "+scope+" requests, try again later")
		}
		return c.Next()
	}
}
