package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

const (
	callerHeader = "X-User-ID"
	// AdminKeyHeader carries the back-office shared key.
	AdminKeyHeader = "X-Admin-Key"
	// WebhookKeyHeader carries the payment gateway shared key.
	WebhookKeyHeader = "X-Webhook-Key"
)

// Caller copies the upstream-authenticated member id into the "user_id" local.
func Caller() fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid := strings.TrimSpace(c.Get(callerHeader))
		if uid == "" {
			return fiber.NewError(http.StatusUnauthorized, "missing "+callerHeader+" header")
		}
		c.Locals("user_id", uid)
		return c.Next()
	}
}

// RequireKey checks the shared key in header against a bcrypt hash. On
// success the request is marked "elevated". An empty hash rejects everything.
func RequireKey(header, hash string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get(header)
		if hash == "" || key == "" {
			return fiber.NewError(http.StatusUnauthorized, "missing or unconfigured "+header)
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid "+header)
		}
		c.Locals("elevated", true)
		return c.Next()
	}
}
