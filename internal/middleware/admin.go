package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

const adminKeyHeader = "X-Admin-Key"

// AdminKey guards back-office routes with a shared key. An empty key disables
// the routes entirely.
func AdminKey(key string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if key == "" {
			return fiber.NewError(http.StatusForbidden, "admin api disabled")
		}
		given := c.Get(adminKeyHeader)
		if subtle.ConstantTimeCompare([]byte(given), []byte(key)) != 1 {
			return fiber.NewError(http.StatusForbidden, "invalid admin key")
		}
		return c.Next()
	}
}
