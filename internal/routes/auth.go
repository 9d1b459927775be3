package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/aurum-pay/aurum_pay/internal/auth"
)

// RegisterAuthRoutes wires token endpoints. Login is rate limited.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, rateLimiter fiber.Handler) {
	group := r.Group("/auth")
	group.Post("/login", rateLimiter, h.Login)
	group.Post("/refresh", h.Refresh)
	group.Post("/logout", h.Logout)
}
