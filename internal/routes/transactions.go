package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/aurum-pay/aurum_pay/internal/report"
)

// RegisterTransactionRoutes wires history and reports. Static paths are
// registered before /:id.
func RegisterTransactionRoutes(r fiber.Router, h *report.Handler) {
	group := r.Group("/transactions")
	group.Get("/history", h.History)
	group.Get("/daily-report", h.Daily)
	group.Get("/monthly-report", h.Monthly)
	group.Get("/:id", h.Get)
}
