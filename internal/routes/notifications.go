package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/aurum-pay/aurum_pay/internal/notification"
)

// RegisterNotificationRoutes lists the caller's recent notifications. Without
// an inbox the list is always empty.
func RegisterNotificationRoutes(r fiber.Router, inbox *notification.Inbox) {
	r.Get("/notifications", func(c *fiber.Ctx) error {
		items := []notification.Message{}
		if inbox != nil {
			uid, _ := c.Locals("user_id").(string)
			var err error
			if items, err = inbox.Recent(c.UserContext(), uid, c.QueryInt("limit", 20)); err != nil {
				return err
			}
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status": "success",
			"data":   fiber.Map{"notifications": items},
		})
	})
}
