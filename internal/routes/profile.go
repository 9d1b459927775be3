package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/aurum-pay/aurum_pay/internal/bankaccount"
	"github.com/aurum-pay/aurum_pay/internal/identity"
	"github.com/aurum-pay/aurum_pay/internal/wallet"
)

// RegisterProfileRoutes wires bank account management.
func RegisterProfileRoutes(r fiber.Router, h *bankaccount.Handler) {
	group := r.Group("/profile")
	group.Post("/bank-account", h.Add)
	group.Get("/bank-accounts", h.List)
	group.Delete("/bank-account/:id", h.Remove)
}

// RegisterMeRoute exposes the current user's profile together with both
// balances.
func RegisterMeRoute(r fiber.Router, ids *identity.Service, wallets *wallet.Service) {
	r.Get("/me", func(c *fiber.Ctx) error {
		uid, _ := c.Locals("user_id").(string)
		user, err := ids.FindByID(c.UserContext(), uid)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "user not found")
		}
		bal, err := wallets.Balances(c.UserContext(), uid)
		if err != nil {
			return wallet.Error(c, err)
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"user": fiber.Map{
				"id":            user.ID,
				"phone":         user.Phone,
				"tier":          user.Tier,
				"device_id":     user.DeviceID,
				"token_version": user.TokenVersion,
				"created_at":    user.CreatedAt,
				"last_login":    user.LastLogin,
			},
			"wallet": fiber.Map{
				"money_balance": bal.Money,
				"gold_balance":  bal.Gold,
				"as_of":         bal.AsOf,
			},
		})
	})
}
