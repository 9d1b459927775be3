package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/aurum-pay/aurum_pay/internal/bankaccount"
	"github.com/aurum-pay/aurum_pay/internal/wallet"
)

// RegisterWalletRoutes wires the balance-changing operations. r is the
// /wallet group.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Get("/balance", h.Balance)
	r.Post("/buy-gold", h.BuyGold)
	r.Post("/sell-gold", h.SellGold)
	r.Post("/deposit", h.Deposit)
	r.Post("/withdraw", h.Withdraw)
	r.Post("/transfer", h.Transfer)
	r.Post("/physical-collection", h.PhysicalCollection)
}

// RegisterAdminRoutes wires back-office transitions.
func RegisterAdminRoutes(r fiber.Router, wallets *wallet.Handler, banks *bankaccount.Handler) {
	r.Post("/transactions/:id/complete", wallets.CompleteCollection)
	r.Post("/transactions/:id/fail", wallets.FailCollection)
	r.Post("/bank-accounts/:id/verify", banks.Verify)
}
