package bankaccount

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes bank account HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a bank account HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type addRequest struct {
	BankName      string `json:"bankName"`
	AccountNumber string `json:"accountNumber"`
	AccountType   string `json:"accountType"`
}

type bankAccountResponse struct {
	ID            string    `json:"id"`
	BankName      string    `json:"bankName"`
	AccountNumber string    `json:"accountNumber"`
	AccountType   string    `json:"accountType"`
	Verified      bool      `json:"isVerified"`
	CreatedAt     time.Time `json:"createdAt"`
}

func toResponse(a BankAccount) bankAccountResponse {
	return bankAccountResponse{
		ID:            a.ID,
		BankName:      a.BankName,
		AccountNumber: a.AccountNumber,
		AccountType:   a.AccountType,
		Verified:      a.Verified,
		CreatedAt:     a.CreatedAt,
	}
}

// Add links a bank account to the authenticated user.
func (h *Handler) Add(c *fiber.Ctx) error {
	var req addRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	account, err := h.service.Add(c.UserContext(), AddInput{
		UserID:        uid,
		BankName:      req.BankName,
		AccountNumber: req.AccountNumber,
		AccountType:   req.AccountType,
	})
	if err != nil {
		return fiber.NewError(statusFor(err), err.Error())
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"status": "success", "data": fiber.Map{"bankAccount": toResponse(account)}})
}

// List returns the authenticated user's bank accounts.
func (h *Handler) List(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	accounts, err := h.service.List(c.UserContext(), uid)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	out := make([]bankAccountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toResponse(a))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "success", "data": fiber.Map{"bankAccounts": out}})
}

// Remove unlinks one of the authenticated user's bank accounts.
func (h *Handler) Remove(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if err := h.service.Remove(c.UserContext(), uid, c.Params("id")); err != nil {
		return fiber.NewError(statusFor(err), err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "success", "message": "Bank account removed successfully"})
}

// Verify is the back-office endpoint that marks an account verified.
func (h *Handler) Verify(c *fiber.Ctx) error {
	account, err := h.service.Verify(c.UserContext(), c.Params("id"))
	if err != nil {
		return fiber.NewError(statusFor(err), err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "success", "data": fiber.Map{"bankAccount": toResponse(account)}})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalid), errors.Is(err, ErrAlreadyLinked):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
