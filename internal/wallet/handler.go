package wallet

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/aurum-pay/aurum_pay/internal/ledger"
	"github.com/aurum-pay/aurum_pay/internal/lock"
)

// RetryAfter is advertised to clients whose request lost the race for an
// account lock.
const RetryAfter = time.Second

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type tradeRequest struct {
	Amount           decimal.Decimal `json:"amount"`
	CurrentGoldPrice decimal.Decimal `json:"currentGoldPrice"`
}

type bankRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	BankAccountID string          `json:"bankAccountId"`
}

type transferRequest struct {
	ReceiverPhone string          `json:"receiverPhone"`
	Amount        decimal.Decimal `json:"amount"`
	AssetType     string          `json:"assetType"`
}

type collectionRequest struct {
	Amount            decimal.Decimal `json:"amount"`
	CollectionAddress string          `json:"collectionAddress"`
}

type balanceResponse struct {
	UserID       string          `json:"userId"`
	MoneyBalance decimal.Decimal `json:"moneyBalance"`
	GoldBalance  decimal.Decimal `json:"goldBalance"`
	AsOf         time.Time       `json:"asOf"`
}

// Balance returns the authenticated user's money and gold balances.
func (h *Handler) Balance(c *fiber.Ctx) error {
	b, err := h.service.Balances(c.UserContext(), userID(c))
	if err != nil {
		return Error(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "success", "data": balanceResponse{
		UserID:       b.UserID,
		MoneyBalance: b.Money,
		GoldBalance:  b.Gold,
		AsOf:         b.AsOf,
	}})
}

// BuyGold converts money into gold.
func (h *Handler) BuyGold(c *fiber.Ctx) error {
	var req tradeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	tx, err := h.service.BuyGold(c.UserContext(), userID(c), req.Amount, req.CurrentGoldPrice)
	return h.respond(c, tx, err, http.StatusOK)
}

// SellGold converts gold into money.
func (h *Handler) SellGold(c *fiber.Ctx) error {
	var req tradeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	tx, err := h.service.SellGold(c.UserContext(), userID(c), req.Amount, req.CurrentGoldPrice)
	return h.respond(c, tx, err, http.StatusOK)
}

// Deposit credits money from a verified bank account.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req bankRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	tx, err := h.service.DepositMoney(c.UserContext(), userID(c), req.Amount, req.BankAccountID)
	return h.respond(c, tx, err, http.StatusOK)
}

// Withdraw debits money to a verified bank account.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req bankRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	tx, err := h.service.WithdrawMoney(c.UserContext(), userID(c), req.Amount, req.BankAccountID)
	return h.respond(c, tx, err, http.StatusOK)
}

// Transfer moves money or gold to another user identified by phone.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	asset, err := ledger.ParseAsset(req.AssetType)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	tx, err := h.service.TransferFunds(c.UserContext(), userID(c), req.ReceiverPhone, req.Amount, asset)
	return h.respond(c, tx, err, http.StatusOK)
}

// PhysicalCollection books gold for pickup.
func (h *Handler) PhysicalCollection(c *fiber.Ctx) error {
	var req collectionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	tx, err := h.service.RequestPhysicalCollection(c.UserContext(), userID(c), req.Amount, req.CollectionAddress)
	return h.respond(c, tx, err, http.StatusCreated)
}

// CompleteCollection is the back-office endpoint confirming a pickup.
func (h *Handler) CompleteCollection(c *fiber.Ctx) error {
	tx, err := h.service.ResolveCollection(c.UserContext(), c.Params("id"), ledger.StatusCompleted)
	return h.respond(c, tx, err, http.StatusOK)
}

// FailCollection is the back-office endpoint cancelling a pickup; the gold is
// returned to the owner.
func (h *Handler) FailCollection(c *fiber.Ctx) error {
	tx, err := h.service.ResolveCollection(c.UserContext(), c.Params("id"), ledger.StatusFailed)
	return h.respond(c, tx, err, http.StatusOK)
}

func (h *Handler) respond(c *fiber.Ctx, tx ledger.Transaction, err error, status int) error {
	if err != nil {
		return Error(c, err)
	}
	return c.Status(status).JSON(fiber.Map{"status": "success", "data": fiber.Map{"transaction": ledger.NewView(tx)}})
}

// Error translates a wallet or ledger error into a Fiber error. Lock
// timeouts carry a Retry-After header.
func Error(c *fiber.Ctx, err error) error {
	if lock.IsRetryable(err) {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(RetryAfter/time.Second)))
	}
	return fiber.NewError(StatusFor(err), err.Error())
}

// StatusFor maps the error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, ledger.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInvalidTransition):
		return http.StatusConflict
	case lock.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func userID(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}
