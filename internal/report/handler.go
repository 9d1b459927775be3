package report

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/aurum-pay/aurum_pay/internal/ledger"
)

// Handler exposes transaction history and report endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a report HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type paginationResponse struct {
	Total int `json:"total"`
	Pages int `json:"pages"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// History lists the user's transactions with optional type and status filters.
func (h *Handler) History(c *fiber.Ctx) error {
	q := Query{Page: c.QueryInt("page", 1), Limit: c.QueryInt("limit", defaultLimit)}
	if v := c.Query("type"); v != "" {
		kind, err := ledger.ParseKind(v)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		q.Kind = kind
	}
	if v := c.Query("status"); v != "" {
		status, err := ledger.ParseStatus(v)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		q.Status = status
	}

	page, err := h.service.History(c.UserContext(), userID(c), q)
	if err != nil {
		return fiber.NewError(statusFor(err), err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "success", "data": fiber.Map{
		"transactions": views(page.Transactions),
		"pagination": paginationResponse{
			Total: page.Total,
			Pages: page.Pages,
			Page:  page.Page,
			Limit: page.Limit,
		},
	}})
}

// Get returns a single transaction the user took part in.
func (h *Handler) Get(c *fiber.Ctx) error {
	t, err := h.service.Get(c.UserContext(), userID(c), c.Params("id"))
	if err != nil {
		return fiber.NewError(statusFor(err), err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "success", "data": fiber.Map{"transaction": ledger.NewView(t)}})
}

// Daily returns the summary for ?date=YYYY-MM-DD, today by default.
func (h *Handler) Daily(c *fiber.Ctx) error {
	date, err := h.service.ParseDate(c.Query("date"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	r, err := h.service.Daily(c.UserContext(), userID(c), date)
	if err != nil {
		return fiber.NewError(statusFor(err), err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "success", "data": fiber.Map{
		"date":         r.From.Format(dateLayout),
		"transactions": views(r.Transactions),
		"summary":      r.Summary,
	}})
}

// Monthly returns the summary for ?month=&year=, the current month by default.
func (h *Handler) Monthly(c *fiber.Ctx) error {
	now := h.service.now().In(h.service.loc)
	month, err := intQuery(c, "month", int(now.Month()))
	if err != nil {
		return err
	}
	year, err := intQuery(c, "year", now.Year())
	if err != nil {
		return err
	}
	r, err := h.service.Monthly(c.UserContext(), userID(c), month, year)
	if err != nil {
		return fiber.NewError(statusFor(err), err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "success", "data": fiber.Map{
		"month":        month,
		"year":         year,
		"transactions": views(r.Transactions),
		"summary":      r.Summary,
	}})
}

func intQuery(c *fiber.Ctx, name string, fallback int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fiber.NewError(http.StatusBadRequest, name+" must be a number")
	}
	return n, nil
}

func views(records []ledger.Transaction) []ledger.View {
	out := make([]ledger.View, 0, len(records))
	for _, t := range records {
		out = append(out, ledger.NewView(t))
	}
	return out
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func userID(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}
