package wallet

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type operationRequest struct {
	WalletID      string          `json:"walletId"`
	OperationType string          `json:"operationType"`
	Amount        decimal.Decimal `json:"amount"`
}

type createRequest struct {
	Balance decimal.Decimal `json:"balance"`
}

type balanceResponse struct {
	Timestamp time.Time   `json:"timestamp"`
	Status    int         `json:"status"`
	Amount    json.Number `json:"amount"`
}

type createResponse struct {
	WalletID string      `json:"walletId"`
	Balance  json.Number `json:"balance"`
}

// Operate deposits to or withdraws from a wallet.
func (h *Handler) Operate(c *fiber.Ctx) error {
	var req operationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "malformed request body")
	}
	walletID, err := uuid.Parse(req.WalletID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid wallet id")
	}
	op, err := ParseOperationType(req.OperationType)
	if err != nil {
		return h.toHTTPError(c, err)
	}

	balance, err := h.service.Operate(c.UserContext(), OperationRequest{
		WalletID:      walletID,
		OperationType: op,
		Amount:        req.Amount,
	})
	if err != nil {
		return h.toHTTPError(c, err)
	}
	return respondBalance(c, balance)
}

// Balance returns the wallet balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	walletID, err := uuid.Parse(c.Params("walletId"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid wallet id")
	}
	balance, err := h.service.Balance(c.UserContext(), walletID)
	if err != nil {
		return h.toHTTPError(c, err)
	}
	return respondBalance(c, balance)
}

// Create provisions a wallet with an optional opening balance.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "malformed request body")
		}
	}
	w, err := h.service.Create(c.UserContext(), CreateInput{InitialBalance: req.Balance})
	if err != nil {
		return h.toHTTPError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(createResponse{
		WalletID: w.ID.String(),
		Balance:  json.Number(w.Balance.String()),
	})
}

func respondBalance(c *fiber.Ctx, balance decimal.Decimal) error {
	return c.Status(http.StatusOK).JSON(balanceResponse{
		Timestamp: time.Now().UTC(),
		Status:    http.StatusOK,
		Amount:    json.Number(balance.String()),
	})
}

func (h *Handler) toHTTPError(c *fiber.Ctx, err error) error {
	status := StatusCode(err)
	message := PublicMessage(err)
	if status == http.StatusInternalServerError {
		h.service.logger.Error("wallet request failed",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Any("error", err))
		return fiber.NewError(status, message)
	}
	if detail := err.Error(); detail != message {
		h.service.logger.Debug("wallet request rejected",
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.String("detail", detail))
	}
	return fiber.NewError(status, message)
}
