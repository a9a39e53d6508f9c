package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/wallet-service/wallet_service/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Post("/wallets", h.Operate)
	r.Get("/wallets/:walletId", h.Balance)
	r.Post("/admin/wallets", h.Create)
}
