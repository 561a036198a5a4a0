package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/chama-pay/chama_ledger/internal/fees"
	"github.com/chama-pay/chama_ledger/internal/settlement"
	"github.com/chama-pay/chama_ledger/internal/transfer"
	"github.com/chama-pay/chama_ledger/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Post("/wallets", h.Open)
	r.Get("/wallets/:walletId/balance", h.Balance)
	r.Get("/wallets/:walletId/transactions", h.Transactions)
}

// RegisterTransferRoutes wires member transfers and chama contributions.
func RegisterTransferRoutes(r fiber.Router, h *transfer.Handler) {
	r.Post("/transfers", h.Transfer)
	r.Post("/chamas/:chamaId/contributions", h.Contribute)
}

// RegisterFeeRoutes wires the fee preview.
func RegisterFeeRoutes(r fiber.Router, h *fees.Handler) {
	r.Get("/fees/:transactionType", h.Breakdown)
}

// RegisterDepositRoutes wires gateway-collected top-ups.
func RegisterDepositRoutes(r fiber.Router, h *settlement.Handler) {
	r.Post("/deposits", h.InitiateDeposit)
}
