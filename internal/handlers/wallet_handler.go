package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/walletmvp/backend/internal/models"
	"github.com/walletmvp/backend/internal/services"
)

// DepositRequest tops up the caller's wallet
// @Description Optional card_id names a card owned by the caller
type DepositRequest struct {
	Amount      decimal.Decimal `json:"amount" swaggertype:"string" example:"50.00"`
	CardID      int64           `json:"card_id,omitempty" validate:"omitempty,gt=0"`
	Description string          `json:"description,omitempty" validate:"max=255"`
}

// TransferRequest moves base currency to another wallet
type TransferRequest struct {
	ToEmail     string          `json:"to_email" validate:"required" example:"friend@example.com"` // Email or numeric user id
	Amount      decimal.Decimal `json:"amount" swaggertype:"string" example:"30.00"`
	Description string          `json:"description,omitempty" validate:"max=255"`
}

// ConvertRequest converts between a card (USD) and the wallet
type ConvertRequest struct {
	CardID       int64           `json:"card_id" validate:"required,gt=0"`
	FromCurrency string          `json:"from_currency" validate:"required,len=3" example:"USD"`
	ToCurrency   string          `json:"to_currency" validate:"required,len=3" example:"EUR"`
	Amount       decimal.Decimal `json:"amount" swaggertype:"string" example:"100.00"`
}

// CardTransferRequest moves USD between two of the caller's cards
type CardTransferRequest struct {
	FromCardID int64           `json:"from_card_id" validate:"required,gt=0"`
	ToCardID   int64           `json:"to_card_id" validate:"required,gt=0"`
	Amount     decimal.Decimal `json:"amount" swaggertype:"string" example:"50.00"`
}

// BalanceResponse is returned by operations that change the caller's wallet.
type BalanceResponse struct {
	Message     string                    `json:"message"`
	NewBalance  string                    `json:"new_balance"`
	Transaction *models.TransactionRecord `json:"transaction"`
	Replayed    bool                      `json:"replayed,omitempty"`
}

// ConvertResponse describes a committed conversion.
type ConvertResponse struct {
	Message         string                    `json:"message"`
	ConvertedAmount string                    `json:"converted_amount,omitempty"`
	ExchangeRate    string                    `json:"exchange_rate,omitempty"`
	Description     string                    `json:"description"`
	Transaction     *models.TransactionRecord `json:"transaction"`
	Replayed        bool                      `json:"replayed,omitempty"`
}

// CardTransferResponse carries both card balances after the move.
type CardTransferResponse struct {
	Message     string                    `json:"message"`
	FromBalance string                    `json:"from_balance_usd"`
	ToBalance   string                    `json:"to_balance_usd"`
	Transaction *models.TransactionRecord `json:"transaction"`
	Replayed    bool                      `json:"replayed,omitempty"`
}

type WalletHandler struct {
	ledger     *services.TransferService
	settlement *services.SettlementService
	validator  *services.ValidationHelper
}

func NewWalletHandler(ledger *services.TransferService, settlement *services.SettlementService) *WalletHandler {
	return &WalletHandler{
		ledger:     ledger,
		settlement: settlement,
		validator:  services.NewValidationHelper(),
	}
}

// Deposit credits the caller's wallet
// @Summary Deposit
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Retry key"
// @Param request body DepositRequest true "Deposit request"
// @Success 200 {object} BalanceResponse
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Router /deposit [post]
func (h *WalletHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req DepositRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	res, err := h.ledger.Deposit(r.Context(), services.DepositRequest{
		UserID:         userID,
		Amount:         req.Amount,
		FundingCardID:  req.CardID,
		Description:    req.Description,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		services.SendOutcome(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{
		Message:     "Deposit successful",
		NewBalance:  res.NewBalance.StringFixed(4),
		Transaction: res.Record,
		Replayed:    res.Replayed,
	})
}

// Transfer sends money to another user
// @Summary Transfer
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Retry key"
// @Param request body TransferRequest true "Transfer request"
// @Success 200 {object} BalanceResponse
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Router /transfer [post]
func (h *WalletHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req TransferRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	res, err := h.ledger.Transfer(r.Context(), services.TransferRequest{
		FromUserID:     userID,
		To:             req.ToEmail,
		Amount:         req.Amount,
		Description:    req.Description,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		services.SendOutcome(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{
		Message:     "Transfer successful",
		NewBalance:  res.NewBalance.StringFixed(4),
		Transaction: res.Record,
		Replayed:    res.Replayed,
	})
}

// Convert exchanges between a card and the wallet
// @Summary Currency conversion
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Retry key"
// @Param request body ConvertRequest true "Conversion request"
// @Success 200 {object} ConvertResponse
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /convert [post]
func (h *WalletHandler) Convert(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req ConvertRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	res, err := h.ledger.ConvertCurrency(r.Context(), services.ConvertRequest{
		UserID:         userID,
		CardID:         req.CardID,
		From:           req.FromCurrency,
		To:             req.ToCurrency,
		Amount:         req.Amount,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		services.SendOutcome(w, err)
		return
	}
	resp := ConvertResponse{
		Message:     "Conversion successful",
		Description: res.Description,
		Transaction: res.Record,
		Replayed:    res.Replayed,
	}
	if !res.Replayed {
		resp.ConvertedAmount = res.ConvertedAmount.StringFixed(4)
		resp.ExchangeRate = res.EffectiveRate.StringFixed(4)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CardTransfer moves USD between the caller's cards
// @Summary Card to card transfer
// @Tags cards
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Retry key"
// @Param request body CardTransferRequest true "Card transfer request"
// @Success 200 {object} CardTransferResponse
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /cards/transfer [post]
func (h *WalletHandler) CardTransfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req CardTransferRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	res, err := h.ledger.CardTransfer(r.Context(), services.CardTransferRequest{
		UserID:         userID,
		FromCardID:     req.FromCardID,
		ToCardID:       req.ToCardID,
		Amount:         req.Amount,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		services.SendOutcome(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CardTransferResponse{
		Message:     "Card transfer successful",
		FromBalance: res.FromBalance.StringFixed(4),
		ToBalance:   res.ToBalance.StringFixed(4),
		Transaction: res.Record,
		Replayed:    res.Replayed,
	})
}

// Transactions lists the caller's history
// @Summary Transaction history
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Max rows (1-50)"
// @Success 200 {array} models.TransactionView
// @Router /transactions [get]
func (h *WalletHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			services.SendErrorResponse(w, "Invalid limit", http.StatusBadRequest, nil)
			return
		}
		limit = n
	}

	views, err := h.ledger.ListTransactions(r.Context(), userID, limit)
	if err != nil {
		services.SendOutcome(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// Rates returns the exchange rate table
// @Summary Exchange rates
// @Tags wallet
// @Produce json
// @Success 200 {object} map[string]models.RateView
// @Router /exchange-rates [get]
func (h *WalletHandler) Rates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ledger.Rates())
}

// Dashboard returns user, cards and recent history
// @Summary Dashboard
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} services.Dashboard
// @Router /dashboard [get]
func (h *WalletHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	d, err := h.ledger.Dashboard(r.Context(), userID)
	if err != nil {
		services.SendOutcome(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ExportPacs008 renders a transfer as an ISO 20022 credit transfer
// @Summary Export pacs.008
// @Tags iso20022
// @Produce json
// @Security BearerAuth
// @Param id path int true "Transaction id"
// @Success 200 {object} services.SettlementMessage
// @Failure 404 {object} services.ErrorResponse
// @Router /transactions/{id}/pacs008 [get]
func (h *WalletHandler) ExportPacs008(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, h.settlement.ExportCreditTransfer)
}

// ExportPacs002 renders the settlement status of a transfer
// @Summary Export pacs.002
// @Tags iso20022
// @Produce json
// @Security BearerAuth
// @Param id path int true "Transaction id"
// @Success 200 {object} services.SettlementMessage
// @Failure 404 {object} services.ErrorResponse
// @Router /transactions/{id}/pacs002 [get]
func (h *WalletHandler) ExportPacs002(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, h.settlement.ExportStatusReport)
}

func (h *WalletHandler) export(w http.ResponseWriter, r *http.Request, render func(ctx context.Context, userID, recordID int64) (*services.SettlementMessage, error)) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	recordID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	msg, err := render(r.Context(), userID, recordID)
	if err != nil {
		services.SendOutcome(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}
