package handlers

import (
	"log"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/walletmvp/backend/internal/services"
)

type QRHandler struct {
	service   *services.PaymentRequestService
	validator *services.ValidationHelper
}

func NewQRHandler(service *services.PaymentRequestService) *QRHandler {
	return &QRHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// GenerateQR creates a payment request for the caller
// @Summary Generate payment request QR code
// @Description Create a single-use request for another user to pay the caller a fixed amount
// @Tags QR
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=string} true "QR generation request"
// @Success 200 {object} object{success=bool,code=string,amount=string,qrImage=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Router /qr/generate [post]
func (h *QRHandler) GenerateQR(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	pr, image, err := h.service.Create(r.Context(), userID, req.Amount)
	if err != nil {
		services.SendOutcome(w, err)
		return
	}
	log.Printf("[QR] payment request issued for user %d", userID)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"code":    pr.Code,
		"amount":  pr.Amount.StringFixed(2),
		"qrImage": image,
	})
}

// ProcessQR pays a scanned payment request
// @Summary Pay a payment request
// @Description Transfer the requested amount from the caller to the requester. Each code can be paid once.
// @Tags QR
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{qrData=string} true "QR processing request"
// @Success 200 {object} BalanceResponse
// @Failure 400 {object} services.ErrorResponse
// @Router /qr/process [post]
func (h *QRHandler) ProcessQR(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		QRData string `json:"qrData" validate:"required"`
	}
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	res, err := h.service.Pay(r.Context(), userID, req.QRData)
	if err != nil {
		services.SendOutcome(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{
		Message:     "Payment successful",
		NewBalance:  res.NewBalance.StringFixed(4),
		Transaction: res.Record,
		Replayed:    res.Replayed,
	})
}
