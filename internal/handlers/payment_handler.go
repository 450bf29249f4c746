package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/digimart/backend/internal/middleware"
	"github.com/digimart/backend/internal/services"
)

type PaymentHandler struct {
	service   PaymentService
	validator *ValidationHelper
}

func NewPaymentHandler(service PaymentService) *PaymentHandler {
	return &PaymentHandler{
		service:   service,
		validator: NewValidationHelper(),
	}
}

// Initiate starts a product purchase
// @Summary Initiate payment
// @Description Create a pending order for a product and open a checkout. Guests must supply guest_email.
// @Tags Payments
// @Accept json
// @Produce json
// @Param request body services.PaymentRequest true "Payment request"
// @Success 201 {object} services.PaymentInit
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /payments/initiate [post]
func (h *PaymentHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req services.PaymentRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}
	if p, ok := middleware.PrincipalFrom(r.Context()); ok {
		req.BuyerID = p.UserID
		req.BuyerEmail = p.Email
	}

	out, err := h.service.InitiatePayment(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	zap.L().Info("Payment initiated",
		zap.String("order_id", out.OrderID),
		zap.String("reference", out.Reference),
		zap.Bool("free", out.IsFree))
	writeJSON(w, http.StatusCreated, out)
}

type verifyRequest struct {
	Reference string `json:"reference" validate:"required,max=128"`
}

// Verify confirms a payment with the gateway and applies it to the ledger
// @Summary Verify payment
// @Description Verify a payment reference. Safe to repeat: the sale is applied at most once.
// @Tags Payments
// @Accept json
// @Produce json
// @Param request body object{reference=string} true "Payment reference"
// @Success 200 {object} services.SaleResult
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /payments/verify [post]
func (h *PaymentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	result, err := h.service.VerifyPayment(r.Context(), req.Reference)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
