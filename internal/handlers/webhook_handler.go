package handlers

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/digimart/backend/internal/paystack"
	"github.com/digimart/backend/internal/services"
)

type WebhookHandler struct {
	verifier    SignatureVerifier
	payments    PaymentService
	withdrawals WithdrawalService
}

func NewWebhookHandler(verifier SignatureVerifier, payments PaymentService, withdrawals WithdrawalService) *WebhookHandler {
	return &WebhookHandler{
		verifier:    verifier,
		payments:    payments,
		withdrawals: withdrawals,
	}
}

// Paystack receives gateway events
// @Summary Paystack webhook
// @Description Charge and transfer events, authenticated by x-paystack-signature.
// @Tags Webhooks
// @Accept json
// @Produce json
// @Success 200 {object} object{status=string}
// @Failure 401 {object} ErrorResponse
// @Router /webhooks/paystack [post]
func (h *WebhookHandler) Paystack(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if !h.verifier.VerifySignature(body, r.Header.Get(paystack.SignatureHeader)) {
		zap.L().Warn("[WEBHOOK] Rejected unsigned event", zap.String("remote_addr", r.RemoteAddr))
		SendErrorResponse(w, "Invalid signature", http.StatusUnauthorized, nil)
		return
	}

	event, data, err := paystack.ParseWebhook(body)
	if err != nil {
		SendErrorResponse(w, "Invalid event payload", http.StatusBadRequest, nil)
		return
	}
	if data.Reference == "" {
		SendErrorResponse(w, "Event has no reference", http.StatusBadRequest, nil)
		return
	}

	log := zap.L().With(zap.String("event", event.Event), zap.String("reference", data.Reference))

	switch event.Event {
	case paystack.EventChargeSuccess:
		_, err = h.payments.VerifyPayment(r.Context(), data.Reference)
	case paystack.EventTransferSuccess:
		err = h.withdrawals.PublishPayoutEvent(r.Context(), services.PayoutEvent{
			Type:              services.PayoutCompleted,
			WithdrawalID:      data.Reference,
			ExternalReference: data.TransferCode,
		})
	case paystack.EventTransferFailed, paystack.EventTransferReversed:
		err = h.withdrawals.PublishPayoutEvent(r.Context(), services.PayoutEvent{
			Type:         services.PayoutFailed,
			WithdrawalID: data.Reference,
			Reason:       failureReason(event.Event, data),
		})
	default:
		log.Debug("[WEBHOOK] Ignoring event")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	// Acknowledge events that can never apply so the gateway stops retrying.
	switch {
	case err == nil:
		log.Info("[WEBHOOK] Event processed")
	case errors.Is(err, services.ErrPayoutAfterReversal):
		// Non-2xx keeps the event visible on the gateway side too.
		log.Error("[WEBHOOK] Transfer paid out for a reversed withdrawal", zap.Bool("alert", true), zap.Error(err))
		writeServiceError(w, r, err)
		return
	case errors.Is(err, services.ErrNotFound), errors.Is(err, services.ErrInvalidTransition):
		log.Warn("[WEBHOOK] Event not applicable", zap.Error(err))
	default:
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func failureReason(event string, data *paystack.WebhookData) string {
	switch {
	case data.Reason != "":
		return data.Reason
	case data.GatewayReason != "":
		return data.GatewayReason
	default:
		return event
	}
}
