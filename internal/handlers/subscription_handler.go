package handlers

import (
	"net/http"

	"github.com/digimart/backend/internal/middleware"
	"github.com/digimart/backend/internal/services"
)

type SubscriptionHandler struct {
	service   SubscriptionService
	validator *ValidationHelper
}

func NewSubscriptionHandler(service SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{
		service:   service,
		validator: NewValidationHelper(),
	}
}

// Subscribe starts a seller plan subscription
// @Summary Subscribe to a plan
// @Description Switch to the free plan immediately or open a checkout for a paid plan.
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.SubscriptionRequest true "Plan"
// @Success 200 {object} services.SubscriptionInit
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /subscriptions [post]
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req services.SubscriptionRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}
	req.UserID = p.UserID
	req.Email = p.Email

	out, err := h.service.InitiateSubscription(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
