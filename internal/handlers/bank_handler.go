package handlers

import (
	"net/http"
)

type BankHandler struct {
	service   BankService
	validator *ValidationHelper
}

func NewBankHandler(service BankService) *BankHandler {
	return &BankHandler{
		service:   service,
		validator: NewValidationHelper(),
	}
}

// ListBanks returns the supported payout banks
// @Summary List banks
// @Tags Banks
// @Produce json
// @Success 200 {array} services.Bank
// @Router /banks [get]
func (h *BankHandler) ListBanks(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=86400")
	writeJSON(w, http.StatusOK, h.service.Banks())
}

type verifyAccountRequest struct {
	AccountNumber string `json:"account_number" validate:"required"`
	BankCode      string `json:"bank_code" validate:"required"`
}

// VerifyAccount resolves the holder name of a bank account
// @Summary Verify bank account
// @Tags Banks
// @Accept json
// @Produce json
// @Param request body object{account_number=string,bank_code=string} true "Account"
// @Success 200 {object} services.AccountVerification
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /banks/verify [post]
func (h *BankHandler) VerifyAccount(w http.ResponseWriter, r *http.Request) {
	var req verifyAccountRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	result, err := h.service.VerifyAccount(r.Context(), req.AccountNumber, req.BankCode)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
