package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/digimart/backend/internal/middleware"
	"github.com/digimart/backend/internal/models"
	"github.com/digimart/backend/internal/services"
)

type WithdrawalHandler struct {
	wallets     WalletService
	withdrawals WithdrawalService
	validator   *ValidationHelper
}

func NewWithdrawalHandler(wallets WalletService, withdrawals WithdrawalService) *WithdrawalHandler {
	return &WithdrawalHandler{
		wallets:     wallets,
		withdrawals: withdrawals,
		validator:   NewValidationHelper(),
	}
}

// GetWallet returns the caller's wallet
// @Summary Get wallet
// @Tags Wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.Wallet
// @Failure 401 {object} ErrorResponse
// @Router /wallet [get]
func (h *WithdrawalHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	h.writeWallet(w, r, models.UserWalletRef(p.UserID))
}

// ListTransactions returns the caller's ledger rows, newest first
// @Summary List wallet transactions
// @Tags Wallet
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size (max 100)"
// @Param offset query int false "Offset"
// @Success 200 {array} models.Transaction
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /wallet/transactions [get]
func (h *WithdrawalHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		SendErrorResponse(w, "Invalid limit", http.StatusBadRequest, nil)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		SendErrorResponse(w, "Invalid offset", http.StatusBadRequest, nil)
		return
	}

	txns, err := h.wallets.ListTransactions(r.Context(), models.UserWalletRef(p.UserID), limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if txns == nil {
		txns = []models.Transaction{}
	}
	writeJSON(w, http.StatusOK, txns)
}

// RequestWithdrawal debits the caller's wallet and dispatches a payout
// @Summary Request withdrawal
// @Tags Withdrawals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.WithdrawalRequest true "Withdrawal"
// @Success 201 {object} models.Withdrawal
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /withdrawals [post]
func (h *WithdrawalHandler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req services.WithdrawalRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}
	req.UserID = p.UserID
	h.submit(w, r, req)
}

// AdminWallet returns the platform wallet
// @Summary Get platform wallet
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.Wallet
// @Failure 403 {object} ErrorResponse
// @Router /admin/wallet [get]
func (h *WithdrawalHandler) AdminWallet(w http.ResponseWriter, r *http.Request) {
	h.writeWallet(w, r, models.PlatformWallet)
}

// AdminRequestWithdrawal withdraws from the platform wallet
// @Summary Request platform withdrawal
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.WithdrawalRequest true "Withdrawal"
// @Success 201 {object} models.Withdrawal
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /admin/withdrawals [post]
func (h *WithdrawalHandler) AdminRequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req services.WithdrawalRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}
	req.Admin = true
	h.submit(w, r, req)
}

type completeRequest struct {
	ExternalReference string `json:"external_reference" validate:"omitempty,max=128"`
}

// AdminComplete marks a pending withdrawal paid out
// @Summary Complete withdrawal
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Withdrawal ID"
// @Param request body object{external_reference=string} false "Payout reference"
// @Success 200 {object} models.Withdrawal
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /admin/withdrawals/{id}/complete [post]
func (h *WithdrawalHandler) AdminComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, h.validator, &req) {
		return
	}

	wd, err := h.withdrawals.CompleteWithdrawal(r.Context(), chi.URLParam(r, "id"), req.ExternalReference)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wd)
}

type failRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
	// ProviderConfirmed is set once the admin has checked with the provider
	// that a dispatched transfer did not pay out.
	ProviderConfirmed bool `json:"provider_confirmed"`
}

// AdminFail fails a pending withdrawal and refunds the wallet. A transfer
// already sent to the provider is only failed with provider_confirmed.
// @Summary Fail withdrawal
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Withdrawal ID"
// @Param request body object{reason=string,provider_confirmed=bool} true "Failure reason"
// @Success 200 {object} models.Withdrawal
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /admin/withdrawals/{id}/fail [post]
func (h *WithdrawalHandler) AdminFail(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	id := chi.URLParam(r, "id")
	fail := h.withdrawals.CancelWithdrawal
	if req.ProviderConfirmed {
		zap.L().Warn("Admin failing withdrawal on provider confirmation", zap.String("withdrawal_id", id))
		fail = h.withdrawals.FailWithdrawal
	}

	wd, err := fail(r.Context(), id, req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wd)
}

func (h *WithdrawalHandler) submit(w http.ResponseWriter, r *http.Request, req services.WithdrawalRequest) {
	wd, err := h.withdrawals.RequestWithdrawal(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wd)
}

func (h *WithdrawalHandler) writeWallet(w http.ResponseWriter, r *http.Request, ref models.WalletRef) {
	wallet, err := h.wallets.GetWallet(r.Context(), ref)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// queryInt returns 0 for an absent parameter.
func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
