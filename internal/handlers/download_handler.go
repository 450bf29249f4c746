package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type DownloadHandler struct {
	service DownloadService
}

func NewDownloadHandler(service DownloadService) *DownloadHandler {
	return &DownloadHandler{service: service}
}

// Redeem consumes a download grant
// @Summary Redeem download link
// @Description Each grant can be redeemed once before it expires.
// @Tags Downloads
// @Produce json
// @Param token path string true "Download token"
// @Success 200 {object} services.Download
// @Failure 400 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /downloads/{token} [get]
func (h *DownloadHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		SendErrorResponse(w, "Download token required", http.StatusBadRequest, nil)
		return
	}

	dl, err := h.service.Redeem(r.Context(), token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	zap.L().Info("Download redeemed", zap.String("grant_id", dl.GrantID), zap.String("product_id", dl.ProductID))
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, dl)
}
