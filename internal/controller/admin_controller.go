package controller

import (
	"net/http"

	"github.com/hopngo/payments/internal/middleware"
	"github.com/hopngo/payments/internal/service"
	"github.com/rs/zerolog/log"
)

// AdminController serves operator routes. Callers must hold the admin role.
type AdminController struct {
	refundService  *service.RefundService
	webhookService *service.WebhookService
}

func NewAdminController(refundService *service.RefundService, webhookService *service.WebhookService) *AdminController {
	return &AdminController{refundService: refundService, webhookService: webhookService}
}

// RetryRefund handles POST /api/v1/admin/refunds/{id}/retry
func (h *AdminController) RetryRefund(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	operator, _ := middleware.GetUserID(r.Context())
	log.Info().
		Str("refund_id", id.String()).
		Str("operator", operator).
		Msg("Operator retrying refund")

	rf, err := h.refundService.RetryFailedRefund(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromRefund(rf))
}

// WebhookStats handles GET /api/v1/admin/webhooks/stats
func (h *AdminController) WebhookStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.webhookService.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
