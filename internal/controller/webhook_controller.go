package controller

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	domainErrors "github.com/hopngo/payments/internal/domain/errors"
	"github.com/hopngo/payments/internal/service"
	"github.com/rs/zerolog/log"
)

// MaxWebhookBodySize caps provider callback bodies.
const MaxWebhookBodySize = 1 << 20

// WebhookController receives provider callbacks. It is unauthenticated;
// each provider adapter verifies its own signature.
type WebhookController struct {
	webhookService *service.WebhookService
}

func NewWebhookController(webhookService *service.WebhookService) *WebhookController {
	return &WebhookController{webhookService: webhookService}
}

// Receive handles POST /payments/webhooks/{provider}
func (h *WebhookController) Receive(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "payload too large", Code: "payload_too_large"})
			return
		}
		writeError(w, domainErrors.NewValidationError("body", "could not read request body"))
		return
	}

	res, err := h.webhookService.ProcessWebhook(r.Context(), provider, body, r.Header)
	if err != nil {
		if errors.Is(err, domainErrors.ErrInvalidSignature) {
			log.Warn().
				Bool("security", true).
				Str("provider", provider).
				Str("remote_addr", r.RemoteAddr).
				Msg("Rejected webhook with invalid signature")
		}
		// Nothing was committed; the provider should redeliver.
		if domainErrors.IsTransient(err) {
			w.Header().Set("Retry-After", "5")
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "webhook not applied, please retry", Code: "retry_later"})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromWebhookResult(res))
}
