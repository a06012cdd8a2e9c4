package controller

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/hopngo/payments/internal/domain/payment"
	"github.com/hopngo/payments/internal/service"
)

// PaymentController handles payment-related HTTP requests.
type PaymentController struct {
	paymentService *service.PaymentService
	refundService  *service.RefundService
	authz          *service.AuthzService
}

// NewPaymentController creates a new PaymentController.
func NewPaymentController(
	paymentService *service.PaymentService,
	refundService *service.RefundService,
	authz *service.AuthzService,
) *PaymentController {
	return &PaymentController{
		paymentService: paymentService,
		refundService:  refundService,
		authz:          authz,
	}
}

// CreateIntent handles POST /api/v1/payments/intents
func (h *PaymentController) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentIntentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	orderID := uuid.MustParse(req.OrderID) // validated above
	if err := h.authz.VerifyOrderOwnership(r.Context(), orderID); err != nil {
		writeError(w, err)
		return
	}

	amount, err := payment.AmountFromDecimal(req.Amount, req.Currency)
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.paymentService.CreatePaymentIntent(r.Context(), service.CreatePaymentIntentRequest{
		OrderID:  orderID,
		Amount:   amount,
		Provider: req.Provider,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if resp.Existing {
		status = http.StatusOK
	}
	writeJSON(w, status, FromIntent(resp))
}

// GetPayment handles GET /api/v1/payments/{id}
func (h *PaymentController) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.authz.VerifyPaymentOwnership(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	p, err := h.paymentService.GetPayment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromPayment(p))
}

// ListRefunds handles GET /api/v1/payments/{id}/refunds
func (h *PaymentController) ListRefunds(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.authz.VerifyPaymentOwnership(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	refunds, err := h.refundService.GetByPaymentID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromRefunds(refunds))
}
