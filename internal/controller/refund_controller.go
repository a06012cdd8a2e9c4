package controller

import (
	"net/http"

	"github.com/google/uuid"
	domainErrors "github.com/hopngo/payments/internal/domain/errors"
	"github.com/hopngo/payments/internal/domain/payment"
	"github.com/hopngo/payments/internal/domain/refund"
	"github.com/hopngo/payments/internal/middleware"
	"github.com/hopngo/payments/internal/service"
)

// RefundController handles refund requests from authenticated users.
type RefundController struct {
	refundService *service.RefundService
	authz         *service.AuthzService
}

func NewRefundController(refundService *service.RefundService, authz *service.AuthzService) *RefundController {
	return &RefundController{refundService: refundService, authz: authz}
}

// Create handles POST /api/v1/refunds. The refund is recorded as PENDING;
// the provider is called by POST /api/v1/refunds/{id}/process or the worker.
func (h *RefundController) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRefundRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	evt := service.RefundRequestedEvent{
		PaymentID: req.PaymentID,
		Reason:    req.Reason,
	}
	if req.BookingID != "" {
		evt.BookingID = uuid.MustParse(req.BookingID) // validated above
	}
	evt.UserID, _ = middleware.GetUserID(r.Context())

	var err error
	if evt.PaymentID != "" {
		err = h.authz.VerifyPaymentRefOwnership(r.Context(), evt.PaymentID)
	} else {
		err = h.authz.VerifyOrderOwnership(r.Context(), evt.BookingID)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	evt.Amount, err = payment.AmountFromDecimal(req.Amount, req.Currency)
	if err != nil {
		writeError(w, err)
		return
	}

	rf, err := h.refundService.ProcessBookingRefund(r.Context(), evt)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, FromRefund(rf))
}

// Process handles POST /api/v1/refunds/{id}/process
func (h *RefundController) Process(w http.ResponseWriter, r *http.Request) {
	rf, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	rf, err := h.refundService.ProcessRefund(r.Context(), rf.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromRefund(rf))
}

// Get handles GET /api/v1/refunds/{id}
func (h *RefundController) Get(w http.ResponseWriter, r *http.Request) {
	rf, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, FromRefund(rf))
}

// ListMine handles GET /api/v1/users/me/refunds
func (h *RefundController) ListMine(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	limit, offset, err := parsePage(r)
	if err != nil {
		writeError(w, err)
		return
	}

	refunds, err := h.refundService.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ListResponse[*RefundResponse]{
		Items:  FromRefunds(refunds),
		Limit:  limit,
		Offset: offset,
	})
}

// loadOwned fetches the refund named in the path and checks the caller owns
// its payment. It writes the error response itself.
func (h *RefundController) loadOwned(w http.ResponseWriter, r *http.Request) (*refund.Refund, bool) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, err)
		return nil, false
	}

	rf, err := h.refundService.GetRefund(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return nil, false
	}

	if err := h.authz.VerifyPaymentOwnership(r.Context(), rf.PaymentID); err != nil {
		if domainErrors.IsNotFound(err) {
			err = domainErrors.ErrRefundNotFound
		}
		writeError(w, err)
		return nil, false
	}
	return rf, true
}
