package controller

import (
	"time"

	"github.com/hopngo/payments/internal/domain/payment"
	"github.com/hopngo/payments/internal/domain/refund"
	"github.com/hopngo/payments/internal/service"
	"github.com/shopspring/decimal"
)

// --- Request DTOs ---
// Money arrives as a decimal in major units ("125.50" or 125.50). Controllers
// convert to payment.Amount before calling the services.

// CreatePaymentIntentRequest holds the input for starting a payment.
type CreatePaymentIntentRequest struct {
	OrderID  string          `json:"order_id" validate:"required,uuid"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"required,len=3,uppercase"`
	Provider string          `json:"provider,omitempty" validate:"omitempty,max=32"`
}

// CreateRefundRequest mirrors the upstream refund-requested event.
type CreateRefundRequest struct {
	BookingID string          `json:"booking_id,omitempty" validate:"omitempty,uuid"`
	PaymentID string          `json:"payment_id,omitempty" validate:"required_without=BookingID,max=255"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency" validate:"required,len=3,uppercase"`
	Reason    string          `json:"reason" validate:"required,max=500"`
}

// --- Response DTOs ---

// PaymentResponse represents a payment in API responses.
type PaymentResponse struct {
	ID               string     `json:"id"`
	OrderID          string     `json:"order_id"`
	Provider         string     `json:"provider"`
	ProviderIntentID string     `json:"provider_intent_id"`
	Amount           string     `json:"amount"`
	Currency         string     `json:"currency"`
	Status           string     `json:"status"`
	FailureReason    *string    `json:"failure_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// PaymentIntentResponse is returned once, to the payer, when an intent is
// created. It is the only response carrying the client secret.
type PaymentIntentResponse struct {
	*PaymentResponse
	ClientSecret string `json:"client_secret,omitempty"`
	Existing     bool   `json:"existing"`
}

// RefundResponse represents a refund in API responses.
type RefundResponse struct {
	ID               string     `json:"id"`
	PaymentID        string     `json:"payment_id"`
	BookingID        *string    `json:"booking_id,omitempty"`
	RequestedBy      string     `json:"requested_by,omitempty"`
	Amount           string     `json:"amount"`
	Currency         string     `json:"currency"`
	Reason           string     `json:"reason"`
	Status           string     `json:"status"`
	ProviderRefundID *string    `json:"provider_refund_id,omitempty"`
	FailureReason    *string    `json:"failure_reason,omitempty"`
	Attempts         int        `json:"attempts"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// WebhookResponse is the acknowledgement sent back to the provider.
type WebhookResponse struct {
	Received  bool   `json:"received"`
	Processed bool   `json:"processed"`
	Duplicate bool   `json:"duplicate"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// ListResponse wraps paginated collections.
type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

// FromPayment converts a domain payment to API response.
func FromPayment(p *payment.Payment) *PaymentResponse {
	return &PaymentResponse{
		ID:               p.ID.String(),
		OrderID:          p.OrderID.String(),
		Provider:         string(p.Provider),
		ProviderIntentID: p.ProviderIntentID,
		Amount:           formatAmount(p.Amount),
		Currency:         p.Amount.Currency,
		Status:           string(p.Status),
		FailureReason:    p.FailureReason,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
		CompletedAt:      p.CompletedAt,
	}
}

// FromIntent converts the result of CreatePaymentIntent.
func FromIntent(resp *service.CreatePaymentIntentResponse) *PaymentIntentResponse {
	return &PaymentIntentResponse{
		PaymentResponse: FromPayment(resp.Payment),
		ClientSecret:    resp.Payment.ClientSecret,
		Existing:        resp.Existing,
	}
}

// FromRefund converts a domain refund to API response.
func FromRefund(r *refund.Refund) *RefundResponse {
	resp := &RefundResponse{
		ID:               r.ID.String(),
		PaymentID:        r.PaymentID.String(),
		RequestedBy:      r.RequestedBy,
		Amount:           formatAmount(r.Amount),
		Currency:         r.Amount.Currency,
		Reason:           r.Reason,
		Status:           string(r.Status),
		ProviderRefundID: r.ProviderRefundID,
		FailureReason:    r.FailureReason,
		Attempts:         r.Attempts,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		CompletedAt:      r.CompletedAt,
	}
	if r.BookingID != nil {
		bid := r.BookingID.String()
		resp.BookingID = &bid
	}
	return resp
}

// FromRefunds converts a slice of refunds, never returning nil.
func FromRefunds(rs []*refund.Refund) []*RefundResponse {
	out := make([]*RefundResponse, 0, len(rs))
	for _, r := range rs {
		out = append(out, FromRefund(r))
	}
	return out
}

// FromWebhookResult converts the outcome of one webhook delivery.
func FromWebhookResult(res *service.WebhookResult) *WebhookResponse {
	return &WebhookResponse{
		Received:  true,
		Processed: res.Processed,
		Duplicate: res.Duplicate,
		Status:    string(res.Status),
		Reason:    res.Reason,
	}
}

// formatAmount renders minor units as a fixed two-decimal string.
func formatAmount(a payment.Amount) string {
	return a.Decimal().StringFixed(2)
}
