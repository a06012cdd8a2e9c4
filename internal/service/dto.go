package service

import (
	"github.com/google/uuid"
	"github.com/hopngo/payments/internal/domain/payment"
	"github.com/hopngo/payments/internal/domain/webhook"
)

// Controllers convert their HTTP DTOs to this type.
type CreatePaymentIntentRequest struct {
	OrderID  uuid.UUID
	Amount   payment.Amount
	Provider string // empty selects the configured default
}

type CreatePaymentIntentResponse struct {
	Payment *payment.Payment
	// Existing is set when a pending payment for the same provider was returned
	// instead of creating a new intent.
	Existing bool
}

// WebhookResult is what the HTTP layer reports back to the processor.
type WebhookResult struct {
	EventID   string
	Processed bool
	Duplicate bool
	Status    webhook.Status
	Reason    string
}

// RefundRequestedEvent is the upstream trigger published by the booking
// component, also accepted over HTTP.
type RefundRequestedEvent struct {
	RequestID string    // upstream identity; empty disables replay detection
	BookingID uuid.UUID // the booking's order id; used when PaymentID is empty
	PaymentID string    // payment uuid or provider intent id
	Amount    payment.Amount
	Reason    string
	UserID    string
}
