package testutil

import (
	"time"

	"github.com/google/uuid"
	"github.com/hopngo/payments/internal/domain/order"
	"github.com/hopngo/payments/internal/domain/payment"
	"github.com/hopngo/payments/internal/domain/refund"
)

func USD(cents int64) payment.Amount {
	return payment.Amount{ValueCents: cents, Currency: "USD"}
}

func NewTestOrder(userID string, totalCents int64) *order.Order {
	return &order.Order{
		ID:     uuid.New(),
		UserID: userID,
		Total:  USD(totalCents),
		Status: order.StatusAwaitingPayment,
	}
}

// NewTestPayment returns a PENDING payment for the order, owned by provider.
func NewTestPayment(o *order.Order, provider payment.Provider, intentID string) *payment.Payment {
	now := time.Now()
	return &payment.Payment{
		ID:               uuid.New(),
		OrderID:          o.ID,
		Provider:         provider,
		ProviderIntentID: intentID,
		Amount:           o.Total,
		Status:           payment.StatusPending,
		ClientSecret:     intentID + "_secret",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func NewSucceededPayment(o *order.Order, provider payment.Provider, intentID string) *payment.Payment {
	p := NewTestPayment(o, provider, intentID)
	p.Status = payment.StatusSucceeded
	completedAt := time.Now()
	p.CompletedAt = &completedAt
	return p
}

func NewTestRefund(p *payment.Payment, amountCents int64, status refund.Status) *refund.Refund {
	now := time.Now()
	r := &refund.Refund{
		ID:          uuid.New(),
		PaymentID:   p.ID,
		RequestedBy: "user-1",
		Amount:      payment.Amount{ValueCents: amountCents, Currency: p.Amount.Currency},
		Reason:      "test",
		Status:      status,
		Attempts:    1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if status == refund.StatusFailed {
		reason := "declined"
		r.FailureReason = &reason
	}
	return r
}

func UUIDPtr(id uuid.UUID) *uuid.UUID {
	return &id
}
