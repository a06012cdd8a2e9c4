// Package order describes the slice of the booking component's Order aggregate
// that payment processing depends on. Orders are owned elsewhere and only read here.
package order

import (
	"context"

	"github.com/google/uuid"
	"github.com/hopngo/payments/internal/domain/payment"
)

type Status string

const (
	StatusAwaitingPayment Status = "AWAITING_PAYMENT"
	StatusPaid            Status = "PAID"
	StatusCancelled       Status = "CANCELLED"
)

type Order struct {
	ID     uuid.UUID
	UserID string
	Total  payment.Amount
	Status Status
}

func (o *Order) IsPaid() bool {
	return o.Status == StatusPaid
}

// Reader is the read-only port onto the external order store.
type Reader interface {
	// GetByID returns errors.ErrOrderNotFound for unknown ids.
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
}
