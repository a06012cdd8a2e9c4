package refund

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for refund persistence
type Repository interface {
	// Create inserts a new refund. A second PENDING refund for the same payment
	// fails with errors.ErrRefundAlreadyPending, a reused request id with
	// errors.ErrDuplicateRefundRequest.
	Create(ctx context.Context, refund *Refund) error

	// GetByRequestID returns the refund recorded for an upstream request, or
	// errors.ErrRefundNotFound
	GetByRequestID(ctx context.Context, requestID string) (*Refund, error)

	// GetByID retrieves a refund by ID
	GetByID(ctx context.Context, id uuid.UUID) (*Refund, error)

	// Update persists status, provider reference, failure reason and attempts
	Update(ctx context.Context, refund *Refund) error

	// ListByPaymentID lists the refunds of a payment, newest first
	ListByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]*Refund, error)

	// ListByUserID lists refunds whose payment's order belongs to the user, newest first
	ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*Refund, error)

	// HasPending reports whether the payment has a PENDING refund
	HasPending(ctx context.Context, paymentID uuid.UUID) (bool, error)

	// ListStalePending lists PENDING refunds last updated before the given time
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*Refund, error)
}
