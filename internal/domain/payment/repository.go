package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for payment persistence
type Repository interface {
	// Create inserts a new payment. A second PENDING payment for the same order
	// fails with errors.ErrPaymentInProgress.
	Create(ctx context.Context, payment *Payment) error

	// GetByID retrieves a payment by ID
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)

	// GetByIDForUpdate retrieves a payment and locks its row until the surrounding transaction ends
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Payment, error)

	// GetByProviderIntentID retrieves a payment by the provider-assigned intent id
	GetByProviderIntentID(ctx context.Context, intentID string) (*Payment, error)

	// GetPendingByOrderID returns the non-terminal payment of an order, if any
	GetPendingByOrderID(ctx context.Context, orderID uuid.UUID) (*Payment, error)

	// GetLatestSucceededByOrderID returns the most recent captured payment of an order
	GetLatestSucceededByOrderID(ctx context.Context, orderID uuid.UUID) (*Payment, error)

	// CountByOrderID counts every payment attempt recorded for an order
	CountByOrderID(ctx context.Context, orderID uuid.UUID) (int, error)

	// UpdateStatus persists a status change, guarded by the status the caller read.
	// Returns errors.ErrConcurrentModification when the row moved in between.
	UpdateStatus(ctx context.Context, payment *Payment, previous Status) error

	// ListStalePending lists PENDING payments last updated before the given time
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*Payment, error)
}
