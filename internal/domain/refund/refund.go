package refund

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hopngo/payments/internal/domain/errors"
	"github.com/hopngo/payments/internal/domain/payment"
)

// Status represents the refund status in the state machine
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Refund represents one refund attempt against a payment.
type Refund struct {
	ID               uuid.UUID
	PaymentID        uuid.UUID
	BookingID        *uuid.UUID
	RequestID        *string // upstream request identity; unique when set
	RequestedBy      string
	Amount           payment.Amount
	Reason           string
	Status           Status
	ProviderRefundID *string
	FailureReason    *string
	Attempts         int
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}

// NewRefund creates a pending refund for a payment.
func NewRefund(paymentID uuid.UUID, amount payment.Amount, reason, requestedBy string) (*Refund, error) {
	if err := amount.Validate(); err != nil {
		return nil, err
	}
	if paymentID == uuid.Nil {
		return nil, errors.NewValidationError("payment_id", "cannot be empty")
	}

	now := time.Now()
	return &Refund{
		ID:          uuid.New(),
		PaymentID:   paymentID,
		RequestedBy: requestedBy,
		Amount:      amount,
		Reason:      reason,
		Status:      StatusPending,
		Attempts:    1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusCompleted, StatusFailed},
	StatusFailed:    {StatusPending}, // manual retry
	StatusCompleted: {},
}

// CanTransitionTo checks if the refund can transition to the given status
func (r *Refund) CanTransitionTo(newStatus Status) bool {
	for _, allowed := range transitions[r.Status] {
		if allowed == newStatus {
			return true
		}
	}
	return false
}

func (r *Refund) transitionTo(newStatus Status) error {
	if !r.CanTransitionTo(newStatus) {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition refund from "+string(r.Status)+" to "+string(newStatus),
			errors.ErrInvalidStateTransition,
		)
	}
	r.Status = newStatus
	r.UpdatedAt = time.Now()
	return nil
}

// MarkCompleted records a successful provider refund.
func (r *Refund) MarkCompleted(providerRefundID string) error {
	if err := r.transitionTo(StatusCompleted); err != nil {
		return err
	}
	now := r.UpdatedAt
	r.CompletedAt = &now
	r.ProviderRefundID = &providerRefundID
	r.FailureReason = nil
	return nil
}

// MarkFailed records a provider decline; the reason is kept verbatim.
func (r *Refund) MarkFailed(reason string) error {
	if err := r.transitionTo(StatusFailed); err != nil {
		return err
	}
	r.FailureReason = &reason
	return nil
}

// Retry moves a FAILED refund back to PENDING for another provider attempt.
func (r *Refund) Retry() error {
	if r.Status != StatusFailed {
		return errors.NewDomainError(
			"refund_not_retryable",
			fmt.Sprintf("refund %s is %s", r.ID, r.Status),
			errors.ErrRefundNotRetryable,
		)
	}
	if err := r.transitionTo(StatusPending); err != nil {
		return err
	}
	r.Attempts++
	r.FailureReason = nil
	return nil
}

// IdempotencyKey identifies the current provider attempt, so a re-driven call
// for the same attempt is deduplicated by providers that support it.
func (r *Refund) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d", r.ID, r.Attempts)
}

// IsTerminal reports whether the refund reached COMPLETED. FAILED can still be retried.
func (r *Refund) IsTerminal() bool {
	return r.Status == StatusCompleted
}

// Outstanding returns how much of the payment is still refundable given its
// existing refunds. COMPLETED and PENDING refunds both count against it.
func Outstanding(paid payment.Amount, existing []*Refund, exclude uuid.UUID) int64 {
	remaining := paid.ValueCents
	for _, r := range existing {
		if r.ID == exclude {
			continue
		}
		if r.Status == StatusCompleted || r.Status == StatusPending {
			remaining -= r.Amount.ValueCents
		}
	}
	return remaining
}
