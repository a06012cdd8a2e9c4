package payment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hopngo/payments/internal/domain/errors"
	"github.com/shopspring/decimal"
)

// Status represents the payment status in the state machine
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Provider identifies the payment processor that owns a payment.
type Provider string

const (
	ProviderMock   Provider = "mock"
	ProviderStripe Provider = "stripe"
	ProviderBkash  Provider = "bkash"
	ProviderNagad  Provider = "nagad"
)

// Payment represents one payment attempt against an order.
type Payment struct {
	ID               uuid.UUID
	OrderID          uuid.UUID
	Provider         Provider
	ProviderIntentID string
	Amount           Amount
	Status           Status
	ClientSecret     string
	FailureReason    *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}

// Amount represents a monetary amount in the smallest currency unit (e.g. cents).
type Amount struct {
	ValueCents int64
	Currency   string
}

// String returns a human-readable representation of the amount.
func (a Amount) String() string {
	whole := a.ValueCents / 100
	frac := a.ValueCents % 100
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%02d %s", whole, frac, a.Currency)
}

// Decimal returns the amount in major units, e.g. 100.00.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(a.ValueCents, -2)
}

// AmountFromDecimal converts a major-unit value such as 12.50 to an Amount.
// Values with sub-cent precision are rejected rather than rounded.
func AmountFromDecimal(value decimal.Decimal, currency string) (Amount, error) {
	cents := value.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return Amount{}, errors.NewValidationError("amount", "must have at most 2 decimal places")
	}
	if !cents.Truncate(0).BigInt().IsInt64() {
		return Amount{}, errors.NewValidationError("amount", "out of range")
	}
	amount := Amount{ValueCents: cents.IntPart(), Currency: currency}
	return amount, validateAmount(amount)
}

// Validate checks that the amount is valid.
func (a Amount) Validate() error {
	return validateAmount(a)
}

// Equal reports whether both amounts carry the same value and currency.
func (a Amount) Equal(other Amount) bool {
	return a.ValueCents == other.ValueCents && a.Currency == other.Currency
}

// NewPayment creates a pending payment for an order from a provider's intent.
func NewPayment(orderID uuid.UUID, provider Provider, intentID, clientSecret string, amount Amount) (*Payment, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if orderID == uuid.Nil {
		return nil, errors.NewValidationError("order_id", "cannot be empty")
	}
	if intentID == "" {
		return nil, errors.NewValidationError("provider_intent_id", "cannot be empty")
	}

	now := time.Now()
	return &Payment{
		ID:               uuid.New(),
		OrderID:          orderID,
		Provider:         provider,
		ProviderIntentID: intentID,
		Amount:           amount,
		Status:           StatusPending,
		ClientSecret:     clientSecret,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusSucceeded, StatusFailed, StatusCancelled},
	StatusSucceeded: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// CanTransitionTo checks if the payment can transition to the given status
func (p *Payment) CanTransitionTo(newStatus Status) bool {
	for _, allowed := range transitions[p.Status] {
		if allowed == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo moves the payment to newStatus. Re-applying the current terminal
// status is a no-op and reports changed=false.
func (p *Payment) TransitionTo(newStatus Status) (changed bool, err error) {
	if p.IsTerminal() && p.Status == newStatus {
		return false, nil
	}
	if !p.CanTransitionTo(newStatus) {
		return false, errors.NewDomainError(
			"invalid_transition",
			"cannot transition from "+string(p.Status)+" to "+string(newStatus),
			errors.ErrInvalidStateTransition,
		)
	}

	now := time.Now()
	p.Status = newStatus
	p.UpdatedAt = now
	if p.IsTerminal() {
		p.CompletedAt = &now
	}
	return true, nil
}

// MarkSucceeded transitions the payment to succeeded status
func (p *Payment) MarkSucceeded() (bool, error) {
	return p.TransitionTo(StatusSucceeded)
}

// MarkFailed transitions the payment to failed status
func (p *Payment) MarkFailed(reason string) (bool, error) {
	changed, err := p.TransitionTo(StatusFailed)
	if changed && reason != "" {
		p.FailureReason = &reason
	}
	return changed, err
}

// MarkCancelled transitions the payment to cancelled status
func (p *Payment) MarkCancelled() (bool, error) {
	return p.TransitionTo(StatusCancelled)
}

// IsTerminal checks if the payment is in a terminal state
func (p *Payment) IsTerminal() bool {
	return p.Status == StatusSucceeded ||
		p.Status == StatusFailed ||
		p.Status == StatusCancelled
}

// IsRefundable reports whether money was captured and can be returned.
func (p *Payment) IsRefundable() bool {
	return p.Status == StatusSucceeded
}

func validateAmount(amount Amount) error {
	if amount.ValueCents <= 0 {
		return errors.NewValidationError("amount", "must be greater than 0")
	}
	if amount.Currency == "" {
		return errors.NewValidationError("currency", "cannot be empty")
	}
	// Simple currency validation (3-letter code)
	if len(amount.Currency) != 3 {
		return errors.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	return nil
}
