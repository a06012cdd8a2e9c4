package errors

import (
	"errors"
	"fmt"
)

var (
	// Order errors
	ErrOrderNotFound    = errors.New("order not found")
	ErrOrderAlreadyPaid = errors.New("order already paid")

	// Payment errors
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrPaymentInProgress      = errors.New("a pending payment already exists for this order")
	ErrPaymentNotRefundable   = errors.New("payment is not refundable")
	ErrAmountMismatch         = errors.New("amount mismatch")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrConcurrentModification = errors.New("concurrent modification")

	// Refund errors
	ErrRefundNotFound         = errors.New("refund not found")
	ErrRefundAlreadyPending   = errors.New("a pending refund already exists for this payment")
	ErrRefundNotRetryable     = errors.New("refund can only be retried from FAILED")
	ErrRefundExceedsPayment   = errors.New("refund amount exceeds remaining refundable amount")
	ErrDuplicateRefundRequest = errors.New("refund request already recorded")

	// Webhook errors
	ErrWebhookEventNotFound = errors.New("webhook event not found")
	ErrDuplicateWebhook     = errors.New("duplicate webhook delivery")
	ErrMalformedWebhook     = errors.New("malformed webhook payload")
	ErrInvalidSignature     = errors.New("invalid webhook signature")

	// Provider errors
	ErrProviderNotFound    = errors.New("provider not supported")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrProviderTimeout     = errors.New("provider request timeout")

	// Idempotency errors
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// Lock errors
	ErrLockAcquisitionFailed = errors.New("failed to acquire lock")
	ErrLockNotHeld           = errors.New("lock not held")

	// Auth errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// Unwrap lets callers match any validation error with errors.Is(err, ErrValidationFailed).
func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

var (
	transientErrors  = []error{ErrProviderUnavailable, ErrProviderTimeout, ErrLockAcquisitionFailed, ErrConcurrentModification}
	notFoundErrors   = []error{ErrOrderNotFound, ErrPaymentNotFound, ErrRefundNotFound, ErrWebhookEventNotFound}
	stateErrors      = []error{ErrOrderAlreadyPaid, ErrPaymentInProgress, ErrPaymentNotRefundable, ErrInvalidStateTransition, ErrRefundAlreadyPending, ErrRefundNotRetryable, ErrDuplicateRefundRequest}
	validationErrors = []error{ErrValidationFailed, ErrInvalidInput, ErrInvalidAmount, ErrAmountMismatch, ErrProviderNotFound, ErrMalformedWebhook, ErrRefundExceedsPayment}
)

// IsTransient reports whether err is worth retrying later without changing the input.
func IsTransient(err error) bool { return isAny(err, transientErrors) }

// IsNotFound reports whether err refers to a missing entity.
func IsNotFound(err error) bool { return isAny(err, notFoundErrors) }

// IsState reports whether err was caused by the current state of an entity.
func IsState(err error) bool { return isAny(err, stateErrors) }

// IsValidation reports whether err was caused by bad input.
func IsValidation(err error) bool { return isAny(err, validationErrors) }

func isAny(err error, targets []error) bool {
	if err == nil {
		return false
	}
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
