package refund

import (
	"testing"

	"github.com/google/uuid"
	"github.com/hopngo/payments/internal/domain/errors"
	"github.com/hopngo/payments/internal/domain/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRefund(t *testing.T, cents int64) *Refund {
	t.Helper()
	r, err := NewRefund(uuid.New(), payment.Amount{ValueCents: cents, Currency: "USD"}, "booking cancelled", "user-1")
	require.NoError(t, err)
	return r
}

func TestNewRefund(t *testing.T) {
	r := newTestRefund(t, 5000)

	assert.NotEqual(t, uuid.Nil, r.ID)
	assert.Equal(t, StatusPending, r.Status)
	assert.Equal(t, 1, r.Attempts)
	assert.Equal(t, "booking cancelled", r.Reason)
	assert.Equal(t, "user-1", r.RequestedBy)
	assert.Nil(t, r.ProviderRefundID)
	assert.Nil(t, r.FailureReason)
}

func TestNewRefund_Invalid(t *testing.T) {
	_, err := NewRefund(uuid.New(), payment.Amount{ValueCents: 0, Currency: "USD"}, "", "")
	assert.ErrorIs(t, err, errors.ErrValidationFailed)

	_, err = NewRefund(uuid.Nil, payment.Amount{ValueCents: 100, Currency: "USD"}, "", "")
	assert.ErrorIs(t, err, errors.ErrValidationFailed)
}

func TestRefund_MarkCompleted(t *testing.T) {
	r := newTestRefund(t, 5000)

	require.NoError(t, r.MarkCompleted("re_123"))
	assert.Equal(t, StatusCompleted, r.Status)
	require.NotNil(t, r.ProviderRefundID)
	assert.Equal(t, "re_123", *r.ProviderRefundID)
	assert.NotNil(t, r.CompletedAt)
	assert.True(t, r.IsTerminal())
}

func TestRefund_MarkFailed_KeepsReasonVerbatim(t *testing.T) {
	r := newTestRefund(t, 5000)

	require.NoError(t, r.MarkFailed("charge_already_refunded: Charge ch_1 has already been refunded."))
	assert.Equal(t, StatusFailed, r.Status)
	require.NotNil(t, r.FailureReason)
	assert.Equal(t, "charge_already_refunded: Charge ch_1 has already been refunded.", *r.FailureReason)
	assert.False(t, r.IsTerminal())
}

func TestRefund_Retry(t *testing.T) {
	r := newTestRefund(t, 5000)
	require.NoError(t, r.MarkFailed("insufficient_funds"))
	firstKey := r.IdempotencyKey()

	require.NoError(t, r.Retry())
	assert.Equal(t, StatusPending, r.Status)
	assert.Equal(t, 2, r.Attempts)
	assert.Nil(t, r.FailureReason)
	assert.NotEqual(t, firstKey, r.IdempotencyKey())

	require.NoError(t, r.MarkCompleted("re_456"))
	assert.Equal(t, StatusCompleted, r.Status)
}

func TestRefund_Retry_OnlyFromFailed(t *testing.T) {
	tests := []struct {
		name   string
		status Status
	}{
		{"pending", StatusPending},
		{"completed", StatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRefund(t, 5000)
			r.Status = tt.status
			attempts := r.Attempts

			err := r.Retry()
			assert.ErrorIs(t, err, errors.ErrRefundNotRetryable)
			assert.Equal(t, tt.status, r.Status)
			assert.Equal(t, attempts, r.Attempts)
		})
	}
}

func TestRefund_InvalidTransitions(t *testing.T) {
	r := newTestRefund(t, 5000)
	require.NoError(t, r.MarkCompleted("re_1"))

	assert.ErrorIs(t, r.MarkFailed("late"), errors.ErrInvalidStateTransition)
	assert.ErrorIs(t, r.MarkCompleted("re_2"), errors.ErrInvalidStateTransition)
}

func TestOutstanding(t *testing.T) {
	paid := payment.Amount{ValueCents: 10000, Currency: "USD"}
	completed := newTestRefund(t, 3000)
	completed.Status = StatusCompleted
	pending := newTestRefund(t, 2000)
	failed := newTestRefund(t, 4000)
	failed.Status = StatusFailed

	existing := []*Refund{completed, pending, failed}

	assert.Equal(t, int64(5000), Outstanding(paid, existing, uuid.Nil))
	assert.Equal(t, int64(7000), Outstanding(paid, existing, pending.ID))
	assert.Equal(t, int64(10000), Outstanding(paid, nil, uuid.Nil))
}
