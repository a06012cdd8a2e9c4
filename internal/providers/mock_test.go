package providers

import (
	"context"
	"net/http"
	"testing"
	"time"

	domainErrors "github.com/hopngo/payments/internal/domain/errors"
	"github.com/hopngo/payments/internal/domain/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMockProvider(t *testing.T) {
	provider := NewMockProvider("mock")

	assert.NotNil(t, provider)
	assert.Equal(t, "mock", provider.Name())
}

func TestMockProvider_CreatePaymentIntent(t *testing.T) {
	provider := NewMockProvider("mock")

	result, err := provider.CreatePaymentIntent(context.Background(), IntentRequest{
		OrderID:     "order-1",
		AmountCents: 10000,
		Currency:    "USD",
	})
	require.NoError(t, err)
	assert.Contains(t, result.IntentID, "mock_pi_")
	assert.Contains(t, result.ClientSecret, result.IntentID+"_secret_")
	assert.NotEmpty(t, result.Status)
}

func TestMockProvider_Timeout(t *testing.T) {
	provider := NewMockProvider("mock", WithTimeoutRate(1.0))

	_, err := provider.CreatePaymentIntent(context.Background(), IntentRequest{AmountCents: 100, Currency: "USD"})
	assert.ErrorIs(t, err, domainErrors.ErrProviderTimeout)

	_, err = provider.RefundPayment(context.Background(), RefundRequest{TransactionID: "pi_1", AmountCents: 100})
	assert.ErrorIs(t, err, domainErrors.ErrProviderTimeout)
}

func TestMockProvider_RefundPayment(t *testing.T) {
	tests := []struct {
		name        string
		declineRate float64
		wantSuccess bool
	}{
		{"success", 0.0, true},
		{"decline", 1.0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := NewMockProvider("mock", WithDeclineRate(tt.declineRate))

			result, err := provider.RefundPayment(context.Background(), RefundRequest{
				TransactionID:  "mock_pi_123",
				AmountCents:    5000,
				Currency:       "USD",
				IdempotencyKey: "r1:1",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantSuccess, result.Success)
			if tt.wantSuccess {
				assert.Contains(t, result.ProviderRefundID, "mock_re_")
			} else {
				assert.Equal(t, "refund_declined", result.FailureCode)
				assert.Contains(t, result.Message, "mock_pi_123")
			}
		})
	}
}

func TestMockProvider_Latency(t *testing.T) {
	latency := 50 * time.Millisecond
	provider := NewMockProvider("mock", WithLatency(latency))

	start := time.Now()
	_, err := provider.RefundPayment(context.Background(), RefundRequest{TransactionID: "pi_1", AmountCents: 100})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), latency)
}

func TestMockProvider_LatencyHonoursContext(t *testing.T) {
	provider := NewMockProvider("mock", WithLatency(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := provider.CreatePaymentIntent(ctx, IntentRequest{AmountCents: 100, Currency: "USD"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMockProvider_ParseWebhook(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantKind webhook.Kind
		wantErr  bool
	}{
		{"succeeded", `{"event_id":"evt_1","event_type":"payment.succeeded","payment_intent_id":"pi_1"}`, webhook.KindSucceeded, false},
		{"failed", `{"event_id":"evt_2","event_type":"payment.failed","payment_intent_id":"pi_1","reason":"insufficient funds"}`, webhook.KindFailed, false},
		{"canceled", `{"event_id":"evt_3","event_type":"payment.canceled","payment_intent_id":"pi_1"}`, webhook.KindCanceled, false},
		{"unrecognized", `{"event_id":"evt_4","event_type":"customer.created"}`, webhook.KindUnrecognized, false},
		{"not json", `not-json`, "", true},
		{"missing event id", `{"event_type":"payment.succeeded"}`, "", true},
		{"missing event type", `{"event_id":"evt_5"}`, "", true},
	}

	provider := NewMockProvider("mock")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := provider.ParseWebhook([]byte(tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domainErrors.ErrMalformedWebhook)
				assert.True(t, domainErrors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, n.Kind)
			assert.NotEmpty(t, n.EventID)
		})
	}
}

func TestMockProvider_ParseWebhook_CarriesReason(t *testing.T) {
	n, err := NewMockProvider("mock").ParseWebhook(
		[]byte(`{"event_id":"evt_2","event_type":"payment.failed","payment_intent_id":"pi_9","reason":"insufficient funds"}`))
	require.NoError(t, err)
	assert.Equal(t, "pi_9", n.IntentID)
	assert.Equal(t, "insufficient funds", n.Reason)
	assert.Equal(t, "payment.failed", n.EventType)
}

func TestMockProvider_VerifyWebhook(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		header string
		want   bool
	}{
		{"matching secret", "s3cret", "s3cret", true},
		{"wrong secret", "s3cret", "other", false},
		{"missing header", "s3cret", "", false},
		{"unconfigured secret", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := NewMockProvider("mock", WithWebhookSecret(tt.secret))
			headers := http.Header{}
			if tt.header != "" {
				headers.Set(MockSignatureHeader, tt.header)
			}
			assert.Equal(t, tt.want, provider.VerifyWebhook([]byte(`{}`), headers))
		})
	}
}

func TestMockProvider_VerifyOverride(t *testing.T) {
	provider := NewMockProvider("mock", WithWebhookSecret("s3cret"), WithVerifyResult(false))
	headers := http.Header{}
	headers.Set(MockSignatureHeader, "s3cret")

	assert.False(t, provider.VerifyWebhook(nil, headers))
}

func TestMockProvider_IntentStatus(t *testing.T) {
	provider := NewMockProvider("mock", WithIntentStatus(IntentSucceeded))

	status, err := provider.IntentStatus(context.Background(), "mock_pi_1")
	require.NoError(t, err)
	assert.Equal(t, IntentSucceeded, status)
}
