package providers

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/hopngo/payments/internal/domain/errors"
	"github.com/hopngo/payments/internal/domain/webhook"
)

// MockSignatureHeader carries the shared secret on mock provider callbacks.
const MockSignatureHeader = "X-Mock-Signature"

var mockKinds = map[string]webhook.Kind{
	"payment.succeeded": webhook.KindSucceeded,
	"payment.failed":    webhook.KindFailed,
	"payment.canceled":  webhook.KindCanceled,
}

// MockProvider is an in-process processor for local development and tests.
type MockProvider struct {
	name          string
	webhookSecret string
	declineRate   float64 // 0.0 to 1.0
	latency       time.Duration
	timeoutRate   float64 // 0.0 to 1.0
	intentStatus  IntentStatus
	verify        *bool
}

type MockProviderOption func(*MockProvider)

func WithDeclineRate(rate float64) MockProviderOption {
	return func(p *MockProvider) { p.declineRate = rate }
}

func WithLatency(d time.Duration) MockProviderOption {
	return func(p *MockProvider) { p.latency = d }
}

func WithTimeoutRate(rate float64) MockProviderOption {
	return func(p *MockProvider) { p.timeoutRate = rate }
}

func WithWebhookSecret(secret string) MockProviderOption {
	return func(p *MockProvider) { p.webhookSecret = secret }
}

// WithIntentStatus fixes what IntentStatus reports for every intent.
func WithIntentStatus(s IntentStatus) MockProviderOption {
	return func(p *MockProvider) { p.intentStatus = s }
}

// WithVerifyResult forces VerifyWebhook to return ok regardless of headers.
func WithVerifyResult(ok bool) MockProviderOption {
	return func(p *MockProvider) { p.verify = &ok }
}

func NewMockProvider(name string, opts ...MockProviderOption) *MockProvider {
	p := &MockProvider{
		name:         name,
		latency:      0,
		intentStatus: IntentPending,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *MockProvider) Name() string { return p.name }

func (p *MockProvider) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*IntentResult, error) {
	if err := p.simulate(ctx); err != nil {
		return nil, err
	}

	id := fmt.Sprintf("%s_pi_%s", p.name, uuid.New().String()[:8])
	return &IntentResult{
		IntentID:     id,
		ClientSecret: id + "_secret_" + uuid.New().String()[:8],
		Status:       "requires_payment_method",
	}, nil
}

type mockWebhookPayload struct {
	EventID         string `json:"event_id"`
	EventType       string `json:"event_type"`
	PaymentIntentID string `json:"payment_intent_id"`
	Reason          string `json:"reason"`
}

func (p *MockProvider) ParseWebhook(payload []byte) (*Notification, error) {
	var body mockWebhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, malformed(p.name, err.Error())
	}
	if body.EventID == "" {
		return nil, malformed(p.name, "missing event_id")
	}
	if body.EventType == "" {
		return nil, malformed(p.name, "missing event_type")
	}

	kind, ok := mockKinds[body.EventType]
	if !ok {
		kind = webhook.KindUnrecognized
	}
	return &Notification{
		EventID:   body.EventID,
		EventType: body.EventType,
		Kind:      kind,
		IntentID:  body.PaymentIntentID,
		Reason:    body.Reason,
	}, nil
}

func (p *MockProvider) VerifyWebhook(_ []byte, headers http.Header) bool {
	if p.verify != nil {
		return *p.verify
	}
	return tokenMatches(headers.Get(MockSignatureHeader), p.webhookSecret)
}

func (p *MockProvider) RefundPayment(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if err := p.simulate(ctx); err != nil {
		return nil, err
	}

	if rand.Float64() < p.declineRate {
		return Declined("refund_declined", fmt.Sprintf("%s: simulated refund decline for %s", p.name, req.TransactionID)), nil
	}

	return &RefundResult{
		Success:          true,
		ProviderRefundID: fmt.Sprintf("%s_re_%s", p.name, uuid.New().String()[:8]),
	}, nil
}

func (p *MockProvider) IntentStatus(ctx context.Context, _ string) (IntentStatus, error) {
	if err := p.simulate(ctx); err != nil {
		return "", err
	}
	return p.intentStatus, nil
}

func (p *MockProvider) simulate(ctx context.Context) error {
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if rand.Float64() < p.timeoutRate {
		return domainErrors.ErrProviderTimeout
	}
	return nil
}

// tokenMatches compares a presented secret in constant time. An empty
// expected secret never matches.
func tokenMatches(presented, expected string) bool {
	if expected == "" || presented == "" {
		return false
	}
	return hmac.Equal([]byte(presented), []byte(expected))
}

func malformed(provider, detail string) error {
	return domainErrors.NewDomainError(
		"malformed_webhook",
		fmt.Sprintf("%s webhook: %s", provider, detail),
		domainErrors.ErrMalformedWebhook,
	)
}
