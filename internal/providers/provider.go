package providers

import (
	"context"
	"net/http"

	"github.com/hopngo/payments/internal/domain/webhook"
)

// Provider is the capability set every payment processor adapter exposes.
// Implementations are stateless with respect to persistence.
type Provider interface {
	// Name returns the registry key, e.g. "stripe".
	Name() string
	// CreatePaymentIntent asks the processor for a new intent. Nothing is persisted.
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (*IntentResult, error)
	// ParseWebhook extracts the event identity and meaning from a raw callback body.
	ParseWebhook(payload []byte) (*Notification, error)
	// VerifyWebhook authenticates a raw callback. Any missing material or error yields false.
	VerifyWebhook(payload []byte, headers http.Header) bool
	// RefundPayment refunds a captured transaction. A decline is a result with
	// Success=false and a nil error; transport and server failures are errors.
	RefundPayment(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// StatusChecker is implemented by providers that can report an intent's current status.
type StatusChecker interface {
	IntentStatus(ctx context.Context, intentID string) (IntentStatus, error)
}

type IntentRequest struct {
	OrderID     string
	AmountCents int64 // in cents
	Currency    string
	Metadata    map[string]string
	// IdempotencyKey is the same for every retry of one payment attempt.
	IdempotencyKey string
}

type IntentResult struct {
	IntentID     string
	ClientSecret string
	Status       string
}

// Notification is the provider-independent view of one webhook delivery.
type Notification struct {
	EventID   string
	EventType string
	Kind      webhook.Kind
	IntentID  string
	Reason    string
}

type RefundRequest struct {
	TransactionID  string
	AmountCents    int64 // in cents
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

type RefundResult struct {
	Success          bool
	ProviderRefundID string
	FailureCode      string
	Message          string
}

// IntentStatus is what a processor currently reports for an intent.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentSucceeded IntentStatus = "succeeded"
	IntentFailed    IntentStatus = "failed"
	IntentCanceled  IntentStatus = "canceled"
)

// Declined builds the result of a refund the processor refused.
func Declined(code, message string) *RefundResult {
	return &RefundResult{Success: false, FailureCode: code, Message: message}
}
