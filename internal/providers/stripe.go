package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	domainErrors "github.com/hopngo/payments/internal/domain/errors"
	"github.com/hopngo/payments/internal/domain/webhook"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	stripeWebhook "github.com/stripe/stripe-go/v76/webhook"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const StripeSignatureHeader = "Stripe-Signature"

var stripeKinds = map[string]webhook.Kind{
	"payment_intent.succeeded":      webhook.KindSucceeded,
	"payment_intent.payment_failed": webhook.KindFailed,
	"payment_intent.canceled":       webhook.KindCanceled,
}

type StripeConfig struct {
	SecretKey        string
	WebhookSecret    string
	APIURL           string // overrides api.stripe.com, for stripe-mock and tests
	WebhookTolerance time.Duration
	HTTPClient       *http.Client
}

type StripeProvider struct {
	api           *client.API
	webhookSecret string
	tolerance     time.Duration
}

func NewStripeProvider(cfg StripeConfig) *StripeProvider {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if cfg.WebhookTolerance <= 0 {
		cfg.WebhookTolerance = stripeWebhook.DefaultTolerance
	}

	// Retries are owned by the registry and the reconciler.
	backendConfig := func(url string) *stripe.BackendConfig {
		c := &stripe.BackendConfig{
			HTTPClient:        httpClient,
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
		}
		if url != "" {
			c.URL = stripe.String(url)
		}
		return c
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig(cfg.APIURL)),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendConfig("")),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendConfig("")),
	}

	return &StripeProvider{
		api:           client.New(cfg.SecretKey, backends),
		webhookSecret: cfg.WebhookSecret,
		tolerance:     cfg.WebhookTolerance,
	}
}

func (p *StripeProvider) Name() string { return "stripe" }

func (p *StripeProvider) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*IntentResult, error) {
	params := &stripe.PaymentIntentParams{
		Params:   stripe.Params{Context: ctx},
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.AddMetadata("order_id", req.OrderID)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		if se, ok := asStripeError(err); ok && !stripeTransient(se) {
			return nil, domainErrors.NewDomainError("provider_rejected", "stripe: "+se.Msg, domainErrors.ErrInvalidInput)
		}
		return nil, stripeUnavailable(err)
	}

	return &IntentResult{
		IntentID:     pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
	}, nil
}

func (p *StripeProvider) ParseWebhook(payload []byte) (*Notification, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, malformed(p.Name(), err.Error())
	}
	if event.ID == "" {
		return nil, malformed(p.Name(), "missing event id")
	}
	if event.Type == "" {
		return nil, malformed(p.Name(), "missing event type")
	}

	n := &Notification{
		EventID:   event.ID,
		EventType: string(event.Type),
		Kind:      webhook.KindUnrecognized,
	}
	kind, ok := stripeKinds[string(event.Type)]
	if !ok {
		return n, nil
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, malformed(p.Name(), "missing data.object")
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, malformed(p.Name(), err.Error())
	}
	if pi.ID == "" {
		return nil, malformed(p.Name(), "missing payment intent id")
	}

	n.Kind = kind
	n.IntentID = pi.ID
	switch {
	case pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "":
		n.Reason = pi.LastPaymentError.Msg
	case pi.CancellationReason != "":
		n.Reason = string(pi.CancellationReason)
	}
	return n, nil
}

func (p *StripeProvider) VerifyWebhook(payload []byte, headers http.Header) bool {
	sig := headers.Get(StripeSignatureHeader)
	if p.webhookSecret == "" || sig == "" {
		return false
	}
	return stripeWebhook.ValidatePayloadWithTolerance(payload, sig, p.webhookSecret, p.tolerance) == nil
}

func (p *StripeProvider) RefundPayment(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	params := &stripe.RefundParams{
		Params:        stripe.Params{Context: ctx},
		PaymentIntent: stripe.String(req.TransactionID),
		Amount:        stripe.Int64(req.AmountCents),
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	re, err := p.api.Refunds.New(params)
	if err != nil {
		if se, ok := asStripeError(err); ok && !stripeTransient(se) {
			code := string(se.Code)
			if code == "" {
				code = string(se.Type)
			}
			return Declined(code, se.Msg), nil
		}
		return nil, stripeUnavailable(err)
	}

	switch re.Status {
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		reason := string(re.FailureReason)
		if reason == "" {
			reason = "refund " + string(re.Status)
		}
		return Declined(string(re.Status), reason), nil
	default:
		// succeeded, pending and requires_action are all accepted by Stripe.
		return &RefundResult{Success: true, ProviderRefundID: re.ID}, nil
	}
}

func (p *StripeProvider) IntentStatus(ctx context.Context, intentID string) (IntentStatus, error) {
	pi, err := p.api.PaymentIntents.Get(intentID, &stripe.PaymentIntentParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		if se, ok := asStripeError(err); ok && se.HTTPStatusCode == http.StatusNotFound {
			return "", fmt.Errorf("stripe intent %s: %w", intentID, domainErrors.ErrPaymentNotFound)
		}
		return "", stripeUnavailable(err)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return IntentSucceeded, nil
	case stripe.PaymentIntentStatusCanceled:
		return IntentCanceled, nil
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if pi.LastPaymentError != nil {
			return IntentFailed, nil
		}
	}
	return IntentPending, nil
}

func asStripeError(err error) (*stripe.Error, bool) {
	var se *stripe.Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// stripeTransient reports whether Stripe asked us to try again later.
func stripeTransient(se *stripe.Error) bool {
	return se.HTTPStatusCode == http.StatusTooManyRequests ||
		se.HTTPStatusCode >= http.StatusInternalServerError ||
		se.HTTPStatusCode == http.StatusUnauthorized ||
		se.Type == stripe.ErrorTypeAPI ||
		se.Type == stripe.ErrorTypeIdempotency
}

func stripeUnavailable(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("stripe: %w", domainErrors.ErrProviderTimeout)
	}
	return fmt.Errorf("stripe: %w: %w", domainErrors.ErrProviderUnavailable, err)
}
