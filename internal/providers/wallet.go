package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	domainErrors "github.com/hopngo/payments/internal/domain/errors"
	"github.com/hopngo/payments/internal/domain/webhook"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	BkashTokenHeader = "X-Bkash-Webhook-Token"
	NagadTokenHeader = "X-Nagad-Webhook-Token"
)

// walletDialect captures what differs between mobile-wallet processors.
type walletDialect struct {
	name        string
	createPath  string
	refundPath  string
	statusPath  string
	tokenHeader string
	authHeader  string
	kinds       map[string]webhook.Kind
}

var bkashDialect = walletDialect{
	name:        "bkash",
	createPath:  "/tokenized/checkout/create",
	refundPath:  "/tokenized/checkout/payment/refund",
	statusPath:  "/tokenized/checkout/payment/status/",
	tokenHeader: BkashTokenHeader,
	authHeader:  "X-App-Key",
	kinds: map[string]webhook.Kind{
		"payment.completed": webhook.KindSucceeded,
		"payment.failed":    webhook.KindFailed,
		"payment.cancelled": webhook.KindCanceled,
	},
}

var nagadDialect = walletDialect{
	name:        "nagad",
	createPath:  "/api/dfs/check-out/initialize",
	refundPath:  "/api/dfs/purchase/refund",
	statusPath:  "/api/dfs/verify/payment/",
	tokenHeader: NagadTokenHeader,
	authHeader:  "X-KM-Merchant-Id",
	kinds: map[string]webhook.Kind{
		"PAYMENT_SUCCESS": webhook.KindSucceeded,
		"PAYMENT_FAILED":  webhook.KindFailed,
		"PAYMENT_ABORTED": webhook.KindCanceled,
	},
}

type WalletConfig struct {
	BaseURL      string
	MerchantID   string
	AppKey       string
	WebhookToken string
	HTTPClient   *http.Client
}

// WalletProvider talks JSON over HTTP to a mobile-wallet processor.
type WalletProvider struct {
	dialect    walletDialect
	cfg        WalletConfig
	httpClient *http.Client
}

func NewBkashProvider(cfg WalletConfig) *WalletProvider {
	return newWalletProvider(bkashDialect, cfg)
}

func NewNagadProvider(cfg WalletConfig) *WalletProvider {
	return newWalletProvider(nagadDialect, cfg)
}

func newWalletProvider(d walletDialect, cfg WalletConfig) *WalletProvider {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &WalletProvider{dialect: d, cfg: cfg, httpClient: httpClient}
}

func (p *WalletProvider) Name() string { return p.dialect.name }

type walletCreateRequest struct {
	MerchantID      string `json:"merchant_id,omitempty"`
	MerchantInvoice string `json:"merchant_invoice"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
}

type walletCreateResponse struct {
	PaymentID     string `json:"payment_id"`
	CheckoutToken string `json:"checkout_token"`
	Status        string `json:"status"`
}

type walletRefundRequest struct {
	PaymentID string `json:"payment_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference"`
}

type walletRefundResponse struct {
	RefundID     string `json:"refund_id"`
	Status       string `json:"status"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

type walletStatusResponse struct {
	Status string `json:"status"`
}

type walletWebhookPayload struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	PaymentID string `json:"payment_id"`
	Reason    string `json:"reason"`
}

// walletError is a non-2xx reply from the wallet API.
type walletError struct {
	StatusCode int
	Code       string `json:"error_code"`
	Message    string `json:"error_message"`
}

func (e *walletError) Error() string {
	return fmt.Sprintf("wallet returned status %d: %s %s", e.StatusCode, e.Code, e.Message)
}

func (e *walletError) transient() bool {
	return e.StatusCode >= http.StatusInternalServerError ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout
}

func (p *WalletProvider) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*IntentResult, error) {
	body := walletCreateRequest{
		MerchantID:      p.cfg.MerchantID,
		MerchantInvoice: req.OrderID,
		Amount:          formatMinor(req.AmountCents),
		Currency:        req.Currency,
	}
	resp, err := postJSON[walletCreateRequest, walletCreateResponse](p, ctx, p.dialect.createPath, body, req.IdempotencyKey)
	if err != nil {
		var we *walletError
		if errors.As(err, &we) && !we.transient() {
			return nil, domainErrors.NewDomainError("provider_rejected", p.Name()+": "+we.Message, domainErrors.ErrInvalidInput)
		}
		return nil, p.unavailable(err)
	}
	if resp.PaymentID == "" {
		return nil, p.unavailable(errors.New("empty payment_id in response"))
	}

	return &IntentResult{
		IntentID:     resp.PaymentID,
		ClientSecret: resp.CheckoutToken,
		Status:       resp.Status,
	}, nil
}

func (p *WalletProvider) ParseWebhook(payload []byte) (*Notification, error) {
	var body walletWebhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, malformed(p.Name(), err.Error())
	}
	if body.EventID == "" {
		return nil, malformed(p.Name(), "missing event_id")
	}
	if body.EventType == "" {
		return nil, malformed(p.Name(), "missing event_type")
	}

	kind, ok := p.dialect.kinds[body.EventType]
	if !ok {
		kind = webhook.KindUnrecognized
	}
	if kind != webhook.KindUnrecognized && body.PaymentID == "" {
		return nil, malformed(p.Name(), "missing payment_id")
	}
	return &Notification{
		EventID:   body.EventID,
		EventType: body.EventType,
		Kind:      kind,
		IntentID:  body.PaymentID,
		Reason:    body.Reason,
	}, nil
}

func (p *WalletProvider) VerifyWebhook(_ []byte, headers http.Header) bool {
	return tokenMatches(headers.Get(p.dialect.tokenHeader), p.cfg.WebhookToken)
}

func (p *WalletProvider) RefundPayment(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	body := walletRefundRequest{
		PaymentID: req.TransactionID,
		Amount:    formatMinor(req.AmountCents),
		Currency:  req.Currency,
		Reference: req.IdempotencyKey,
	}
	resp, err := postJSON[walletRefundRequest, walletRefundResponse](p, ctx, p.dialect.refundPath, body, req.IdempotencyKey)
	if err != nil {
		var we *walletError
		if errors.As(err, &we) && !we.transient() {
			return Declined(we.Code, we.Message), nil
		}
		return nil, p.unavailable(err)
	}

	switch resp.Status {
	case "completed", "success", "SUCCESS":
		return &RefundResult{Success: true, ProviderRefundID: resp.RefundID}, nil
	default:
		msg := resp.ErrorMessage
		if msg == "" {
			msg = "refund " + resp.Status
		}
		return Declined(resp.ErrorCode, msg), nil
	}
}

func (p *WalletProvider) IntentStatus(ctx context.Context, intentID string) (IntentStatus, error) {
	resp, err := getJSON[walletStatusResponse](p, ctx, p.dialect.statusPath+intentID)
	if err != nil {
		var we *walletError
		if errors.As(err, &we) && we.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("%s intent %s: %w", p.Name(), intentID, domainErrors.ErrPaymentNotFound)
		}
		return "", p.unavailable(err)
	}

	switch resp.Status {
	case "completed", "success", "SUCCESS":
		return IntentSucceeded, nil
	case "failed", "FAILED":
		return IntentFailed, nil
	case "cancelled", "ABORTED":
		return IntentCanceled, nil
	default:
		return IntentPending, nil
	}
}

func (p *WalletProvider) unavailable(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", p.Name(), domainErrors.ErrProviderTimeout)
	}
	return fmt.Errorf("%s: %w: %w", p.Name(), domainErrors.ErrProviderUnavailable, err)
}

func (p *WalletProvider) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	switch p.dialect.authHeader {
	case "X-KM-Merchant-Id":
		req.Header.Set(p.dialect.authHeader, p.cfg.MerchantID)
	default:
		req.Header.Set(p.dialect.authHeader, p.cfg.AppKey)
	}
	return req, nil
}

// postJSON is a generic helper for making POST requests to the wallet API
func postJSON[Req any, Resp any](p *WalletProvider, ctx context.Context, path string, req Req, idempotencyKey string) (*Resp, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("error marshalling json: %w", err)
	}

	httpReq, err := p.newRequest(ctx, http.MethodPost, path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}
	return doJSON[Resp](p, httpReq)
}

func getJSON[Resp any](p *WalletProvider, ctx context.Context, path string) (*Resp, error) {
	httpReq, err := p.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return doJSON[Resp](p, httpReq)
}

func doJSON[Resp any](p *WalletProvider, httpReq *http.Request) (*Resp, error) {
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		we := &walletError{StatusCode: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(body, we) != nil || we.Message == "" {
			we.Message = string(body)
		}
		return nil, we
	}

	var out Resp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("error decoding json response: %w", err)
	}
	return &out, nil
}

// formatMinor renders minor units as a two-decimal major-unit string.
func formatMinor(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
