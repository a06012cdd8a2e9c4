package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	domainErrors "github.com/hopngo/payments/internal/domain/errors"
	"github.com/hopngo/payments/internal/domain/order"
	"github.com/hopngo/payments/internal/domain/payment"
	"github.com/hopngo/payments/internal/domain/refund"
	"github.com/hopngo/payments/internal/infrastructure/config"
	"github.com/hopngo/payments/internal/infrastructure/observability"
	"github.com/hopngo/payments/internal/middleware"
	"github.com/hopngo/payments/internal/providers"
	"github.com/hopngo/payments/internal/repository/postgres"
	"github.com/hopngo/payments/internal/service"
	"github.com/hopngo/payments/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testJWTSecret     = "controller-test-secret-0123456789abcdef"
	testWebhookSecret = "whsec_test"
)

type fakeIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]*postgres.IdempotencyEntry
}

func (s *fakeIdempotencyStore) Get(_ context.Context, key string) (*postgres.IdempotencyEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[key], nil
}

func (s *fakeIdempotencyStore) Save(_ context.Context, e *postgres.IdempotencyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.Key]; !ok {
		s.entries[e.Key] = e
	}
	return nil
}

type apiFixture struct {
	router   http.Handler
	payments *testutil.MockPaymentRepository
	refunds  *testutil.MockRefundRepository
	webhooks *testutil.MockWebhookRepository
	orders   *testutil.MockOrderReader
	ready    error
}

func setupAPI(t *testing.T) *apiFixture {
	t.Helper()

	metrics := observability.NewNopMetrics()
	registry := providers.NewRegistry(
		providers.RegistryConfig{Timeout: time.Second},
		metrics,
		zerolog.Nop(),
		providers.NewMockProvider("mock", providers.WithWebhookSecret(testWebhookSecret)),
	)

	f := &apiFixture{
		payments: testutil.NewMockPaymentRepository(),
		refunds:  testutil.NewMockRefundRepository(),
		webhooks: testutil.NewMockWebhookRepository(),
		orders:   testutil.NewMockOrderReader(),
	}
	outboxRepo := &testutil.MockOutboxRepository{}
	txManager := testutil.NewMockTransactionManager()

	paymentSvc := service.NewPaymentService(f.payments, f.orders, outboxRepo, txManager, registry, "mock", metrics, zerolog.Nop())
	refundSvc := service.NewRefundService(f.refunds, f.payments, outboxRepo, txManager, testutil.NewMockLocker(), registry, metrics, zerolog.Nop())
	webhookSvc := service.NewWebhookService(f.webhooks, paymentSvc, txManager, registry, metrics, zerolog.Nop())

	f.router = NewRouter(RouterDeps{
		PaymentService:   paymentSvc,
		RefundService:    refundSvc,
		WebhookService:   webhookSvc,
		AuthzService:     service.NewAuthzService(f.payments, f.orders),
		IdempotencyStore: &fakeIdempotencyStore{entries: make(map[string]*postgres.IdempotencyEntry)},
		HealthChecks: []HealthCheck{
			{Name: "database", Ping: func(context.Context) error { return nil }},
			{Name: "redis", Ping: func(context.Context) error { return f.ready }},
		},
		Metrics:          metrics,
		CORSConfig:       config.CORSConfig{AllowedOrigins: []string{"*"}},
		JWTSecret:        testJWTSecret,
		WebhookRateLimit: 1000,
	})
	return f
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	claims := middleware.Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return s
}

func (f *apiFixture) do(t *testing.T, method, path, body, bearer string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) addOrder(userID string, cents int64) *order.Order {
	o := testutil.NewTestOrder(userID, cents)
	f.orders.AddOrder(o)
	return o
}

// capturedPayment stores a SUCCEEDED 100.00 USD mock payment owned by userID.
func (f *apiFixture) capturedPayment(userID, intentID string) *payment.Payment {
	o := f.addOrder(userID, 10000)
	p := testutil.NewSucceededPayment(o, payment.ProviderMock, intentID)
	f.payments.AddPayment(p)
	f.refunds.SetOwner(p.ID, userID)
	return p
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// --- Health ---

func TestHealthEndpoints(t *testing.T) {
	f := setupAPI(t)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health/live", "", "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health/ready", "", "").Code)

	f.ready = errors.New("dial tcp: connection refused")
	w := f.do(t, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "redis unavailable")
}

func TestSecurityHeadersApplied(t *testing.T) {
	f := setupAPI(t)
	w := f.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

// --- Webhooks ---

func webhookBody(eventID, eventType, intentID string) string {
	b, _ := json.Marshal(map[string]string{
		"event_id":          eventID,
		"event_type":        eventType,
		"payment_intent_id": intentID,
	})
	return string(b)
}

func TestWebhook_Processed(t *testing.T) {
	f := setupAPI(t)
	o := f.addOrder("user-1", 10000)
	p := testutil.NewTestPayment(o, payment.ProviderMock, "mock_pi_1")
	f.payments.AddPayment(p)

	w := f.do(t, http.MethodPost, "/payments/webhooks/mock",
		webhookBody("evt_1", "payment.succeeded", "mock_pi_1"), "",
		providers.MockSignatureHeader, testWebhookSecret)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[WebhookResponse](t, w)
	assert.True(t, resp.Received)
	assert.True(t, resp.Processed)
	assert.False(t, resp.Duplicate)
	assert.Equal(t, "PROCESSED", resp.Status)

	stored, err := f.payments.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSucceeded, stored.Status)
}

func TestWebhook_ReplayIsAcknowledged(t *testing.T) {
	f := setupAPI(t)
	o := f.addOrder("user-1", 10000)
	f.payments.AddPayment(testutil.NewTestPayment(o, payment.ProviderMock, "mock_pi_1"))
	body := webhookBody("evt_1", "payment.succeeded", "mock_pi_1")

	first := f.do(t, http.MethodPost, "/payments/webhooks/mock", body, "", providers.MockSignatureHeader, testWebhookSecret)
	second := f.do(t, http.MethodPost, "/payments/webhooks/mock", body, "", providers.MockSignatureHeader, testWebhookSecret)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.True(t, decode[WebhookResponse](t, second).Duplicate)
	assert.Equal(t, 1, f.webhooks.Count())
}

func TestWebhook_UnknownIntentIsStillAcknowledged(t *testing.T) {
	f := setupAPI(t)

	w := f.do(t, http.MethodPost, "/payments/webhooks/mock",
		webhookBody("evt_9", "payment.succeeded", "mock_pi_unknown"), "",
		providers.MockSignatureHeader, testWebhookSecret)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[WebhookResponse](t, w)
	assert.False(t, resp.Processed)
	assert.Equal(t, "FAILED", resp.Status)
	assert.NotEmpty(t, resp.Reason)
}

func TestWebhook_RacedPaymentUpdateAsksForRedelivery(t *testing.T) {
	f := setupAPI(t)
	o := f.addOrder("user-1", 10000)
	p := testutil.NewTestPayment(o, payment.ProviderMock, "mock_pi_1")
	f.payments.AddPayment(p)
	f.payments.UpdateStatusFunc = func(context.Context, *payment.Payment, payment.Status) error {
		return fmt.Errorf("payment %s no longer PENDING: %w", p.ID, domainErrors.ErrConcurrentModification)
	}

	w := f.do(t, http.MethodPost, "/payments/webhooks/mock",
		webhookBody("evt_1", "payment.succeeded", "mock_pi_1"), "",
		providers.MockSignatureHeader, testWebhookSecret)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
	assert.Equal(t, "retry_later", decode[ErrorResponse](t, w).Code)
}

func TestWebhook_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		signature  string
		wantStatus int
		wantCode   string
	}{
		{"bad signature", "/payments/webhooks/mock", webhookBody("evt_1", "payment.succeeded", "pi"), "wrong", http.StatusUnauthorized, "invalid_signature"},
		{"missing signature", "/payments/webhooks/mock", webhookBody("evt_1", "payment.succeeded", "pi"), "", http.StatusUnauthorized, "invalid_signature"},
		{"malformed body", "/payments/webhooks/mock", `{not json`, testWebhookSecret, http.StatusBadRequest, "malformed_webhook"},
		{"missing event id", "/payments/webhooks/mock", `{"event_type":"payment.succeeded"}`, testWebhookSecret, http.StatusBadRequest, "malformed_webhook"},
		{"unknown provider", "/payments/webhooks/paypal", webhookBody("evt_1", "payment.succeeded", "pi"), testWebhookSecret, http.StatusBadRequest, "unsupported_provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupAPI(t)
			var headers []string
			if tt.signature != "" {
				headers = []string{providers.MockSignatureHeader, tt.signature}
			}

			w := f.do(t, http.MethodPost, tt.path, tt.body, "", headers...)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, w).Code)
			assert.Equal(t, 0, f.webhooks.Count())
		})
	}
}

func TestWebhook_BodyTooLarge(t *testing.T) {
	f := setupAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/payments/webhooks/mock",
		bytes.NewReader(bytes.Repeat([]byte("a"), MaxWebhookBodySize+1)))
	req.Header.Set(providers.MockSignatureHeader, testWebhookSecret)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, 0, f.webhooks.Count())
}

// --- Authentication ---

func TestAPIRequiresToken(t *testing.T) {
	f := setupAPI(t)

	for _, path := range []string{"/api/v1/users/me/refunds", "/api/v1/admin/webhooks/stats"} {
		w := f.do(t, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

// --- Payment intents ---

func TestCreateIntent(t *testing.T) {
	f := setupAPI(t)
	o := f.addOrder("user-1", 12550)
	body := `{"order_id":"` + o.ID.String() + `","amount":"125.50","currency":"USD"}`

	w := f.do(t, http.MethodPost, "/api/v1/payments/intents", body, token(t, "user-1", ""))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[PaymentIntentResponse](t, w)
	assert.Equal(t, "125.50", created.Amount)
	assert.Equal(t, "PENDING", created.Status)
	assert.Equal(t, "mock", created.Provider)
	assert.NotEmpty(t, created.ClientSecret)
	assert.False(t, created.Existing)

	// The same request returns the pending payment instead of a new intent.
	w = f.do(t, http.MethodPost, "/api/v1/payments/intents", body, token(t, "user-1", ""))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	again := decode[PaymentIntentResponse](t, w)
	assert.True(t, again.Existing)
	assert.Equal(t, created.ID, again.ID)
	assert.Equal(t, 1, f.payments.Count())
}

func TestCreateIntent_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		user       string
		body       func(o *order.Order) string
		wantStatus int
	}{
		{"other user", "user-2", func(o *order.Order) string {
			return `{"order_id":"` + o.ID.String() + `","amount":"100.00","currency":"USD"}`
		}, http.StatusNotFound},
		{"sub-cent amount", "user-1", func(o *order.Order) string {
			return `{"order_id":"` + o.ID.String() + `","amount":"100.001","currency":"USD"}`
		}, http.StatusBadRequest},
		{"amount mismatch", "user-1", func(o *order.Order) string {
			return `{"order_id":"` + o.ID.String() + `","amount":"99.00","currency":"USD"}`
		}, http.StatusBadRequest},
		{"unknown provider", "user-1", func(o *order.Order) string {
			return `{"order_id":"` + o.ID.String() + `","amount":"100.00","currency":"USD","provider":"paypal"}`
		}, http.StatusBadRequest},
		{"unknown order", "user-1", func(*order.Order) string {
			return `{"order_id":"6f1c2a9e-3b7d-4c55-9a0e-2d1f4b8c7e10","amount":"100.00","currency":"USD"}`
		}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupAPI(t)
			o := f.addOrder("user-1", 10000)

			w := f.do(t, http.MethodPost, "/api/v1/payments/intents", tt.body(o), token(t, tt.user, ""))

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, 0, f.payments.Count())
		})
	}
}

func TestGetPayment(t *testing.T) {
	f := setupAPI(t)
	p := f.capturedPayment("user-1", "mock_pi_1")

	w := f.do(t, http.MethodGet, "/api/v1/payments/"+p.ID.String(), "", token(t, "user-1", ""))
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[map[string]any](t, w)
	assert.Equal(t, p.ID.String(), resp["id"])
	assert.Equal(t, "100.00", resp["amount"])
	assert.NotContains(t, resp, "client_secret")

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/payments/"+p.ID.String(), "", token(t, "user-2", "")).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/payments/not-a-uuid", "", token(t, "user-1", "")).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/payments/6f1c2a9e-3b7d-4c55-9a0e-2d1f4b8c7e10", "", token(t, "user-1", "")).Code)
}

// --- Refunds ---

func refundBody(paymentRef, amount string) string {
	return `{"payment_id":"` + paymentRef + `","amount":"` + amount + `","currency":"USD","reason":"trip cancelled"}`
}

func TestRefundLifecycle(t *testing.T) {
	f := setupAPI(t)
	p := f.capturedPayment("user-1", "mock_pi_1")
	user := token(t, "user-1", "")

	w := f.do(t, http.MethodPost, "/api/v1/refunds", refundBody(p.ID.String(), "40.00"), user)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[RefundResponse](t, w)
	assert.Equal(t, "PENDING", created.Status)
	assert.Equal(t, "40.00", created.Amount)
	assert.Equal(t, "user-1", created.RequestedBy)

	w = f.do(t, http.MethodPost, "/api/v1/refunds/"+created.ID+"/process", "", user)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	processed := decode[RefundResponse](t, w)
	assert.Equal(t, "COMPLETED", processed.Status)
	assert.NotNil(t, processed.ProviderRefundID)

	w = f.do(t, http.MethodGet, "/api/v1/refunds/"+created.ID, "", user)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "COMPLETED", decode[RefundResponse](t, w).Status)

	w = f.do(t, http.MethodGet, "/api/v1/payments/"+p.ID.String()+"/refunds", "", user)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]RefundResponse](t, w), 1)

	w = f.do(t, http.MethodGet, "/api/v1/users/me/refunds?limit=10", "", user)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[ListResponse[RefundResponse]](t, w)
	assert.Len(t, list.Items, 1)
	assert.Equal(t, 10, list.Limit)

	// Processing again is a state conflict.
	w = f.do(t, http.MethodPost, "/api/v1/refunds/"+created.ID+"/process", "", user)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateRefund_ByIntentAndBooking(t *testing.T) {
	f := setupAPI(t)
	p := f.capturedPayment("user-1", "mock_pi_1")
	user := token(t, "user-1", "")

	w := f.do(t, http.MethodPost, "/api/v1/refunds", refundBody("mock_pi_1", "10.00"), user)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := decode[RefundResponse](t, w)
	assert.Equal(t, p.ID.String(), first.PaymentID)

	// Settle the first refund so a second one may be requested.
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/refunds/"+first.ID+"/process", "", user).Code)

	body := `{"booking_id":"` + p.OrderID.String() + `","amount":"15.00","currency":"USD","reason":"partial"}`
	w = f.do(t, http.MethodPost, "/api/v1/refunds", body, user)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	second := decode[RefundResponse](t, w)
	assert.Equal(t, p.ID.String(), second.PaymentID)
	require.NotNil(t, second.BookingID)
	assert.Equal(t, p.OrderID.String(), *second.BookingID)
}

func TestCreateRefund_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		user       string
		body       func(p *payment.Payment) string
		wantStatus int
		wantCode   string
	}{
		{"other user", "user-2", func(p *payment.Payment) string { return refundBody(p.ID.String(), "10.00") }, http.StatusNotFound, "not_found"},
		{"exceeds payment", "user-1", func(p *payment.Payment) string { return refundBody(p.ID.String(), "100.01") }, http.StatusBadRequest, "refund_exceeds_payment"},
		{"zero amount", "user-1", func(p *payment.Payment) string { return refundBody(p.ID.String(), "0") }, http.StatusBadRequest, "validation_error"},
		{"missing reason", "user-1", func(p *payment.Payment) string {
			return `{"payment_id":"` + p.ID.String() + `","amount":"10.00","currency":"USD"}`
		}, http.StatusBadRequest, "validation_error"},
		{"unknown payment", "user-1", func(*payment.Payment) string { return refundBody("pi_missing", "10.00") }, http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupAPI(t)
			p := f.capturedPayment("user-1", "mock_pi_1")

			w := f.do(t, http.MethodPost, "/api/v1/refunds", tt.body(p), token(t, tt.user, ""))

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, w).Code)
			assert.Equal(t, 0, f.refunds.Count())
		})
	}
}

func TestCreateRefund_PendingBlocksSecond(t *testing.T) {
	f := setupAPI(t)
	p := f.capturedPayment("user-1", "mock_pi_1")
	user := token(t, "user-1", "")

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/refunds", refundBody(p.ID.String(), "10.00"), user).Code)
	w := f.do(t, http.MethodPost, "/api/v1/refunds", refundBody(p.ID.String(), "20.00"), user)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "refund_already_pending", decode[ErrorResponse](t, w).Code)
	assert.Equal(t, 1, f.refunds.Count())
}

func TestCreateRefund_IdempotencyKeyReplays(t *testing.T) {
	f := setupAPI(t)
	p := f.capturedPayment("user-1", "mock_pi_1")
	user := token(t, "user-1", "")
	body := refundBody(p.ID.String(), "10.00")

	first := f.do(t, http.MethodPost, "/api/v1/refunds", body, user, "Idempotency-Key", "refund-abc")
	second := f.do(t, http.MethodPost, "/api/v1/refunds", body, user, "Idempotency-Key", "refund-abc")

	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("X-Idempotency-Replayed"))
	assert.Equal(t, decode[RefundResponse](t, first).ID, decode[RefundResponse](t, second).ID)
	assert.Equal(t, 1, f.refunds.Count())

	reused := f.do(t, http.MethodPost, "/api/v1/refunds", refundBody(p.ID.String(), "20.00"), user, "Idempotency-Key", "refund-abc")
	assert.Equal(t, http.StatusUnprocessableEntity, reused.Code)
}

func TestRefundAccessIsOwnerOnly(t *testing.T) {
	f := setupAPI(t)
	p := f.capturedPayment("user-1", "mock_pi_1")
	r := testutil.NewTestRefund(p, 1000, refund.StatusPending)
	f.refunds.AddRefund(r)
	other := token(t, "user-2", "")

	foreign := f.do(t, http.MethodGet, "/api/v1/refunds/"+r.ID.String(), "", other)
	missing := f.do(t, http.MethodGet, "/api/v1/refunds/6f1c2a9e-3b7d-4c55-9a0e-2d1f4b8c7e10", "", other)
	assert.Equal(t, http.StatusNotFound, foreign.Code)
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.JSONEq(t, missing.Body.String(), foreign.Body.String(), "a foreign refund must look like a missing one")

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/v1/refunds/"+r.ID.String()+"/process", "", other).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/payments/"+p.ID.String()+"/refunds", "", other).Code)
	stored, err := f.refunds.GetByID(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, refund.StatusPending, stored.Status)

	w := f.do(t, http.MethodGet, "/api/v1/users/me/refunds", "", other)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[ListResponse[RefundResponse]](t, w).Items)
}

// --- Admin ---

func TestAdminRetryRefund(t *testing.T) {
	f := setupAPI(t)
	p := f.capturedPayment("user-1", "mock_pi_1")
	r := testutil.NewTestRefund(p, 2500, refund.StatusFailed)
	f.refunds.AddRefund(r)
	path := "/api/v1/admin/refunds/" + r.ID.String() + "/retry"

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, path, "", token(t, "user-1", "")).Code)

	w := f.do(t, http.MethodPost, path, "", token(t, "operator-1", middleware.RoleAdmin))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[RefundResponse](t, w)
	assert.Equal(t, "COMPLETED", resp.Status)
	assert.Equal(t, 2, resp.Attempts)

	// Only FAILED refunds can be retried.
	w = f.do(t, http.MethodPost, path, "", token(t, "operator-1", middleware.RoleAdmin))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "refund_not_retryable", decode[ErrorResponse](t, w).Code)
}

func TestAdminWebhookStats(t *testing.T) {
	f := setupAPI(t)
	f.do(t, http.MethodPost, "/payments/webhooks/mock",
		webhookBody("evt_1", "payment.succeeded", "mock_pi_unknown"), "",
		providers.MockSignatureHeader, testWebhookSecret)

	w := f.do(t, http.MethodGet, "/api/v1/admin/webhooks/stats", "", token(t, "operator-1", middleware.RoleAdmin))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	stats := decode[map[string]any](t, w)
	assert.Equal(t, float64(1), stats["total"])
}
