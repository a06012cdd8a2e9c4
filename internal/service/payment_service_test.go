package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domainErrors "github.com/hopngo/payments/internal/domain/errors"
	"github.com/hopngo/payments/internal/domain/order"
	"github.com/hopngo/payments/internal/domain/outbox"
	"github.com/hopngo/payments/internal/domain/payment"
	"github.com/hopngo/payments/internal/infrastructure/observability"
	"github.com/hopngo/payments/internal/providers"
	"github.com/hopngo/payments/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test Helpers ---

func newTestRegistry(ps ...providers.Provider) *providers.Registry {
	return providers.NewRegistry(
		providers.RegistryConfig{Timeout: time.Second},
		observability.NewNopMetrics(),
		zerolog.Nop(),
		ps...,
	)
}

type paymentFixture struct {
	svc       *PaymentService
	payments  *testutil.MockPaymentRepository
	orders    *testutil.MockOrderReader
	outbox    *testutil.MockOutboxRepository
	txManager *testutil.MockTransactionManager
}

func setupPaymentService(ps ...providers.Provider) *paymentFixture {
	if len(ps) == 0 {
		ps = []providers.Provider{
			providers.NewMockProvider("mock"),
			providers.NewMockProvider("stripe"),
		}
	}
	f := &paymentFixture{
		payments:  testutil.NewMockPaymentRepository(),
		orders:    testutil.NewMockOrderReader(),
		outbox:    &testutil.MockOutboxRepository{},
		txManager: testutil.NewMockTransactionManager(),
	}
	f.svc = NewPaymentService(f.payments, f.orders, f.outbox, f.txManager,
		newTestRegistry(ps...), "mock", observability.NewNopMetrics(), zerolog.Nop())
	return f
}

func (f *paymentFixture) addOrder(totalCents int64) *order.Order {
	o := testutil.NewTestOrder("user-1", totalCents)
	f.orders.AddOrder(o)
	return o
}

// --- CreatePaymentIntent Tests ---

func TestCreatePaymentIntent_Success(t *testing.T) {
	f := setupPaymentService()
	o := f.addOrder(10000)

	resp, err := f.svc.CreatePaymentIntent(context.Background(), CreatePaymentIntentRequest{
		OrderID:  o.ID,
		Amount:   testutil.USD(10000),
		Provider: "stripe",
	})
	require.NoError(t, err)

	assert.False(t, resp.Existing)
	assert.Equal(t, payment.StatusPending, resp.Payment.Status)
	assert.Equal(t, payment.ProviderStripe, resp.Payment.Provider)
	assert.True(t, strings.HasPrefix(resp.Payment.ProviderIntentID, "stripe_pi_"))
	assert.NotEmpty(t, resp.Payment.ClientSecret)
	assert.Equal(t, 1, f.payments.Count())
	assert.Empty(t, f.outbox.Entries())
}

func TestCreatePaymentIntent_IdempotencyKeyPerAttempt(t *testing.T) {
	var keys []string
	stripe := &testutil.MockProvider{
		NameValue: "stripe",
		CreatePaymentIntentFunc: func(_ context.Context, req providers.IntentRequest) (*providers.IntentResult, error) {
			keys = append(keys, req.IdempotencyKey)
			if len(keys) == 1 {
				return nil, domainErrors.ErrProviderTimeout
			}
			id := "pi_" + strings.ReplaceAll(req.IdempotencyKey, ":", "_")
			return &providers.IntentResult{IntentID: id, ClientSecret: id + "_secret"}, nil
		},
	}
	registry := providers.NewRegistry(
		providers.RegistryConfig{Timeout: time.Second, MaxRetries: 3, RetryDelay: time.Millisecond},
		observability.NewNopMetrics(), zerolog.Nop(), stripe)
	f := setupPaymentService()
	f.svc = NewPaymentService(f.payments, f.orders, f.outbox, f.txManager,
		registry, "stripe", observability.NewNopMetrics(), zerolog.Nop())
	o := f.addOrder(10000)
	req := CreatePaymentIntentRequest{OrderID: o.ID, Amount: testutil.USD(10000), Provider: "stripe"}

	first, err := f.svc.CreatePaymentIntent(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, keys[0], keys[1], "a retried call must reuse its key")

	failed := *first.Payment
	_, err = failed.MarkFailed("card_declined")
	require.NoError(t, err)
	require.NoError(t, f.payments.UpdateStatus(context.Background(), &failed, payment.StatusPending))

	second, err := f.svc.CreatePaymentIntent(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, keys, 3)
	assert.NotEqual(t, keys[1], keys[2], "a new attempt after a failure gets a new key")
	assert.NotEqual(t, first.Payment.ProviderIntentID, second.Payment.ProviderIntentID)
	assert.Equal(t, "intent:"+o.ID.String()+":stripe:2", keys[2])
}

func TestCreatePaymentIntent_DefaultProvider(t *testing.T) {
	f := setupPaymentService()
	o := f.addOrder(2500)

	resp, err := f.svc.CreatePaymentIntent(context.Background(), CreatePaymentIntentRequest{
		OrderID: o.ID,
		Amount:  testutil.USD(2500),
	})
	require.NoError(t, err)
	assert.Equal(t, payment.ProviderMock, resp.Payment.Provider)
}

func TestCreatePaymentIntent_ReusesPendingForSameProvider(t *testing.T) {
	f := setupPaymentService()
	o := f.addOrder(10000)
	req := CreatePaymentIntentRequest{OrderID: o.ID, Amount: testutil.USD(10000), Provider: "mock"}

	first, err := f.svc.CreatePaymentIntent(context.Background(), req)
	require.NoError(t, err)

	second, err := f.svc.CreatePaymentIntent(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, second.Existing)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	assert.Equal(t, 1, f.payments.Count())
}

func TestCreatePaymentIntent_PendingWithOtherProvider(t *testing.T) {
	f := setupPaymentService()
	o := f.addOrder(10000)

	_, err := f.svc.CreatePaymentIntent(context.Background(), CreatePaymentIntentRequest{
		OrderID: o.ID, Amount: testutil.USD(10000), Provider: "mock",
	})
	require.NoError(t, err)

	_, err = f.svc.CreatePaymentIntent(context.Background(), CreatePaymentIntentRequest{
		OrderID: o.ID, Amount: testutil.USD(10000), Provider: "stripe",
	})
	assert.ErrorIs(t, err, domainErrors.ErrPaymentInProgress)
	assert.Equal(t, 1, f.payments.Count())
}

func TestCreatePaymentIntent_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *order.Order, req *CreatePaymentIntentRequest)
		wantErr error
	}{
		{
			name:    "amount mismatch",
			mutate:  func(_ *order.Order, req *CreatePaymentIntentRequest) { req.Amount = testutil.USD(9999) },
			wantErr: domainErrors.ErrAmountMismatch,
		},
		{
			name: "currency mismatch",
			mutate: func(_ *order.Order, req *CreatePaymentIntentRequest) {
				req.Amount = payment.Amount{ValueCents: 10000, Currency: "EUR"}
			},
			wantErr: domainErrors.ErrAmountMismatch,
		},
		{
			name:    "order already paid",
			mutate:  func(o *order.Order, _ *CreatePaymentIntentRequest) { o.Status = order.StatusPaid },
			wantErr: domainErrors.ErrOrderAlreadyPaid,
		},
		{
			name:    "unknown provider",
			mutate:  func(_ *order.Order, req *CreatePaymentIntentRequest) { req.Provider = "paypal" },
			wantErr: domainErrors.ErrProviderNotFound,
		},
		{
			name:    "provider names are case sensitive",
			mutate:  func(_ *order.Order, req *CreatePaymentIntentRequest) { req.Provider = "Stripe" },
			wantErr: domainErrors.ErrProviderNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupPaymentService()
			o := testutil.NewTestOrder("user-1", 10000)
			req := CreatePaymentIntentRequest{OrderID: o.ID, Amount: testutil.USD(10000), Provider: "mock"}
			tt.mutate(o, &req)
			f.orders.AddOrder(o)

			resp, err := f.svc.CreatePaymentIntent(context.Background(), req)
			assert.Nil(t, resp)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, f.payments.Count())
		})
	}
}

func TestCreatePaymentIntent_UnknownOrder(t *testing.T) {
	f := setupPaymentService()
	o := testutil.NewTestOrder("user-1", 10000)

	_, err := f.svc.CreatePaymentIntent(context.Background(), CreatePaymentIntentRequest{
		OrderID: o.ID, Amount: testutil.USD(10000),
	})
	assert.ErrorIs(t, err, domainErrors.ErrOrderNotFound)
}

func TestCreatePaymentIntent_ProviderFailureLeavesNoRow(t *testing.T) {
	failing := &testutil.MockProvider{
		NameValue: "mock",
		CreatePaymentIntentFunc: func(context.Context, providers.IntentRequest) (*providers.IntentResult, error) {
			return nil, domainErrors.ErrProviderUnavailable
		},
	}
	f := setupPaymentService(failing)
	o := f.addOrder(10000)

	_, err := f.svc.CreatePaymentIntent(context.Background(), CreatePaymentIntentRequest{
		OrderID: o.ID, Amount: testutil.USD(10000),
	})
	assert.ErrorIs(t, err, domainErrors.ErrProviderUnavailable)
	assert.Equal(t, 1, failing.IntentCalls)
	assert.Equal(t, 0, f.payments.Count())
}

// --- UpdatePaymentStatus Tests ---

func TestUpdatePaymentStatus_TransitionsAndRecordsEvent(t *testing.T) {
	tests := []struct {
		name      string
		status    payment.Status
		reason    string
		wantEvent string
	}{
		{"succeeded", payment.StatusSucceeded, "", outbox.EventPaymentSucceeded},
		{"failed", payment.StatusFailed, "card_declined", outbox.EventPaymentFailed},
		{"cancelled", payment.StatusCancelled, "", outbox.EventPaymentCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupPaymentService()
			o := f.addOrder(10000)
			p := testutil.NewTestPayment(o, payment.ProviderMock, "mock_pi_1")
			f.payments.AddPayment(p)

			updated, err := f.svc.UpdatePaymentStatus(context.Background(), p, tt.status, tt.reason)
			require.NoError(t, err)

			assert.Equal(t, tt.status, updated.Status)
			assert.NotNil(t, updated.CompletedAt)
			assert.Equal(t, payment.StatusPending, p.Status, "input payment must not be modified")

			stored, err := f.payments.GetByID(context.Background(), p.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.status, stored.Status)

			entries := f.outbox.Entries()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.wantEvent, entries[0].EventType)
			assert.Equal(t, p.ID, entries[0].AggregateID)
			assert.Equal(t, "100.00", entries[0].Payload["amount"])
			if tt.reason != "" {
				assert.Equal(t, tt.reason, entries[0].Payload["reason"])
				require.NotNil(t, stored.FailureReason)
				assert.Equal(t, tt.reason, *stored.FailureReason)
			}
		})
	}
}

func TestUpdatePaymentStatus_SameTerminalStatusIsNoop(t *testing.T) {
	f := setupPaymentService()
	o := f.addOrder(10000)
	p := testutil.NewSucceededPayment(o, payment.ProviderMock, "mock_pi_1")
	f.payments.AddPayment(p)

	got, err := f.svc.UpdatePaymentStatus(context.Background(), p, payment.StatusSucceeded, "")
	require.NoError(t, err)
	assert.Same(t, p, got)
	assert.Empty(t, f.outbox.Entries())
}

func TestUpdatePaymentStatus_TerminalToOtherIsRejected(t *testing.T) {
	f := setupPaymentService()
	o := f.addOrder(10000)
	p := testutil.NewSucceededPayment(o, payment.ProviderMock, "mock_pi_1")
	f.payments.AddPayment(p)

	_, err := f.svc.UpdatePaymentStatus(context.Background(), p, payment.StatusFailed, "late failure")
	assert.ErrorIs(t, err, domainErrors.ErrInvalidStateTransition)

	stored, _ := f.payments.GetByID(context.Background(), p.ID)
	assert.Equal(t, payment.StatusSucceeded, stored.Status)
	assert.Empty(t, f.outbox.Entries())
}

func TestUpdatePaymentStatus_ConcurrentModification(t *testing.T) {
	f := setupPaymentService()
	o := f.addOrder(10000)
	p := testutil.NewTestPayment(o, payment.ProviderMock, "mock_pi_1")
	f.payments.AddPayment(p)

	// Someone else already moved the row.
	moved := *p
	moved.Status = payment.StatusCancelled
	f.payments.AddPayment(&moved)

	_, err := f.svc.UpdatePaymentStatus(context.Background(), p, payment.StatusSucceeded, "")
	assert.ErrorIs(t, err, domainErrors.ErrConcurrentModification)
	assert.Empty(t, f.outbox.Entries())
}

func TestUpdatePaymentStatus_TransactionErrorPropagates(t *testing.T) {
	f := setupPaymentService()
	o := f.addOrder(10000)
	p := testutil.NewTestPayment(o, payment.ProviderMock, "mock_pi_1")
	f.payments.AddPayment(p)

	dbErr := errors.New("connection reset")
	f.outbox.InsertFunc = func(context.Context, *outbox.Entry) error { return dbErr }

	_, err := f.svc.UpdatePaymentStatus(context.Background(), p, payment.StatusSucceeded, "")
	assert.ErrorIs(t, err, dbErr)
}

func TestFindByPaymentIntentID(t *testing.T) {
	f := setupPaymentService()
	o := f.addOrder(10000)
	p := testutil.NewTestPayment(o, payment.ProviderMock, "mock_pi_abc")
	f.payments.AddPayment(p)

	got, err := f.svc.FindByPaymentIntentID(context.Background(), "mock_pi_abc")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = f.svc.FindByPaymentIntentID(context.Background(), "mock_pi_missing")
	assert.ErrorIs(t, err, domainErrors.ErrPaymentNotFound)
}

func TestGetProviderByName(t *testing.T) {
	f := setupPaymentService()

	p, ok := f.svc.GetProviderByName("stripe")
	require.True(t, ok)
	assert.Equal(t, "stripe", p.Name())

	_, ok = f.svc.GetProviderByName("paypal")
	assert.False(t, ok)
}
