package testutil

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/hopngo/payments/internal/domain/errors"
	"github.com/hopngo/payments/internal/domain/order"
	"github.com/hopngo/payments/internal/domain/outbox"
	"github.com/hopngo/payments/internal/domain/payment"
	"github.com/hopngo/payments/internal/domain/refund"
	"github.com/hopngo/payments/internal/domain/webhook"
	"github.com/hopngo/payments/internal/providers"
)

// The repository mocks store copies, so callers never see later writes
// through a pointer they already hold. Uniqueness rules mirror the
// database indexes.

// --- Payment Repository Mock ---

// MockPaymentRepository is a mock implementation of payment.Repository.
type MockPaymentRepository struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*payment.Payment

	CreateFunc       func(ctx context.Context, p *payment.Payment) error
	GetByIDFunc      func(ctx context.Context, id uuid.UUID) (*payment.Payment, error)
	UpdateStatusFunc func(ctx context.Context, p *payment.Payment, previous payment.Status) error
}

func NewMockPaymentRepository() *MockPaymentRepository {
	return &MockPaymentRepository{payments: make(map[uuid.UUID]*payment.Payment)}
}

// AddPayment pre-populates the mock with a payment.
func (m *MockPaymentRepository) AddPayment(p *payment.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.payments[p.ID] = &cp
}

func (m *MockPaymentRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payments)
}

func (m *MockPaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.payments {
		if existing.OrderID == p.OrderID && existing.Status == payment.StatusPending && p.Status == payment.StatusPending {
			return domainErrors.ErrPaymentInProgress
		}
	}
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *MockPaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return m.find(func(p *payment.Payment) bool { return p.ID == id })
}

func (m *MockPaymentRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	return m.GetByID(ctx, id)
}

func (m *MockPaymentRepository) GetByProviderIntentID(_ context.Context, intentID string) (*payment.Payment, error) {
	return m.find(func(p *payment.Payment) bool { return p.ProviderIntentID == intentID })
}

func (m *MockPaymentRepository) GetPendingByOrderID(_ context.Context, orderID uuid.UUID) (*payment.Payment, error) {
	return m.find(func(p *payment.Payment) bool { return p.OrderID == orderID && p.Status == payment.StatusPending })
}

func (m *MockPaymentRepository) GetLatestSucceededByOrderID(_ context.Context, orderID uuid.UUID) (*payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *payment.Payment
	for _, p := range m.payments {
		if p.OrderID != orderID || p.Status != payment.StatusSucceeded {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, domainErrors.ErrPaymentNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *MockPaymentRepository) CountByOrderID(_ context.Context, orderID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.payments {
		if p.OrderID == orderID {
			n++
		}
	}
	return n, nil
}

func (m *MockPaymentRepository) UpdateStatus(ctx context.Context, p *payment.Payment, previous payment.Status) error {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, p, previous)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.payments[p.ID]
	if !ok || stored.Status != previous {
		return domainErrors.ErrConcurrentModification
	}
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *MockPaymentRepository) ListStalePending(_ context.Context, olderThan time.Time, limit int) ([]*payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*payment.Payment
	for _, p := range m.payments {
		if p.Status == payment.StatusPending && p.UpdatedAt.Before(olderThan) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockPaymentRepository) find(match func(*payment.Payment) bool) (*payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if match(p) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domainErrors.ErrPaymentNotFound
}

// --- Refund Repository Mock ---

// MockRefundRepository is a mock implementation of refund.Repository.
type MockRefundRepository struct {
	mu      sync.Mutex
	refunds map[uuid.UUID]*refund.Refund
	owners  map[uuid.UUID]string // payment id -> user id

	CreateFunc func(ctx context.Context, r *refund.Refund) error
	UpdateFunc func(ctx context.Context, r *refund.Refund) error
}

func NewMockRefundRepository() *MockRefundRepository {
	return &MockRefundRepository{
		refunds: make(map[uuid.UUID]*refund.Refund),
		owners:  make(map[uuid.UUID]string),
	}
}

// SetOwner records which user's order a payment belongs to, for ListByUserID.
func (m *MockRefundRepository) SetOwner(paymentID uuid.UUID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[paymentID] = userID
}

func (m *MockRefundRepository) AddRefund(r *refund.Refund) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.refunds[r.ID] = &cp
}

func (m *MockRefundRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refunds)
}

func (m *MockRefundRepository) Create(ctx context.Context, r *refund.Refund) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, r)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pendingExists(r) {
		return domainErrors.ErrRefundAlreadyPending
	}
	if r.RequestID != nil && m.byRequestID(*r.RequestID) != nil {
		return domainErrors.ErrDuplicateRefundRequest
	}
	cp := *r
	m.refunds[r.ID] = &cp
	return nil
}

func (m *MockRefundRepository) GetByRequestID(_ context.Context, requestID string) (*refund.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.byRequestID(requestID)
	if r == nil {
		return nil, domainErrors.ErrRefundNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MockRefundRepository) GetByID(_ context.Context, id uuid.UUID) (*refund.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.refunds[id]
	if !ok {
		return nil, domainErrors.ErrRefundNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MockRefundRepository) Update(ctx context.Context, r *refund.Refund) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, r)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.refunds[r.ID]; !ok {
		return domainErrors.ErrRefundNotFound
	}
	if m.pendingExists(r) {
		return domainErrors.ErrRefundAlreadyPending
	}
	cp := *r
	m.refunds[r.ID] = &cp
	return nil
}

func (m *MockRefundRepository) ListByPaymentID(_ context.Context, paymentID uuid.UUID) ([]*refund.Refund, error) {
	return m.list(func(r *refund.Refund) bool { return r.PaymentID == paymentID }), nil
}

func (m *MockRefundRepository) ListByUserID(_ context.Context, userID string, limit, offset int) ([]*refund.Refund, error) {
	m.mu.Lock()
	owners := make(map[uuid.UUID]string, len(m.owners))
	for k, v := range m.owners {
		owners[k] = v
	}
	m.mu.Unlock()

	all := m.list(func(r *refund.Refund) bool { return owners[r.PaymentID] == userID })
	if offset >= len(all) {
		return nil, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

func (m *MockRefundRepository) HasPending(_ context.Context, paymentID uuid.UUID) (bool, error) {
	return len(m.list(func(r *refund.Refund) bool {
		return r.PaymentID == paymentID && r.Status == refund.StatusPending
	})) > 0, nil
}

func (m *MockRefundRepository) ListStalePending(_ context.Context, olderThan time.Time, limit int) ([]*refund.Refund, error) {
	out := m.list(func(r *refund.Refund) bool {
		return r.Status == refund.StatusPending && r.UpdatedAt.Before(olderThan)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// list returns matching copies, newest first.
func (m *MockRefundRepository) list(match func(*refund.Refund) bool) []*refund.Refund {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*refund.Refund
	for _, r := range m.refunds {
		if match(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *MockRefundRepository) byRequestID(requestID string) *refund.Refund {
	for _, r := range m.refunds {
		if r.RequestID != nil && *r.RequestID == requestID {
			return r
		}
	}
	return nil
}

func (m *MockRefundRepository) pendingExists(r *refund.Refund) bool {
	if r.Status != refund.StatusPending {
		return false
	}
	for id, existing := range m.refunds {
		if id != r.ID && existing.PaymentID == r.PaymentID && existing.Status == refund.StatusPending {
			return true
		}
	}
	return false
}

// --- Webhook Repository Mock ---

// MockWebhookRepository is a mock implementation of webhook.Repository.
type MockWebhookRepository struct {
	mu     sync.Mutex
	events map[string]*webhook.Event

	CreateFunc func(ctx context.Context, e *webhook.Event) error
	// Creates counts successful inserts.
	Creates int
}

func NewMockWebhookRepository() *MockWebhookRepository {
	return &MockWebhookRepository{events: make(map[string]*webhook.Event)}
}

func webhookKey(provider, id string) string { return provider + "\x00" + id }

func (m *MockWebhookRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *MockWebhookRepository) Create(ctx context.Context, e *webhook.Event) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := webhookKey(e.Provider, e.WebhookID)
	if _, ok := m.events[key]; ok {
		return domainErrors.ErrDuplicateWebhook
	}
	cp := *e
	m.events[key] = &cp
	m.Creates++
	return nil
}

func (m *MockWebhookRepository) GetByProviderAndWebhookID(_ context.Context, provider, webhookID string) (*webhook.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[webhookKey(provider, webhookID)]
	if !ok {
		return nil, domainErrors.ErrWebhookEventNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MockWebhookRepository) UpdateStatus(_ context.Context, e *webhook.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := webhookKey(e.Provider, e.WebhookID)
	if _, ok := m.events[key]; !ok {
		return domainErrors.ErrWebhookEventNotFound
	}
	cp := *e
	m.events[key] = &cp
	return nil
}

func (m *MockWebhookRepository) CountByStatus(context.Context) (map[webhook.Status]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[webhook.Status]int64)
	for _, e := range m.events {
		counts[e.Status]++
	}
	return counts, nil
}

func (m *MockWebhookRepository) CountByProvider(context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int64)
	for _, e := range m.events {
		counts[e.Provider]++
	}
	return counts, nil
}

// --- Order Reader Mock ---

type MockOrderReader struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*order.Order
}

func NewMockOrderReader() *MockOrderReader {
	return &MockOrderReader{orders: make(map[uuid.UUID]*order.Order)}
}

func (m *MockOrderReader) AddOrder(o *order.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.ID] = &cp
}

func (m *MockOrderReader) GetByID(_ context.Context, id uuid.UUID) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, domainErrors.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

// --- Transaction Manager Mock ---

// MockTransactionManager is a mock implementation of TransactionManager.
type MockTransactionManager struct {
	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewMockTransactionManager() *MockTransactionManager {
	return &MockTransactionManager{}
}

func (m *MockTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

// --- Outbox Repository Mock ---

// MockOutboxRepository is a mock implementation of outbox.Repository that
// keeps every inserted entry.
type MockOutboxRepository struct {
	mu      sync.Mutex
	entries []*outbox.Entry

	InsertFunc        func(ctx context.Context, entry *outbox.Entry) error
	GetPendingFunc    func(ctx context.Context, limit int) ([]*outbox.Entry, error)
	MarkPublishedFunc func(ctx context.Context, id uuid.UUID) error
	MarkFailedFunc    func(ctx context.Context, id uuid.UUID, reason string) error
}

func (m *MockOutboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, entry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if m.GetPendingFunc != nil {
		return m.GetPendingFunc(ctx, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*outbox.Entry
	for _, e := range m.entries {
		if e.Status == outbox.StatusPending {
			out = append(out, e)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	if m.MarkPublishedFunc != nil {
		return m.MarkPublishedFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			now := time.Now()
			e.Status = outbox.StatusPublished
			e.PublishedAt = &now
		}
	}
	return nil
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	if m.MarkFailedFunc != nil {
		return m.MarkFailedFunc(ctx, id, reason)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			e.RetryCount++
			e.LastError = &reason
			if e.RetryCount >= e.MaxRetries {
				e.Status = outbox.StatusFailed
			}
		}
	}
	return nil
}

// EventTypes returns the event type of every inserted entry, in order.
func (m *MockOutboxRepository) EventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		types = append(types, e.EventType)
	}
	return types
}

func (m *MockOutboxRepository) Entries() []*outbox.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*outbox.Entry(nil), m.entries...)
}

// --- Locker Mock ---

// MockLocker is an in-process Locker.
type MockLocker struct {
	mu   sync.Mutex
	held map[string]bool

	LockFunc func(ctx context.Context, key string) (func(context.Context) error, error)
}

func NewMockLocker() *MockLocker {
	return &MockLocker{held: make(map[string]bool)}
}

func (m *MockLocker) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	if m.LockFunc != nil {
		return m.LockFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return nil, domainErrors.ErrLockAcquisitionFailed
	}
	m.held[key] = true
	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.held, key)
		return nil
	}, nil
}

func (m *MockLocker) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held[key]
}

// --- Provider Mock ---

// MockProvider is a scriptable providers.Provider. Unset funcs succeed.
type MockProvider struct {
	mu sync.Mutex

	NameValue               string
	CreatePaymentIntentFunc func(ctx context.Context, req providers.IntentRequest) (*providers.IntentResult, error)
	ParseWebhookFunc        func(payload []byte) (*providers.Notification, error)
	VerifyWebhookFunc       func(payload []byte, headers http.Header) bool
	RefundPaymentFunc       func(ctx context.Context, req providers.RefundRequest) (*providers.RefundResult, error)
	IntentStatusFunc        func(ctx context.Context, intentID string) (providers.IntentStatus, error)

	IntentCalls int
	RefundCalls []providers.RefundRequest
	VerifyCalls int
	StatusCalls int
}

func (m *MockProvider) Name() string { return m.NameValue }

func (m *MockProvider) CreatePaymentIntent(ctx context.Context, req providers.IntentRequest) (*providers.IntentResult, error) {
	m.mu.Lock()
	m.IntentCalls++
	m.mu.Unlock()
	if m.CreatePaymentIntentFunc != nil {
		return m.CreatePaymentIntentFunc(ctx, req)
	}
	return &providers.IntentResult{
		IntentID:     "pi_" + req.OrderID[:8],
		ClientSecret: "pi_" + req.OrderID[:8] + "_secret",
		Status:       "requires_payment_method",
	}, nil
}

func (m *MockProvider) ParseWebhook(payload []byte) (*providers.Notification, error) {
	if m.ParseWebhookFunc != nil {
		return m.ParseWebhookFunc(payload)
	}
	return nil, domainErrors.ErrMalformedWebhook
}

func (m *MockProvider) VerifyWebhook(payload []byte, headers http.Header) bool {
	m.mu.Lock()
	m.VerifyCalls++
	m.mu.Unlock()
	if m.VerifyWebhookFunc != nil {
		return m.VerifyWebhookFunc(payload, headers)
	}
	return true
}

func (m *MockProvider) RefundPayment(ctx context.Context, req providers.RefundRequest) (*providers.RefundResult, error) {
	m.mu.Lock()
	m.RefundCalls = append(m.RefundCalls, req)
	m.mu.Unlock()
	if m.RefundPaymentFunc != nil {
		return m.RefundPaymentFunc(ctx, req)
	}
	return &providers.RefundResult{Success: true, ProviderRefundID: "re_" + req.IdempotencyKey}, nil
}

func (m *MockProvider) IntentStatus(ctx context.Context, intentID string) (providers.IntentStatus, error) {
	m.mu.Lock()
	m.StatusCalls++
	m.mu.Unlock()
	if m.IntentStatusFunc != nil {
		return m.IntentStatusFunc(ctx, intentID)
	}
	return providers.IntentPending, nil
}

// RefundCallCount returns how many refund calls reached the provider.
func (m *MockProvider) RefundCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.RefundCalls)
}
