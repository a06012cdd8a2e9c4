package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hopngo/payments/internal/domain/outbox"
	"github.com/hopngo/payments/internal/infrastructure/observability"
	"github.com/hopngo/payments/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []*outbox.Entry
	failFor   map[string]bool // event types that fail
}

func (p *fakePublisher) Publish(_ context.Context, entry *outbox.Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failFor[entry.EventType] {
		return errors.New("stream unavailable")
	}
	p.published = append(p.published, entry)
	return nil
}

func seedOutbox(t *testing.T, repo *testutil.MockOutboxRepository, eventTypes ...string) []*outbox.Entry {
	t.Helper()
	var entries []*outbox.Entry
	for _, et := range eventTypes {
		e := outbox.NewEntry(outbox.AggregatePayment, uuid.New(), et, map[string]any{"k": "v"})
		require.NoError(t, repo.Insert(context.Background(), e))
		entries = append(entries, e)
	}
	return entries
}

func TestOutboxRelay_PublishesPendingEntries(t *testing.T) {
	repo := &testutil.MockOutboxRepository{}
	pub := &fakePublisher{}
	relay := NewOutboxRelay(testutil.NewMockTransactionManager(), repo, pub, 10, time.Second,
		observability.NewNopMetrics(), zerolog.Nop())

	entries := seedOutbox(t, repo, outbox.EventPaymentSucceeded, outbox.EventRefundCompleted)

	n, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, pub.published, 2)
	for _, e := range entries {
		assert.Equal(t, outbox.StatusPublished, e.Status)
		assert.NotNil(t, e.PublishedAt)
	}

	n, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestOutboxRelay_FailuresAreRecordedUntilMaxRetries(t *testing.T) {
	repo := &testutil.MockOutboxRepository{}
	pub := &fakePublisher{failFor: map[string]bool{outbox.EventRefundFailed: true}}
	relay := NewOutboxRelay(testutil.NewMockTransactionManager(), repo, pub, 10, time.Second,
		observability.NewNopMetrics(), zerolog.Nop())

	entries := seedOutbox(t, repo, outbox.EventRefundFailed, outbox.EventPaymentFailed)
	failing := entries[0]
	failing.MaxRetries = 2

	n, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, outbox.StatusPending, failing.Status)
	assert.Equal(t, 1, failing.RetryCount)
	require.NotNil(t, failing.LastError)
	assert.Contains(t, *failing.LastError, "stream unavailable")

	_, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusFailed, failing.Status)
	assert.Equal(t, outbox.StatusPublished, entries[1].Status)
}

func TestOutboxRelay_RespectsBatchSize(t *testing.T) {
	repo := &testutil.MockOutboxRepository{}
	pub := &fakePublisher{}
	relay := NewOutboxRelay(testutil.NewMockTransactionManager(), repo, pub, 2, time.Second,
		observability.NewNopMetrics(), zerolog.Nop())

	seedOutbox(t, repo, "a", "b", "c")

	n, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestOutboxRelay_RepositoryErrorPropagates(t *testing.T) {
	dbErr := errors.New("connection refused")
	repo := &testutil.MockOutboxRepository{
		GetPendingFunc: func(context.Context, int) ([]*outbox.Entry, error) { return nil, dbErr },
	}
	relay := NewOutboxRelay(testutil.NewMockTransactionManager(), repo, &fakePublisher{}, 10, time.Second,
		observability.NewNopMetrics(), zerolog.Nop())

	_, err := relay.RelayOnce(context.Background())
	assert.ErrorIs(t, err, dbErr)
}

func TestOutboxRelay_RunStopsOnCancel(t *testing.T) {
	repo := &testutil.MockOutboxRepository{}
	pub := &fakePublisher{}
	relay := NewOutboxRelay(testutil.NewMockTransactionManager(), repo, pub, 10, 10*time.Millisecond,
		observability.NewNopMetrics(), zerolog.Nop())
	seedOutbox(t, repo, outbox.EventPaymentSucceeded)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.published) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
