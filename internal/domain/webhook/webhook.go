package webhook

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hopngo/payments/internal/domain/errors"
)

// Status tracks one inbound provider callback.
type Status string

const (
	StatusReceived   Status = "RECEIVED"
	StatusProcessing Status = "PROCESSING"
	StatusProcessed  Status = "PROCESSED"
	StatusFailed     Status = "FAILED"
)

// Kind is the provider-independent meaning of a webhook event type.
type Kind string

const (
	KindSucceeded    Kind = "succeeded"
	KindFailed       Kind = "payment_failed"
	KindCanceled     Kind = "canceled"
	KindUnrecognized Kind = "unrecognized"
)

// Event is the audit and idempotency record of a provider callback.
// (Provider, WebhookID) is unique.
type Event struct {
	ID            uuid.UUID
	Provider      string
	WebhookID     string
	EventType     string
	Status        Status
	FailureReason *string
	ReceivedAt    time.Time
	ProcessedAt   *time.Time
}

func NewEvent(provider, webhookID, eventType string) *Event {
	return &Event{
		ID:         uuid.New(),
		Provider:   provider,
		WebhookID:  webhookID,
		EventType:  eventType,
		Status:     StatusReceived,
		ReceivedAt: time.Now(),
	}
}

func (e *Event) MarkProcessing() error {
	if e.Status != StatusReceived {
		return e.invalid(StatusProcessing)
	}
	e.Status = StatusProcessing
	return nil
}

func (e *Event) MarkProcessed() error {
	return e.finish(StatusProcessed, nil)
}

func (e *Event) MarkFailed(reason string) error {
	return e.finish(StatusFailed, &reason)
}

func (e *Event) IsFinal() bool {
	return e.Status == StatusProcessed || e.Status == StatusFailed
}

func (e *Event) finish(status Status, reason *string) error {
	if e.Status != StatusProcessing {
		return e.invalid(status)
	}
	now := time.Now()
	e.Status = status
	e.FailureReason = reason
	e.ProcessedAt = &now
	return nil
}

func (e *Event) invalid(to Status) error {
	return errors.NewDomainError(
		"invalid_transition",
		"cannot transition webhook event from "+string(e.Status)+" to "+string(to),
		errors.ErrInvalidStateTransition,
	)
}

// Stats summarises stored webhook events for operational dashboards.
type Stats struct {
	Total      int64            `json:"total"`
	ByStatus   map[Status]int64 `json:"by_status"`
	ByProvider map[string]int64 `json:"by_provider"`
}

// Repository defines the interface for webhook event persistence
type Repository interface {
	// Create inserts a new event. A second event with the same (provider, webhook id)
	// fails with errors.ErrDuplicateWebhook.
	Create(ctx context.Context, event *Event) error

	// GetByProviderAndWebhookID returns errors.ErrWebhookEventNotFound when absent
	GetByProviderAndWebhookID(ctx context.Context, provider, webhookID string) (*Event, error)

	// UpdateStatus persists status, failure reason and processed timestamp
	UpdateStatus(ctx context.Context, event *Event) error

	// CountByStatus groups all events by status
	CountByStatus(ctx context.Context) (map[Status]int64, error)

	// CountByProvider groups all events by provider
	CountByProvider(ctx context.Context) (map[string]int64, error)
}
