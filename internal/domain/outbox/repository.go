package outbox

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Insert creates a new outbox entry (typically inside a transaction)
	Insert(ctx context.Context, entry *Entry) error

	// GetPending returns pending outbox entries up to the given limit, oldest first.
	// Rows are locked with SKIP LOCKED, so call it inside a transaction.
	GetPending(ctx context.Context, limit int) ([]*Entry, error)

	// MarkPublished marks an outbox entry as published
	MarkPublished(ctx context.Context, id uuid.UUID) error

	// MarkFailed increments the retry count and records the error. The entry
	// moves to StatusFailed once it reaches its max retries.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}
