package postgres

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/hopngo/payments/internal/domain/errors"
	"github.com/hopngo/payments/internal/domain/webhook"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WebhookRepository implements webhook.Repository using PostgreSQL.
type WebhookRepository struct {
	pool *pgxpool.Pool
}

func NewWebhookRepository(pool *pgxpool.Pool) *WebhookRepository {
	return &WebhookRepository{pool: pool}
}

func (r *WebhookRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// Create relies on the (provider, webhook_id) unique constraint to reject
// concurrent deliveries of the same event.
func (r *WebhookRepository) Create(ctx context.Context, e *webhook.Event) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO webhook_events (id, provider, webhook_id, event_type, status, failure_reason, received_at, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Provider, e.WebhookID, e.EventType, string(e.Status), e.FailureReason, e.ReceivedAt, e.ProcessedAt,
	)
	if err != nil {
		if constraint, ok := uniqueConstraint(err); ok && constraint == "webhook_events_provider_webhook_id_key" {
			return domainErrors.ErrDuplicateWebhook
		}
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

func (r *WebhookRepository) GetByProviderAndWebhookID(ctx context.Context, provider, webhookID string) (*webhook.Event, error) {
	e := &webhook.Event{}
	var status string
	err := r.db(ctx).QueryRow(ctx,
		`SELECT id, provider, webhook_id, event_type, status, failure_reason, received_at, processed_at
		 FROM webhook_events WHERE provider = $1 AND webhook_id = $2`, provider, webhookID,
	).Scan(&e.ID, &e.Provider, &e.WebhookID, &e.EventType, &status, &e.FailureReason, &e.ReceivedAt, &e.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrWebhookEventNotFound
		}
		return nil, fmt.Errorf("get webhook event: %w", err)
	}
	e.Status = webhook.Status(status)
	return e, nil
}

func (r *WebhookRepository) UpdateStatus(ctx context.Context, e *webhook.Event) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE webhook_events SET status = $1, failure_reason = $2, processed_at = $3 WHERE id = $4`,
		string(e.Status), e.FailureReason, e.ProcessedAt, e.ID,
	)
	if err != nil {
		return fmt.Errorf("update webhook event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrWebhookEventNotFound
	}
	return nil
}

func (r *WebhookRepository) CountByStatus(ctx context.Context) (map[webhook.Status]int64, error) {
	counts := make(map[webhook.Status]int64)
	err := r.groupCount(ctx, `SELECT status, COUNT(*) FROM webhook_events GROUP BY status`, func(key string, n int64) {
		counts[webhook.Status(key)] = n
	})
	return counts, err
}

func (r *WebhookRepository) CountByProvider(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64)
	err := r.groupCount(ctx, `SELECT provider, COUNT(*) FROM webhook_events GROUP BY provider`, func(key string, n int64) {
		counts[key] = n
	})
	return counts, err
}

func (r *WebhookRepository) groupCount(ctx context.Context, query string, add func(key string, n int64)) error {
	rows, err := r.db(ctx).Query(ctx, query)
	if err != nil {
		return fmt.Errorf("count webhook events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			n   int64
		)
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan webhook count: %w", err)
		}
		add(key, n)
	}
	return rows.Err()
}
