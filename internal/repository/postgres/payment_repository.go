package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/hopngo/payments/internal/domain/errors"
	"github.com/hopngo/payments/internal/domain/payment"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const paymentColumns = `id, order_id, provider, provider_intent_id, amount::text, currency, status,
	client_secret, failure_reason, created_at, updated_at, completed_at`

// PaymentRepository implements payment.Repository using PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository creates a new PaymentRepository.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Create inserts a new payment.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO payments
		 (id, order_id, provider, provider_intent_id, amount, currency, status,
		  client_secret, failure_reason, created_at, updated_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.OrderID, string(p.Provider), p.ProviderIntentID,
		centsToNumericString(p.Amount.ValueCents), p.Amount.Currency, string(p.Status),
		p.ClientSecret, p.FailureReason, p.CreatedAt, p.UpdatedAt, p.CompletedAt,
	)
	if err != nil {
		if constraint, ok := uniqueConstraint(err); ok {
			switch constraint {
			case "payments_one_pending_per_order":
				return domainErrors.ErrPaymentInProgress
			case "payments_provider_intent_id_key":
				return domainErrors.NewDomainError("duplicate_intent",
					"provider intent "+p.ProviderIntentID+" already recorded", domainErrors.ErrInvalidInput)
			}
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetByID retrieves a payment by its ID.
func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	return r.scanPayment(r.db(ctx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

// GetByIDForUpdate locks the payment row for the rest of the surrounding transaction.
func (r *PaymentRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	return r.scanPayment(r.db(ctx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id))
}

func (r *PaymentRepository) GetByProviderIntentID(ctx context.Context, intentID string) (*payment.Payment, error) {
	return r.scanPayment(r.db(ctx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE provider_intent_id = $1`, intentID))
}

func (r *PaymentRepository) GetPendingByOrderID(ctx context.Context, orderID uuid.UUID) (*payment.Payment, error) {
	return r.scanPayment(r.db(ctx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 AND status = 'PENDING'`, orderID))
}

func (r *PaymentRepository) GetLatestSucceededByOrderID(ctx context.Context, orderID uuid.UUID) (*payment.Payment, error) {
	return r.scanPayment(r.db(ctx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE order_id = $1 AND status = 'SUCCEEDED'
		 ORDER BY completed_at DESC NULLS LAST, created_at DESC
		 LIMIT 1`, orderID))
}

func (r *PaymentRepository) CountByOrderID(ctx context.Context, orderID uuid.UUID) (int, error) {
	var n int
	if err := r.db(ctx).QueryRow(ctx, `SELECT count(*) FROM payments WHERE order_id = $1`, orderID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count payments: %w", err)
	}
	return n, nil
}

// UpdateStatus writes a status change only if the row still has the status the caller read.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, p *payment.Payment, previous payment.Status) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE payments SET status = $1, failure_reason = $2, updated_at = $3, completed_at = $4
		 WHERE id = $5 AND status = $6`,
		string(p.Status), p.FailureReason, p.UpdatedAt, p.CompletedAt, p.ID, string(previous),
	)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment %s no longer %s: %w", p.ID, previous, domainErrors.ErrConcurrentModification)
	}
	return nil
}

func (r *PaymentRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*payment.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE status = 'PENDING' AND updated_at < $1
		 ORDER BY updated_at ASC
		 LIMIT $2`, olderThan, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list stale payments: %w", err)
	}
	defer rows.Close()

	var payments []*payment.Payment
	for rows.Next() {
		p, err := r.scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// --- scanning helpers ---

func (r *PaymentRepository) scanPayment(s scanner) (*payment.Payment, error) {
	p := &payment.Payment{}
	var (
		provider  string
		amountStr string
		status    string
	)
	err := s.Scan(
		&p.ID, &p.OrderID, &provider, &p.ProviderIntentID, &amountStr, &p.Amount.Currency, &status,
		&p.ClientSecret, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}

	cents, err := numericStringToCents(amountStr)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	p.Amount.ValueCents = cents
	p.Provider = payment.Provider(provider)
	p.Status = payment.Status(status)
	return p, nil
}
