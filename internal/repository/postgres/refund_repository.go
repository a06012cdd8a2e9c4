package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/hopngo/payments/internal/domain/errors"
	"github.com/hopngo/payments/internal/domain/refund"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const refundColumns = `r.id, r.payment_id, r.booking_id, r.request_id, r.requested_by, r.amount::text, r.currency, r.reason,
	r.status, r.provider_refund_id, r.failure_reason, r.attempts, r.created_at, r.updated_at, r.completed_at`

// RefundRepository implements refund.Repository using PostgreSQL.
type RefundRepository struct {
	pool *pgxpool.Pool
}

func NewRefundRepository(pool *pgxpool.Pool) *RefundRepository {
	return &RefundRepository{pool: pool}
}

func (r *RefundRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *RefundRepository) Create(ctx context.Context, rf *refund.Refund) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO refunds
		 (id, payment_id, booking_id, request_id, requested_by, amount, currency, reason, status,
		  provider_refund_id, failure_reason, attempts, created_at, updated_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		rf.ID, rf.PaymentID, rf.BookingID, rf.RequestID, rf.RequestedBy,
		centsToNumericString(rf.Amount.ValueCents), rf.Amount.Currency, rf.Reason, string(rf.Status),
		rf.ProviderRefundID, rf.FailureReason, rf.Attempts, rf.CreatedAt, rf.UpdatedAt, rf.CompletedAt,
	)
	if err != nil {
		if constraint, ok := uniqueConstraint(err); ok {
			switch constraint {
			case "refunds_one_pending_per_payment":
				return domainErrors.ErrRefundAlreadyPending
			case "refunds_request_id_key":
				return domainErrors.ErrDuplicateRefundRequest
			}
		}
		return fmt.Errorf("insert refund: %w", err)
	}
	return nil
}

func (r *RefundRepository) GetByID(ctx context.Context, id uuid.UUID) (*refund.Refund, error) {
	return scanRefund(r.db(ctx).QueryRow(ctx,
		`SELECT `+refundColumns+` FROM refunds r WHERE r.id = $1`, id))
}

func (r *RefundRepository) GetByRequestID(ctx context.Context, requestID string) (*refund.Refund, error) {
	return scanRefund(r.db(ctx).QueryRow(ctx,
		`SELECT `+refundColumns+` FROM refunds r WHERE r.request_id = $1`, requestID))
}

// Update persists the mutable part of a refund. Entering PENDING can hit the
// one-pending-per-payment index, which maps to ErrRefundAlreadyPending.
func (r *RefundRepository) Update(ctx context.Context, rf *refund.Refund) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE refunds SET status = $1, provider_refund_id = $2, failure_reason = $3,
		        attempts = $4, updated_at = $5, completed_at = $6
		 WHERE id = $7`,
		string(rf.Status), rf.ProviderRefundID, rf.FailureReason,
		rf.Attempts, rf.UpdatedAt, rf.CompletedAt, rf.ID,
	)
	if err != nil {
		if constraint, ok := uniqueConstraint(err); ok && constraint == "refunds_one_pending_per_payment" {
			return domainErrors.ErrRefundAlreadyPending
		}
		return fmt.Errorf("update refund: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrRefundNotFound
	}
	return nil
}

func (r *RefundRepository) ListByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]*refund.Refund, error) {
	return r.list(ctx,
		`SELECT `+refundColumns+` FROM refunds r
		 WHERE r.payment_id = $1
		 ORDER BY r.created_at DESC`, paymentID)
}

func (r *RefundRepository) ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*refund.Refund, error) {
	if limit <= 0 {
		limit = 20
	}
	return r.list(ctx,
		`SELECT `+refundColumns+` FROM refunds r
		 JOIN payments p ON p.id = r.payment_id
		 JOIN orders o ON o.id = p.order_id
		 WHERE o.user_id = $1
		 ORDER BY r.created_at DESC
		 LIMIT $2 OFFSET $3`, userID, limit, offset)
}

func (r *RefundRepository) HasPending(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM refunds WHERE payment_id = $1 AND status = 'PENDING')`, paymentID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending refund: %w", err)
	}
	return exists, nil
}

func (r *RefundRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*refund.Refund, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx,
		`SELECT `+refundColumns+` FROM refunds r
		 WHERE r.status = 'PENDING' AND r.updated_at < $1
		 ORDER BY r.updated_at ASC
		 LIMIT $2`, olderThan, limit)
}

func (r *RefundRepository) list(ctx context.Context, query string, args ...any) ([]*refund.Refund, error) {
	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list refunds: %w", err)
	}
	defer rows.Close()

	var refunds []*refund.Refund
	for rows.Next() {
		rf, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, rf)
	}
	return refunds, rows.Err()
}

func scanRefund(s scanner) (*refund.Refund, error) {
	rf := &refund.Refund{}
	var (
		amountStr string
		status    string
	)
	err := s.Scan(
		&rf.ID, &rf.PaymentID, &rf.BookingID, &rf.RequestID, &rf.RequestedBy, &amountStr, &rf.Amount.Currency, &rf.Reason,
		&status, &rf.ProviderRefundID, &rf.FailureReason, &rf.Attempts, &rf.CreatedAt, &rf.UpdatedAt, &rf.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrRefundNotFound
		}
		return nil, fmt.Errorf("scan refund: %w", err)
	}

	cents, err := numericStringToCents(amountStr)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	rf.Amount.ValueCents = cents
	rf.Status = refund.Status(status)
	return rf, nil
}
