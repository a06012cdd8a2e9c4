package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	domainErrors "github.com/hopngo/payments/internal/domain/errors"
	"github.com/hopngo/payments/internal/domain/order"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OrderRepository reads orders written by the booking component.
type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	o := &order.Order{}
	var (
		totalStr string
		status   string
	)
	err := ConnFromCtx(ctx, r.pool).QueryRow(ctx,
		`SELECT id, user_id, total_amount::text, currency, status FROM orders WHERE id = $1`, id,
	).Scan(&o.ID, &o.UserID, &totalStr, &o.Total.Currency, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	cents, err := numericStringToCents(totalStr)
	if err != nil {
		return nil, fmt.Errorf("parse order total: %w", err)
	}
	o.Total.ValueCents = cents
	o.Status = order.Status(status)
	return o, nil
}
