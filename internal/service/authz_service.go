package service

import (
	"context"
	stderrors "errors"

	"github.com/google/uuid"
	"github.com/hopngo/payments/internal/domain/errors"
	"github.com/hopngo/payments/internal/domain/order"
	"github.com/hopngo/payments/internal/domain/payment"
	"github.com/hopngo/payments/internal/middleware"
)

// AuthzService checks that the authenticated caller owns the order behind a
// payment. Resources of other users are reported as not found.
type AuthzService struct {
	paymentRepo payment.Repository
	orders      order.Reader
}

func NewAuthzService(paymentRepo payment.Repository, orders order.Reader) *AuthzService {
	return &AuthzService{paymentRepo: paymentRepo, orders: orders}
}

func (s *AuthzService) VerifyOrderOwnership(ctx context.Context, orderID uuid.UUID) error {
	userID, ok := middleware.GetUserID(ctx)
	if !ok || userID == "" {
		return errors.ErrUnauthorized
	}

	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}

	if o.UserID != userID {
		return errors.ErrOrderNotFound
	}

	return nil
}

func (s *AuthzService) VerifyPaymentOwnership(ctx context.Context, paymentID uuid.UUID) error {
	p, err := s.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		return err
	}
	return s.verifyPayment(ctx, p)
}

// VerifyPaymentRefOwnership accepts either a payment id or a provider intent
// id, the same references a refund request may carry.
func (s *AuthzService) VerifyPaymentRefOwnership(ctx context.Context, ref string) error {
	if id, err := uuid.Parse(ref); err == nil {
		p, err := s.paymentRepo.GetByID(ctx, id)
		if err == nil {
			return s.verifyPayment(ctx, p)
		}
		if !stderrors.Is(err, errors.ErrPaymentNotFound) {
			return err
		}
	}
	p, err := s.paymentRepo.GetByProviderIntentID(ctx, ref)
	if err != nil {
		return err
	}
	return s.verifyPayment(ctx, p)
}

func (s *AuthzService) verifyPayment(ctx context.Context, p *payment.Payment) error {
	err := s.VerifyOrderOwnership(ctx, p.OrderID)
	if stderrors.Is(err, errors.ErrOrderNotFound) {
		return errors.ErrPaymentNotFound
	}
	return err
}
