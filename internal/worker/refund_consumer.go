package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/hopngo/payments/internal/domain/errors"
	"github.com/hopngo/payments/internal/domain/payment"
	"github.com/hopngo/payments/internal/domain/refund"
	"github.com/hopngo/payments/internal/infrastructure/observability"
	"github.com/hopngo/payments/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// MessageStream is a consumer-group view of one redis stream.
type MessageStream interface {
	Stream() string
	Read(ctx context.Context) ([]redis.XMessage, error)
	Ack(ctx context.Context, messageID string) error
	AutoClaim(ctx context.Context, minIdle time.Duration) ([]redis.XMessage, error)
}

type DeadLetterSink interface {
	Send(ctx context.Context, source string, msg redis.XMessage, reason string) error
}

type RefundProcessor interface {
	ProcessBookingRefund(ctx context.Context, evt service.RefundRequestedEvent) (*refund.Refund, error)
	ProcessRefund(ctx context.Context, refundID uuid.UUID) (*refund.Refund, error)
}

// RefundRequestConsumer turns refund-requested events from the booking
// component into refunds and drives each one through the provider.
//
// Messages that can never succeed are acked and copied to the DLQ. Messages
// that failed transiently stay pending and are reclaimed after claimMinIdle.
type RefundRequestConsumer struct {
	stream       MessageStream
	dlq          DeadLetterSink
	refunds      RefundProcessor
	claimMinIdle time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewRefundRequestConsumer(
	stream MessageStream,
	dlq DeadLetterSink,
	refunds RefundProcessor,
	claimMinIdle time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *RefundRequestConsumer {
	if claimMinIdle <= 0 {
		claimMinIdle = time.Minute
	}
	return &RefundRequestConsumer{
		stream:       stream,
		dlq:          dlq,
		refunds:      refunds,
		claimMinIdle: claimMinIdle,
		metrics:      metrics,
		logger:       observability.Component(logger, "refund_consumer"),
	}
}

func (c *RefundRequestConsumer) Run(ctx context.Context) error {
	c.logger.Info().Str("stream", c.stream.Stream()).Msg("Refund request consumer started")

	lastClaim := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if time.Since(lastClaim) >= c.claimMinIdle {
			lastClaim = time.Now()
			claimed, err := c.stream.AutoClaim(ctx, c.claimMinIdle)
			if err != nil {
				c.logger.Error().Err(err).Msg("Failed to reclaim idle messages")
			}
			for _, msg := range claimed {
				c.Handle(ctx, msg)
			}
		}

		messages, err := c.stream.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error().Err(err).Msg("Failed to read from stream")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		for _, msg := range messages {
			c.Handle(ctx, msg)
		}
	}
}

// Handle processes one message and reports whether it was acknowledged.
func (c *RefundRequestConsumer) Handle(ctx context.Context, msg redis.XMessage) bool {
	start := time.Now()
	name := c.stream.Stream()
	defer func() {
		c.metrics.WorkerProcessingDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	log := c.logger.With().Str("message_id", msg.ID).Logger()

	evt, err := ParseRefundRequest(msg.Values)
	if err != nil {
		c.reject(ctx, msg, err)
		return true
	}
	if evt.RequestID == "" {
		// Reclaimed and redelivered messages keep their stream id.
		evt.RequestID = name + ":" + msg.ID
	}

	r, err := c.refunds.ProcessBookingRefund(ctx, evt)
	if err != nil {
		if isPermanent(err) {
			c.reject(ctx, msg, err)
			return true
		}
		c.metrics.WorkerMessagesProcessed.WithLabelValues(name, "retry").Inc()
		log.Warn().Err(err).Msg("Refund request failed, leaving message for redelivery")
		return false
	}

	log = log.With().Str("refund_id", r.ID.String()).Logger()
	if r.Status == refund.StatusPending {
		if _, err := c.refunds.ProcessRefund(ctx, r.ID); err != nil {
			// The refund is recorded; the reconciler re-drives it.
			log.Warn().Err(err).Msg("Refund recorded but provider call did not complete")
		}
	} else {
		log.Info().Str("status", string(r.Status)).Msg("Refund request already settled")
	}

	c.ack(ctx, msg)
	c.metrics.WorkerMessagesProcessed.WithLabelValues(name, "success").Inc()
	return true
}

func (c *RefundRequestConsumer) reject(ctx context.Context, msg redis.XMessage, cause error) {
	name := c.stream.Stream()
	c.logger.Warn().Err(cause).Str("message_id", msg.ID).Msg("Rejecting refund request")

	if err := c.dlq.Send(ctx, name, msg, cause.Error()); err != nil {
		// Without a DLQ copy the message must stay pending.
		c.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to dead-letter message")
		return
	}
	c.ack(ctx, msg)
	c.metrics.WorkerMessagesProcessed.WithLabelValues(name, "dead_letter").Inc()
}

func (c *RefundRequestConsumer) ack(ctx context.Context, msg redis.XMessage) {
	if err := c.stream.Ack(ctx, msg.ID); err != nil {
		c.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to ack message")
	}
}

func isPermanent(err error) bool {
	return domainErrors.IsValidation(err) || domainErrors.IsState(err) || domainErrors.IsNotFound(err)
}

// ParseRefundRequest decodes the fields of a refund-requested stream message.
// amount is a decimal string in major units.
func ParseRefundRequest(values map[string]any) (service.RefundRequestedEvent, error) {
	var evt service.RefundRequestedEvent

	if raw := field(values, "booking_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return evt, domainErrors.NewValidationError("booking_id", "must be a UUID")
		}
		evt.BookingID = id
	}
	evt.PaymentID = field(values, "payment_id")
	if evt.BookingID == uuid.Nil && evt.PaymentID == "" {
		return evt, domainErrors.NewValidationError("payment_id", "payment_id or booking_id is required")
	}

	raw := field(values, "amount")
	if raw == "" {
		return evt, domainErrors.NewValidationError("amount", "is required")
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return evt, domainErrors.NewValidationError("amount", fmt.Sprintf("not a decimal: %q", raw))
	}
	currency := field(values, "currency")
	if currency == "" {
		// Filled in from the payment by the refund service.
		cents := value.Shift(2)
		if !cents.Equal(cents.Truncate(0)) || cents.Sign() <= 0 {
			return evt, domainErrors.NewValidationError("amount", "must be positive with at most 2 decimal places")
		}
		evt.Amount = payment.Amount{ValueCents: cents.IntPart()}
	} else {
		evt.Amount, err = payment.AmountFromDecimal(value, currency)
		if err != nil {
			return evt, err
		}
	}

	evt.RequestID = field(values, "request_id")
	if evt.RequestID == "" {
		evt.RequestID = field(values, "event_id")
	}
	evt.Reason = field(values, "reason")
	evt.UserID = field(values, "user_id")
	return evt, nil
}

func field(values map[string]any, key string) string {
	switch v := values[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
