package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hopngo/payments/internal/domain/outbox"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultEventStream         = "payments:events"
	DefaultRefundRequestStream = "bookings:refund-requested"
	DLQStream                  = "payments:dlq"
)

// EventPublisher appends domain events to a stream for downstream consumers.
type EventPublisher struct {
	client *redis.Client
	stream string
}

func NewEventPublisher(client *redis.Client, stream string) *EventPublisher {
	if stream == "" {
		stream = DefaultEventStream
	}
	return &EventPublisher{client: client, stream: stream}
}

func (p *EventPublisher) Stream() string { return p.stream }

// Publish writes one outbox entry. The outbox id doubles as event_id so
// consumers can deduplicate relays of the same entry.
func (p *EventPublisher) Publish(ctx context.Context, entry *outbox.Entry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"event_id":       entry.ID.String(),
			"event_type":     entry.EventType,
			"aggregate_type": entry.AggregateType,
			"aggregate_id":   entry.AggregateID.String(),
			"payload":        string(payload),
			"timestamp":      time.Now().Unix(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", entry.EventType, p.stream, err)
	}
	return nil
}

// DeadLetter copies rejected stream messages to the DLQ stream with the reason
// they were rejected.
type DeadLetter struct {
	client *redis.Client
}

func NewDeadLetter(client *redis.Client) *DeadLetter {
	return &DeadLetter{client: client}
}

func (d *DeadLetter) Send(ctx context.Context, source string, msg redis.XMessage, reason string) error {
	original, err := json.Marshal(msg.Values)
	if err != nil {
		return fmt.Errorf("marshal DLQ data: %w", err)
	}

	err = d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: DLQStream,
		Values: map[string]any{
			"source_stream": source,
			"message_id":    msg.ID,
			"reason":        reason,
			"payload":       string(original),
			"timestamp":     time.Now().Unix(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}
	return nil
}

// StreamConsumer reads one stream as a member of a consumer group.
type StreamConsumer struct {
	client        *redis.Client
	stream        string
	group         string
	consumer      string
	batchSize     int64
	blockDuration time.Duration
}

func NewStreamConsumer(
	client *redis.Client,
	stream string,
	group string,
	consumer string,
	batchSize int64,
	blockDuration time.Duration,
) *StreamConsumer {
	return &StreamConsumer{
		client:        client,
		stream:        stream,
		group:         group,
		consumer:      consumer,
		batchSize:     batchSize,
		blockDuration: blockDuration,
	}
}

func (c *StreamConsumer) Stream() string { return c.stream }

// CreateGroup creates the stream and group if missing. An existing group is not an error.
func (c *StreamConsumer) CreateGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Read blocks for new messages delivered to this consumer. A timeout yields no messages.
func (c *StreamConsumer) Read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.batchSize,
		Block:    c.blockDuration,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var messages []redis.XMessage
	for _, s := range streams {
		messages = append(messages, s.Messages...)
	}
	return messages, nil
}

func (c *StreamConsumer) Ack(ctx context.Context, messageID string) error {
	if err := c.client.XAck(ctx, c.stream, c.group, messageID).Err(); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

// AutoClaim takes over messages left unacknowledged by any consumer for at
// least minIdle, including this one after a transient failure.
func (c *StreamConsumer) AutoClaim(ctx context.Context, minIdle time.Duration) ([]redis.XMessage, error) {
	messages, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    c.batchSize,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim messages: %w", err)
	}
	return messages, nil
}
