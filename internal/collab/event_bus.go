package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// EventChannel is the single well-known pub/sub channel every instance
// publishes room events to and subscribes from.
const EventChannel = "collaboration:events"

// FanoutType labels the cross-instance event kinds.
type FanoutType string

const (
	FanoutUserJoined   FanoutType = "USER_JOINED"
	FanoutUserLeft     FanoutType = "USER_LEFT"
	FanoutCursorUpdate FanoutType = "CURSOR_UPDATE"
)

// FanoutEvent is the envelope replicated to every instance via the event bus.
// SourceInstanceID identifies the publisher; it is carried but not used to
// suppress re-delivery, since re-delivery to the origin is idempotent and
// clients already ignore events naming their own userId.
type FanoutEvent struct {
	Type             FanoutType      `json:"type"`
	NoteID           string          `json:"noteId"`
	Payload          json.RawMessage `json:"payload"`
	SourceInstanceID string          `json:"sourceInstanceId"`
}

// EventBus replicates room-scoped events to all server instances.
// Delivery is at-least-once and unordered across publishers.
type EventBus interface {
	Publish(ctx context.Context, event *FanoutEvent) error
	Subscribe(ctx context.Context) (<-chan *FanoutEvent, error)
	Close() error
}

type redisEventBus struct {
	client *redis.Client
	pubsub *redis.PubSub
}

func NewRedisEventBus(client *redis.Client) EventBus {
	return &redisEventBus{client: client}
}

func (b *redisEventBus) Publish(ctx context.Context, event *FanoutEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal fanout event: %w", err)
	}
	if err := b.client.Publish(ctx, EventChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish fanout event: %w", err)
	}
	return nil
}

// Subscribe opens the process-wide subscription and bridges it into a bounded
// channel read by a single consumer. Malformed payloads are logged and
// skipped, never fatal.
func (b *redisEventBus) Subscribe(ctx context.Context) (<-chan *FanoutEvent, error) {
	b.pubsub = b.client.Subscribe(ctx, EventChannel)

	// Force the subscription to be established before returning so a publish
	// immediately after Subscribe is not lost.
	if _, err := b.pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", EventChannel, err)
	}

	events := make(chan *FanoutEvent, 256)
	go func() {
		defer close(events)
		for msg := range b.pubsub.Channel() {
			var event FanoutEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				slog.Warn("Failed to unmarshal fanout event", "error", err)
				continue
			}
			events <- &event
		}
	}()

	return events, nil
}

func (b *redisEventBus) Close() error {
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}
