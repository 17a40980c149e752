// Package watermill publishes outbound updates on a Watermill Pub/Sub.
//
// Every update becomes one message on the Topic with a JSON payload and the
// event_type and session_id metadata keys, so any Watermill subscriber (or a
// broker-backed Pub/Sub swapped in through NewBus) can route on them.
package watermill

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/aretw0/journey/internal/logging"
	"github.com/aretw0/journey/pkg/domain"
)

const (
	// Topic carries every outbound update.
	Topic = "journey.updates"

	EventTypeMetadataKey = "event_type"
	SessionMetadataKey   = "session_id"
)

// Bus implements ports.UpdatePublisher and ports.UpdateSubscriber.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger
}

// NewBus wraps an existing publisher and subscriber pair.
func NewBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Bus{publisher: pub, subscriber: sub, logger: logger}
}

// NewInMemory creates a Bus on an in-process GoChannel Pub/Sub.
// Updates published while nobody is subscribed are dropped.
func NewInMemory(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = logging.NewNop()
	}
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            256,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		watermill.NewSlogLogger(logger),
	)
	return NewBus(pubSub, pubSub, logger)
}

// Publish sends an update to every subscriber.
func (b *Bus) Publish(ctx context.Context, u domain.Update) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}

	id := u.ID
	if id == "" {
		id = watermill.NewULID()
	}
	msg := message.NewMessage(id, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(EventTypeMetadataKey, string(u.Type))
	msg.Metadata.Set(SessionMetadataKey, u.SessionID)

	if err := b.publisher.Publish(Topic, msg); err != nil {
		return fmt.Errorf("failed to publish update: %w", err)
	}
	return nil
}

// Subscribe delivers the updates of sessionID in publication order. An empty
// sessionID receives every session. The channel is closed when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, sessionID string) (<-chan domain.Update, error) {
	messages, err := b.subscriber.Subscribe(ctx, Topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan domain.Update)
	go func() {
		defer close(out)
		for msg := range messages {
			if sessionID != "" && msg.Metadata.Get(SessionMetadataKey) != sessionID {
				msg.Ack()
				continue
			}

			var u domain.Update
			if err := json.Unmarshal(msg.Payload, &u); err != nil {
				b.logger.Warn("dropping malformed update", "message_id", msg.UUID, "err", err)
				msg.Ack()
				continue
			}

			select {
			case out <- u:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

// Close closes the publisher and the subscriber.
func (b *Bus) Close() error {
	if err := b.publisher.Close(); err != nil {
		return err
	}
	if any(b.subscriber) == any(b.publisher) {
		return nil
	}
	return b.subscriber.Close()
}
