package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope delivered to subscribers.
type Message struct {
	Kind        Kind            `json:"kind"`
	Topic       string          `json:"topic"`
	ChannelID   string          `json:"channelId,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"publishedAt"`
}

// NewMessage encodes payload into a message for kind on channelID.
func NewMessage(kind Kind, channelID string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Message{
		Kind:        kind,
		ChannelID:   channelID,
		Payload:     data,
		PublishedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}

// Bus delivers messages to the current subscribers of a topic. Delivery is
// best effort: a subscriber that does not drain its buffer loses messages.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Subscribe(ctx context.Context, topics ...string) (Subscription, error)
	Close() error
}

// Subscription is an active stream of messages for one or more topics.
type Subscription interface {
	Messages() <-chan Message
	Close()
}

// DropFunc is notified whenever a message is dropped for a slow subscriber.
type DropFunc func(topic string)

// PublishAll sends msg to every topic in order, stopping at the first error.
func PublishAll(ctx context.Context, bus Bus, topics []string, msg Message) error {
	for _, topic := range topics {
		if err := bus.Publish(ctx, topic, msg); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
	}
	return nil
}
