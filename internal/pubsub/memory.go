package pubsub

import (
	"context"
	"errors"
	"sync"
)

const defaultBuffer = 64

// MemoryConfig configures the in-process bus.
type MemoryConfig struct {
	Buffer int
	OnDrop DropFunc
}

// NewMemoryBus returns a bus for single-process deployments and tests.
func NewMemoryBus(cfg MemoryConfig) *MemoryBus {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	return &MemoryBus{
		subs:   make(map[*memorySubscription]struct{}),
		buffer: cfg.Buffer,
		onDrop: cfg.OnDrop,
	}
}

type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[*memorySubscription]struct{}
	buffer int
	onDrop DropFunc
	closed bool
}

var errBusClosed = errors.New("bus closed")

func (b *MemoryBus) Publish(ctx context.Context, topic string, msg Message) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	msg.Topic = topic
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errBusClosed
	}
	for sub := range b.subs {
		if _, ok := sub.topics[topic]; !ok {
			continue
		}
		select {
		case sub.ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		default:
			if b.onDrop != nil {
				b.onDrop(topic)
			}
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, topics ...string) (Subscription, error) {
	if len(topics) == 0 {
		return nil, errors.New("at least one topic is required")
	}
	sub := &memorySubscription{
		bus:    b,
		topics: make(map[string]struct{}, len(topics)),
		ch:     make(chan Message, b.buffer),
	}
	for _, topic := range topics {
		sub.topics[topic] = struct{}{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errBusClosed
	}
	b.subs[sub] = struct{}{}
	return sub, nil
}

// Close detaches and closes every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	subs := make([]*memorySubscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.closed = true
	b.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
	return nil
}

type memorySubscription struct {
	once   sync.Once
	bus    *MemoryBus
	topics map[string]struct{}
	ch     chan Message
}

func (s *memorySubscription) Messages() <-chan Message {
	return s.ch
}

func (s *memorySubscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}
