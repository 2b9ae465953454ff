package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"liftsync/pkg/interfaces"
)

// RedisBroker implements the cross-instance bus over redis pub/sub.
// ARCHITECTURAL DISCOVERY: one PubSub connection carries every channel the
// instance cares about; Subscribe/Unsubscribe mutate its channel set rather
// than opening new connections.
type RedisBroker struct {
	client *redis.Client

	mu     sync.Mutex
	pubsub *redis.PubSub
	out    chan interfaces.BrokerMessage
	closed bool
}

// NewRedisBroker wraps an already-connected client
func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{
		client: client,
		out:    make(chan interfaces.BrokerMessage, 256),
	}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe adds channels to the pubsub connection, creating it (and the
// pump goroutine) on first use
func (b *RedisBroker) Subscribe(ctx context.Context, channels ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("broker is closed")
	}
	if b.pubsub == nil {
		b.pubsub = b.client.Subscribe(ctx, channels...)
		go b.pump(b.pubsub)
		return nil
	}
	if err := b.pubsub.Subscribe(ctx, channels...); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	return nil
}

func (b *RedisBroker) Unsubscribe(ctx context.Context, channels ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pubsub == nil || b.closed {
		return nil
	}
	if err := b.pubsub.Unsubscribe(ctx, channels...); err != nil {
		return fmt.Errorf("redis unsubscribe: %w", err)
	}
	return nil
}

func (b *RedisBroker) Messages() <-chan interfaces.BrokerMessage {
	return b.out
}

// Close tears down the pubsub connection; the pump drains and closes the
// output channel, which is the engine listener's exit signal
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	close(b.out)
	return nil
}

// pump converts redis messages into broker messages until the pubsub
// channel closes
func (b *RedisBroker) pump(ps *redis.PubSub) {
	defer close(b.out)
	for msg := range ps.Channel() {
		b.out <- interfaces.BrokerMessage{
			Channel: msg.Channel,
			Payload: []byte(msg.Payload),
		}
	}
}
