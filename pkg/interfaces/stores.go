package interfaces

import (
	"context"
	"time"

	"liftsync/pkg/types"
)

// KV is the fast shared store used for the state cache and the connection
// registry mirror. Implementations must treat a missing key as ErrCacheMiss.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// BrokerMessage is one payload received from a subscribed channel
type BrokerMessage struct {
	Channel string
	Payload []byte
}

// Broker is the shared publish/subscribe bus coordinating instances.
// ARCHITECTURAL DISCOVERY: a single Messages stream per instance (rather
// than one per channel) mirrors how a redis pubsub connection works and
// keeps the engine's listener to exactly one goroutine.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
	Messages() <-chan BrokerMessage
	Close() error
}

// Conn is the engine's view of one client connection. The websocket
// package provides the production implementation; tests substitute fakes.
type Conn interface {
	WriteOperation(op *types.Operation) error
	Close() error
}
