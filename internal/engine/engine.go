package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"liftsync/internal/state"
	"liftsync/pkg/interfaces"
	"liftsync/pkg/types"
)

// Config carries engine tunables
type Config struct {
	InstanceID string
	Namespace  string
	MirrorTTL  time.Duration
	RateLimit  int // operations per connection per minute
}

// Engine coordinates connections, operation dispatch, and cross-instance
// broadcast. One Engine runs per server instance.
type Engine struct {
	instanceID string
	namespace  string

	registry *Registry
	broker   interfaces.Broker
	sessions interfaces.SessionRepository
	states   *state.Store
	limiter  *RateLimiter
	stats    *Stats

	handlers map[types.OperationType][]HandlerFunc

	mu           sync.Mutex
	running      bool
	listenerDone chan struct{}
	cancelListen context.CancelFunc
}

// New creates an engine with the default operation handlers registered
func New(cfg Config, kv interfaces.KV, broker interfaces.Broker, sessions interfaces.SessionRepository, states *state.Store) *Engine {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 600
	}
	if cfg.MirrorTTL <= 0 {
		cfg.MirrorTTL = 5 * time.Minute
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "liftsync"
	}

	e := &Engine{
		instanceID: cfg.InstanceID,
		namespace:  cfg.Namespace,
		broker:     broker,
		sessions:   sessions,
		states:     states,
		limiter:    NewRateLimiter(cfg.RateLimit),
		stats:      &Stats{},
		handlers:   make(map[types.OperationType][]HandlerFunc),
	}
	e.registry = NewRegistry(kv, e, cfg.InstanceID, cfg.Namespace, cfg.MirrorTTL)
	e.registerDefaultHandlers()
	return e
}

// RegisterHandler appends a handler for an operation type. Handlers run in
// registration order; the first error stops the chain.
func (e *Engine) RegisterHandler(opType types.OperationType, h HandlerFunc) {
	e.handlers[opType] = append(e.handlers[opType], h)
}

// Start subscribes to the global channel and begins consuming broker
// messages
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrEngineAlreadyRunning
	}
	e.running = true
	e.listenerDone = make(chan struct{})
	listenCtx, cancel := context.WithCancel(context.Background())
	e.cancelListen = cancel
	e.mu.Unlock()

	if err := e.broker.Subscribe(ctx, e.globalChannel()); err != nil {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		cancel()
		return fmt.Errorf("subscribing to global channel: %w", err)
	}

	go e.listen(listenCtx)
	log.Printf("Engine: started (instance %s)", e.instanceID)
	return nil
}

// Stop disconnects local connections and shuts down the broker listener
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrEngineNotRunning
	}
	e.running = false
	cancel := e.cancelListen
	done := e.listenerDone
	e.mu.Unlock()

	for _, id := range e.registry.allConnectionIDs() {
		e.registry.Disconnect(ctx, id)
	}

	if err := e.broker.Close(); err != nil {
		log.Printf("Engine: broker close failed: %v", err)
	}
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	log.Printf("Engine: stopped (instance %s)", e.instanceID)
	return nil
}

// Connect registers a new client connection, optionally pre-bound to a
// session
func (e *Engine) Connect(ctx context.Context, conn interfaces.Conn, accountID, sessionID string) (string, error) {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if !running {
		return "", ErrEngineNotRunning
	}
	return e.registry.Connect(ctx, conn, accountID, sessionID)
}

// Disconnect tears down a connection and its rate limiter state
func (e *Engine) Disconnect(ctx context.Context, connectionID string) {
	e.registry.Disconnect(ctx, connectionID)
	e.limiter.Remove(connectionID)
}

// ConnectionInfo reports the account and session a connection is bound to
func (e *Engine) ConnectionInfo(connectionID string) (accountID, sessionID string, ok bool) {
	return e.registry.Info(connectionID)
}

// Stats merges registry and counter snapshots for the stats surface
func (e *Engine) Stats() map[string]any {
	out := make(map[string]any)
	for k, v := range e.registry.Stats() {
		out[k] = v
	}
	for k, v := range e.stats.Snapshot() {
		out[k] = v
	}
	out["instance_id"] = e.instanceID
	return out
}

// ClusterConnections lists cluster-wide mirror entries for a session
// (pass "" for all)
func (e *Engine) ClusterConnections(ctx context.Context, sessionID string) ([]MirrorEntry, error) {
	return e.registry.MirrorEntries(ctx, sessionID)
}

func (e *Engine) globalChannel() string {
	return fmt.Sprintf("%s:global", e.namespace)
}

func (e *Engine) sessionChannel(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", e.namespace, sessionID)
}

// sessionSubscriber implementation, called by the registry

func (e *Engine) subscribeSession(ctx context.Context, sessionID string) error {
	return e.broker.Subscribe(ctx, e.sessionChannel(sessionID))
}

func (e *Engine) unsubscribeSession(ctx context.Context, sessionID string) error {
	return e.broker.Unsubscribe(ctx, e.sessionChannel(sessionID))
}

// listen consumes broker messages until the stream closes.
// FUNCTIONAL DISCOVERY: every instance receives its own publishes back;
// the instance_id stamp is what prevents double delivery to local clients.
func (e *Engine) listen(ctx context.Context) {
	defer close(e.listenerDone)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-e.broker.Messages():
			if !ok {
				return
			}
			op, err := types.DecodeOperation(msg.Payload)
			if err != nil {
				log.Printf("Engine: dropping undecodable broker message on %s: %v", msg.Channel, err)
				continue
			}
			if op.InstanceID == e.instanceID {
				continue // our own publish echoed back
			}
			e.stats.IncRemote()
			e.fanOut(ctx, op, "")
		}
	}
}

// BroadcastToSession publishes an operation to the session channel and
// delivers it to local connections, excluding the originating connection.
func (e *Engine) BroadcastToSession(ctx context.Context, op *types.Operation, excludeConnectionID string) error {
	if op.SessionID == "" {
		return fmt.Errorf("operation %s has no session", op.ID)
	}
	if op.InstanceID == "" {
		op.InstanceID = e.instanceID
	}

	data, err := op.Encode()
	if err != nil {
		return fmt.Errorf("encoding operation %s: %w", op.ID, err)
	}

	if err := e.broker.Publish(ctx, e.sessionChannel(op.SessionID), data); err != nil {
		// Local delivery still proceeds; remote instances miss this op
		log.Printf("Engine: publish failed for session %s: %v", op.SessionID, err)
	}

	e.stats.IncBroadcasts()
	e.fanOut(ctx, op, excludeConnectionID)
	return nil
}

// fanOut delivers an operation to local session connections. A failed
// write disconnects only that connection; the rest of the fan-out
// continues.
func (e *Engine) fanOut(ctx context.Context, op *types.Operation, excludeConnectionID string) {
	targets := e.registry.targets(op.SessionID, excludeConnectionID)
	delivered := int64(0)
	for connID, conn := range targets {
		if err := conn.WriteOperation(op); err != nil {
			log.Printf("Engine: delivery failed to connection %s: %v", connID, err)
			e.stats.IncDeliveryFailures()
			e.Disconnect(ctx, connID)
			continue
		}
		delivered++
	}
	e.stats.AddOutgoing(delivered)
}

// SendToConnection writes an operation to exactly one local connection
func (e *Engine) SendToConnection(ctx context.Context, connectionID string, op *types.Operation) error {
	e.registry.mu.Lock()
	st, exists := e.registry.conns[connectionID]
	e.registry.mu.Unlock()
	if !exists {
		return ErrConnectionNotFound
	}
	if err := st.conn.WriteOperation(op); err != nil {
		e.stats.IncDeliveryFailures()
		e.Disconnect(ctx, connectionID)
		return fmt.Errorf("writing to connection %s: %w", connectionID, err)
	}
	e.stats.AddOutgoing(1)
	return nil
}
