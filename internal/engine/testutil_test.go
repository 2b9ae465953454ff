package engine

import (
	"context"
	"sync"
	"time"

	"liftsync/internal/state"
	"liftsync/pkg/interfaces"
	"liftsync/pkg/types"
)

// memKV is an in-memory KV fake; TTLs are recorded but never enforced
type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (m *memKV) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, interfaces.ErrCacheMiss
	}
	return v, nil
}

func (m *memKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	delete(m.ttls, key)
	return nil
}

func (m *memKV) Scan(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Only prefix patterns ("ns:connection:*") are used in the engine
	prefix := pattern
	if n := len(pattern); n > 0 && pattern[n-1] == '*' {
		prefix = pattern[:n-1]
	}
	var keys []string
	for k := range m.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// memHub is a shared in-memory pub/sub backbone; each memBroker attached to
// it models one instance's broker connection
type memHub struct {
	mu      sync.Mutex
	brokers []*memBroker
}

func newMemHub() *memHub {
	return &memHub{}
}

func (h *memHub) broker() *memBroker {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := &memBroker{
		hub:      h,
		channels: make(map[string]bool),
		out:      make(chan interfaces.BrokerMessage, 256),
	}
	h.brokers = append(h.brokers, b)
	return b
}

func (h *memHub) publish(channel string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, b := range h.brokers {
		b.mu.Lock()
		subscribed := b.channels[channel] && !b.closed
		b.mu.Unlock()
		if subscribed {
			b.out <- interfaces.BrokerMessage{Channel: channel, Payload: payload}
		}
	}
}

type memBroker struct {
	hub      *memHub
	mu       sync.Mutex
	channels map[string]bool
	out      chan interfaces.BrokerMessage
	closed   bool
}

func (b *memBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	b.hub.publish(channel, payload)
	return nil
}

func (b *memBroker) Subscribe(ctx context.Context, channels ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range channels {
		b.channels[ch] = true
	}
	return nil
}

func (b *memBroker) Unsubscribe(ctx context.Context, channels ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range channels {
		delete(b.channels, ch)
	}
	return nil
}

func (b *memBroker) Messages() <-chan interfaces.BrokerMessage {
	return b.out
}

func (b *memBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.out)
	}
	return nil
}

func (b *memBroker) subscribedTo(channel string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channels[channel]
}

// fakeConn records every delivered operation
type fakeConn struct {
	mu     sync.Mutex
	ops    []*types.Operation
	closed bool
	fail   bool // force write failures
}

func newFakeConn() *fakeConn {
	return &fakeConn{}
}

func (c *fakeConn) WriteOperation(op *types.Operation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail || c.closed {
		return ErrConnectionNotFound
	}
	c.ops = append(c.ops, op)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received() []*types.Operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.Operation, len(c.ops))
	copy(out, c.ops)
	return out
}

func (c *fakeConn) lastOp() *types.Operation {
	ops := c.received()
	if len(ops) == 0 {
		return nil
	}
	return ops[len(ops)-1]
}

func (c *fakeConn) opsOfType(t types.OperationType) []*types.Operation {
	var out []*types.Operation
	for _, op := range c.received() {
		if op.Type == t {
			out = append(out, op)
		}
	}
	return out
}

// fakeSessionRepo serves sessions from a map; only the methods the engine
// touches are meaningful
type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*types.Session
	cursors  map[string]*types.Cursor
}

func newFakeSessionRepo(sessions ...*types.Session) *fakeSessionRepo {
	r := &fakeSessionRepo{
		sessions: make(map[string]*types.Session),
		cursors:  make(map[string]*types.Cursor),
	}
	for _, s := range sessions {
		r.sessions[s.ID] = s
	}
	return r
}

func (r *fakeSessionRepo) GetSessionByID(ctx context.Context, sessionID string) (*types.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	return s, nil
}

func (r *fakeSessionRepo) GetActiveSessionByAccount(ctx context.Context, accountID string) (*types.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.IsActive() && s.CanJoin(accountID) {
			return s, nil
		}
	}
	return nil, interfaces.ErrSessionNotFound
}

func (r *fakeSessionRepo) CreateSession(ctx context.Context, ownerID, name string) (*types.Session, error) {
	return nil, nil
}

func (r *fakeSessionRepo) Invite(ctx context.Context, sessionID, invitedBy, invited string) error {
	return nil
}

func (r *fakeSessionRepo) Uninvite(ctx context.Context, sessionID, accountID string) error {
	return nil
}

func (r *fakeSessionRepo) AcceptInvite(ctx context.Context, sessionID, accountID string) (*types.Session, error) {
	return nil, nil
}

func (r *fakeSessionRepo) UpdateParticipantCursor(ctx context.Context, sessionID, accountID string, cursor *types.Cursor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursors[sessionID+"/"+accountID] = cursor
	return nil
}

func (r *fakeSessionRepo) CompleteSession(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.Status = types.SessionStatusComplete
	}
	return nil
}

// fakeStateRepo is the in-memory durable half of the state store
type fakeStateRepo struct {
	mu     sync.Mutex
	states map[string]*types.ParticipantState
}

func newFakeStateRepo() *fakeStateRepo {
	return &fakeStateRepo{states: make(map[string]*types.ParticipantState)}
}

func (r *fakeStateRepo) GetState(ctx context.Context, sessionID, accountID string) (*types.ParticipantState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[sessionID+"/"+accountID]
	if !ok {
		return nil, interfaces.ErrStateNotFound
	}
	return st, nil
}

func (r *fakeStateRepo) UpsertState(ctx context.Context, st *types.ParticipantState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[st.SessionID+"/"+st.AccountID] = st
	return nil
}

func (r *fakeStateRepo) DeleteState(ctx context.Context, sessionID, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, sessionID+"/"+accountID)
	return nil
}

// testSession builds an active session owned by "alice" with "bob" on the
// roster
func testSession(id string) *types.Session {
	return &types.Session{
		ID:      id,
		Status:  types.SessionStatusActive,
		OwnerID: "alice",
		Participants: []types.Participant{
			{ID: "alice", Color: "#e6194b"},
			{ID: "bob", Color: "#3cb44b"},
		},
	}
}

// testEngine assembles an engine on in-memory fakes. Returns the engine and
// its collaborators for assertions.
type testRig struct {
	engine   *Engine
	kv       *memKV
	broker   *memBroker
	sessions *fakeSessionRepo
	states   *state.Store
}

func newTestRig(hub *memHub, instanceID string, sessions *fakeSessionRepo) *testRig {
	kv := newMemKV()
	b := hub.broker()
	states := state.NewStore(newFakeStateRepo(), kv, sessions, "test", time.Hour)
	eng := New(Config{
		InstanceID: instanceID,
		Namespace:  "test",
		MirrorTTL:  time.Minute,
		RateLimit:  1000,
	}, kv, b, sessions, states)
	return &testRig{engine: eng, kv: kv, broker: b, sessions: sessions, states: states}
}

func stateStoreForTest(kv *memKV, sessions *fakeSessionRepo) *state.Store {
	return state.NewStore(newFakeStateRepo(), kv, sessions, "test", time.Hour)
}

// drainRemote gives the listener goroutine a moment to consume pending
// broker messages
func drainRemote() {
	time.Sleep(50 * time.Millisecond)
}

func mustEncode(op *types.Operation) []byte {
	data, err := op.Encode()
	if err != nil {
		panic(err)
	}
	return data
}
