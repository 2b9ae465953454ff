package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"liftsync/internal/auth"
	"liftsync/internal/engine"
	"liftsync/internal/state"
	"liftsync/pkg/interfaces"
	"liftsync/pkg/types"
)

// stubKV is a minimal in-memory KV for wiring a real engine behind the
// handler
type stubKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newStubKV() *stubKV {
	return &stubKV{data: make(map[string][]byte)}
}

func (s *stubKV) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, interfaces.ErrCacheMiss
	}
	return v, nil
}

func (s *stubKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *stubKV) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *stubKV) Scan(ctx context.Context, pattern string) ([]string, error) {
	return nil, nil
}

// stubBroker satisfies the bus contract without a backing pub/sub
type stubBroker struct {
	once sync.Once
	out  chan interfaces.BrokerMessage
}

func newStubBroker() *stubBroker {
	return &stubBroker{out: make(chan interfaces.BrokerMessage)}
}

func (b *stubBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return nil
}

func (b *stubBroker) Subscribe(ctx context.Context, channels ...string) error {
	return nil
}

func (b *stubBroker) Unsubscribe(ctx context.Context, channels ...string) error {
	return nil
}

func (b *stubBroker) Messages() <-chan interfaces.BrokerMessage {
	return b.out
}

func (b *stubBroker) Close() error {
	b.once.Do(func() { close(b.out) })
	return nil
}

// stubSessionRepo serves one session document
type stubSessionRepo struct {
	session *types.Session
}

func (r *stubSessionRepo) GetSessionByID(ctx context.Context, sessionID string) (*types.Session, error) {
	if r.session == nil || r.session.ID != sessionID {
		return nil, interfaces.ErrSessionNotFound
	}
	return r.session, nil
}

func (r *stubSessionRepo) GetActiveSessionByAccount(ctx context.Context, accountID string) (*types.Session, error) {
	if r.session != nil && r.session.IsActive() && r.session.CanJoin(accountID) {
		return r.session, nil
	}
	return nil, interfaces.ErrSessionNotFound
}

func (r *stubSessionRepo) CreateSession(ctx context.Context, ownerID, name string) (*types.Session, error) {
	return nil, nil
}

func (r *stubSessionRepo) Invite(ctx context.Context, sessionID, invitedBy, invited string) error {
	return nil
}

func (r *stubSessionRepo) Uninvite(ctx context.Context, sessionID, accountID string) error {
	return nil
}

func (r *stubSessionRepo) AcceptInvite(ctx context.Context, sessionID, accountID string) (*types.Session, error) {
	return nil, nil
}

func (r *stubSessionRepo) UpdateParticipantCursor(ctx context.Context, sessionID, accountID string, cursor *types.Cursor) error {
	return nil
}

func (r *stubSessionRepo) CompleteSession(ctx context.Context, sessionID string) error {
	return nil
}

// stubStateRepo is the in-memory durable state store
type stubStateRepo struct {
	mu     sync.Mutex
	states map[string]*types.ParticipantState
}

func newStubStateRepo() *stubStateRepo {
	return &stubStateRepo{states: make(map[string]*types.ParticipantState)}
}

func (r *stubStateRepo) GetState(ctx context.Context, sessionID, accountID string) (*types.ParticipantState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[sessionID+"/"+accountID]
	if !ok {
		return nil, interfaces.ErrStateNotFound
	}
	return st, nil
}

func (r *stubStateRepo) UpsertState(ctx context.Context, st *types.ParticipantState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[st.SessionID+"/"+st.AccountID] = st
	return nil
}

func (r *stubStateRepo) DeleteState(ctx context.Context, sessionID, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, sessionID+"/"+accountID)
	return nil
}

// handlerTestServer stands up the full handler stack: token auth, a started
// engine on in-memory stores, and an httptest endpoint to dial
func handlerTestServer(t *testing.T, sessions *stubSessionRepo) (*httptest.Server, *auth.TokenService) {
	t.Helper()
	kv := newStubKV()
	states := state.NewStore(newStubStateRepo(), kv, sessions, "test", time.Hour)
	eng := engine.New(engine.Config{
		InstanceID: "instance-a",
		Namespace:  "test",
	}, kv, newStubBroker(), sessions, states)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		eng.Stop(context.Background())
	})

	tokens := auth.NewTokenService("test-secret", time.Hour)
	srv := httptest.NewServer(NewHandler(eng, tokens, sessions))
	t.Cleanup(srv.Close)
	return srv, tokens
}

func readOp(t *testing.T, ws *websocket.Conn) *types.Operation {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	op, err := types.DecodeOperation(data)
	if err != nil {
		t.Fatalf("undecodable frame: %v", err)
	}
	return op
}

// FUNCTIONAL VALIDATION TEST: Reconnecting into an active session delivers
// the greeting followed by a session_sync snapshot, so the client never
// resumes mid-stream
func TestHandler_ResumePushesSnapshot(t *testing.T) {
	sessions := &stubSessionRepo{session: &types.Session{
		ID:      "s1",
		Status:  types.SessionStatusActive,
		OwnerID: "alice",
		Participants: []types.Participant{
			{ID: "alice", Color: "#e6194b"},
		},
	}}
	srv, tokens := handlerTestServer(t, sessions)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + tokens.Issue("alice")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer ws.Close()

	greeting := readOp(t, ws)
	if greeting.Type != types.OpSessionUpdate || greeting.Payload["status"] != "connected" {
		t.Fatalf("greeting = %+v", greeting)
	}
	if greeting.Payload["session_id"] != "s1" {
		t.Errorf("greeting session = %v, want s1", greeting.Payload["session_id"])
	}

	sync := readOp(t, ws)
	if sync.Type != types.OpSessionSync {
		t.Fatalf("second frame = %s, want session_sync", sync.Type)
	}
	if sync.SessionID != "s1" || sync.AccountID != "alice" {
		t.Errorf("sync = session %s account %s", sync.SessionID, sync.AccountID)
	}
	if sync.Version != 0 {
		t.Errorf("fresh snapshot version = %d, want 0", sync.Version)
	}
	if _, ok := sync.Payload["state"]; !ok {
		t.Error("sync payload missing state")
	}
}

// FUNCTIONAL VALIDATION TEST: Without an active session the greeting stands
// alone; no snapshot is pushed
func TestHandler_ConnectWithoutSession(t *testing.T) {
	srv, tokens := handlerTestServer(t, &stubSessionRepo{})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + tokens.Issue("alice")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer ws.Close()

	greeting := readOp(t, ws)
	if greeting.Type != types.OpSessionUpdate || greeting.SessionID != "" {
		t.Fatalf("greeting = %+v", greeting)
	}

	ws.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("unexpected frame after greeting on a sessionless connect")
	}
}
