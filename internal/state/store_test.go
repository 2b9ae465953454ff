package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"liftsync/pkg/interfaces"
	"liftsync/pkg/types"
)

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
	gets int
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string][]byte)}
}

func (m *memKV) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
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
	return nil
}

func (m *memKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memKV) Scan(ctx context.Context, pattern string) ([]string, error) {
	return nil, nil
}

type memRepo struct {
	mu      sync.Mutex
	states  map[string]*types.ParticipantState
	upserts int
	reads   int
}

func newMemRepo() *memRepo {
	return &memRepo{states: make(map[string]*types.ParticipantState)}
}

func (r *memRepo) GetState(ctx context.Context, sessionID, accountID string) (*types.ParticipantState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	st, ok := r.states[sessionID+"/"+accountID]
	if !ok {
		return nil, interfaces.ErrStateNotFound
	}
	return st, nil
}

func (r *memRepo) UpsertState(ctx context.Context, st *types.ParticipantState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++
	r.states[st.SessionID+"/"+st.AccountID] = st
	return nil
}

func (r *memRepo) DeleteState(ctx context.Context, sessionID, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, sessionID+"/"+accountID)
	return nil
}

type stubSessions struct {
	session *types.Session
}

func (s *stubSessions) GetSessionByID(ctx context.Context, sessionID string) (*types.Session, error) {
	if s.session == nil || s.session.ID != sessionID {
		return nil, interfaces.ErrSessionNotFound
	}
	return s.session, nil
}

func (s *stubSessions) GetActiveSessionByAccount(ctx context.Context, accountID string) (*types.Session, error) {
	return nil, interfaces.ErrSessionNotFound
}

func (s *stubSessions) CreateSession(ctx context.Context, ownerID, name string) (*types.Session, error) {
	return nil, nil
}

func (s *stubSessions) Invite(ctx context.Context, sessionID, invitedBy, invited string) error {
	return nil
}

func (s *stubSessions) Uninvite(ctx context.Context, sessionID, accountID string) error {
	return nil
}

func (s *stubSessions) AcceptInvite(ctx context.Context, sessionID, accountID string) (*types.Session, error) {
	return nil, nil
}

func (s *stubSessions) UpdateParticipantCursor(ctx context.Context, sessionID, accountID string, cursor *types.Cursor) error {
	return nil
}

func (s *stubSessions) CompleteSession(ctx context.Context, sessionID string) error {
	return nil
}

func activeSession() *types.Session {
	return &types.Session{
		ID:      "s1",
		Status:  types.SessionStatusActive,
		OwnerID: "alice",
		Participants: []types.Participant{
			{ID: "alice"}, {ID: "bob"},
		},
	}
}

func newTestStore(session *types.Session) (*Store, *memRepo, *memKV) {
	repo := newMemRepo()
	kv := newMemKV()
	return NewStore(repo, kv, &stubSessions{session: session}, "test", time.Hour), repo, kv
}

// FUNCTIONAL VALIDATION TEST: First access lazily creates the version-0
// state in both layers
func TestStore_GetOrCreateLazy(t *testing.T) {
	ctx := context.Background()
	store, repo, _ := newTestStore(activeSession())

	st, err := store.GetOrCreate(ctx, "s1", "alice")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if st.Version != 0 || len(st.Items) != 0 {
		t.Errorf("fresh state = version %d, %d items", st.Version, len(st.Items))
	}
	if repo.upserts != 1 {
		t.Errorf("durable upserts = %d, want 1", repo.upserts)
	}

	// Second access returns the existing state without another create
	if _, err := store.GetOrCreate(ctx, "s1", "alice"); err != nil {
		t.Fatalf("second GetOrCreate failed: %v", err)
	}
	if repo.upserts != 1 {
		t.Errorf("repeat access created again: %d upserts", repo.upserts)
	}
}

// FUNCTIONAL VALIDATION TEST: Lazy creation is gated on session existence
// and status
func TestStore_GetOrCreateGates(t *testing.T) {
	ctx := context.Background()

	store, _, _ := newTestStore(nil)
	if _, err := store.GetOrCreate(ctx, "s1", "alice"); !errors.Is(err, interfaces.ErrSessionNotFound) {
		t.Errorf("missing session: err = %v, want ErrSessionNotFound", err)
	}

	done := activeSession()
	done.Status = types.SessionStatusComplete
	store, _, _ = newTestStore(done)
	if _, err := store.GetOrCreate(ctx, "s1", "alice"); !errors.Is(err, interfaces.ErrSessionNotActive) {
		t.Errorf("inactive session: err = %v, want ErrSessionNotActive", err)
	}
}

// FUNCTIONAL VALIDATION TEST: Save writes through and the cache serves
// subsequent reads without hitting the durable layer
func TestStore_WriteThrough(t *testing.T) {
	ctx := context.Background()
	store, repo, _ := newTestStore(activeSession())

	st, _ := store.GetOrCreate(ctx, "s1", "alice")
	st.AddItem(types.Item{ID: "item-1"})
	if err := store.Save(ctx, st); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if repo.upserts != 2 {
		t.Errorf("upserts = %d, want 2 (create + save)", repo.upserts)
	}

	readsBefore := repo.reads
	got, err := store.Get(ctx, "s1", "alice")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Version != 1 || len(got.Items) != 1 {
		t.Errorf("cached read = version %d, %d items", got.Version, len(got.Items))
	}
	if repo.reads != readsBefore {
		t.Error("cached read fell through to the durable layer")
	}
}

// FUNCTIONAL VALIDATION TEST: A cold cache falls back to the durable layer
// and repopulates
func TestStore_CacheMissFallsBack(t *testing.T) {
	ctx := context.Background()
	store, repo, kv := newTestStore(activeSession())

	st, _ := store.GetOrCreate(ctx, "s1", "alice")
	st.AddItem(types.Item{ID: "item-1"})
	store.Save(ctx, st)

	// Simulate cache eviction
	kv.Delete(ctx, "test:state:s1:alice")

	got, err := store.Get(ctx, "s1", "alice")
	if err != nil {
		t.Fatalf("Get after eviction failed: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("durable fallback version = %d, want 1", got.Version)
	}
	if _, err := kv.Get(ctx, "test:state:s1:alice"); err != nil {
		t.Error("cache not repopulated after fallback")
	}
	_ = repo
}

// FUNCTIONAL VALIDATION TEST: SessionStates collects every participant with
// state and skips those without
func TestStore_SessionStates(t *testing.T) {
	ctx := context.Background()
	session := activeSession()
	store, _, _ := newTestStore(session)

	if _, err := store.GetOrCreate(ctx, "s1", "alice"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	states, err := store.SessionStates(ctx, session)
	if err != nil {
		t.Fatalf("SessionStates failed: %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("states = %d, want 1 (bob has none yet)", len(states))
	}
	if _, ok := states["alice"]; !ok {
		t.Error("alice's state missing")
	}
}
