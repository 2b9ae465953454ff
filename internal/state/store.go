package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"liftsync/pkg/interfaces"
	"liftsync/pkg/types"
)

// Store is the write-through participant state layer: a fast shared cache
// in front of the durable repository. All engine reads and writes go
// through it.
type Store struct {
	repo      interfaces.StateRepository
	kv        interfaces.KV
	sessions  interfaces.SessionRepository
	namespace string
	ttl       time.Duration
}

// NewStore creates a state store with the given cache TTL (defaults to one
// hour, matching the expected length of a workout)
func NewStore(repo interfaces.StateRepository, kv interfaces.KV, sessions interfaces.SessionRepository, namespace string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if namespace == "" {
		namespace = "liftsync"
	}
	return &Store{
		repo:      repo,
		kv:        kv,
		sessions:  sessions,
		namespace: namespace,
		ttl:       ttl,
	}
}

func (s *Store) key(sessionID, accountID string) string {
	return fmt.Sprintf("%s:state:%s:%s", s.namespace, sessionID, accountID)
}

// Get returns the participant's state, cache-first. Missing everywhere
// yields ErrStateNotFound.
func (s *Store) Get(ctx context.Context, sessionID, accountID string) (*types.ParticipantState, error) {
	if st, ok := s.cacheGet(ctx, sessionID, accountID); ok {
		return st, nil
	}

	st, err := s.repo.GetState(ctx, sessionID, accountID)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, st)
	return st, nil
}

// GetOrCreate returns the participant's state, lazily creating the empty
// version-0 state on first access. Creation is gated on the session being
// active; a missing or inactive session surfaces as the matching sentinel.
func (s *Store) GetOrCreate(ctx context.Context, sessionID, accountID string) (*types.ParticipantState, error) {
	st, err := s.Get(ctx, sessionID, accountID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, interfaces.ErrStateNotFound) {
		return nil, err
	}

	session, err := s.sessions.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsActive() {
		return nil, interfaces.ErrSessionNotActive
	}

	st = types.NewParticipantState(sessionID, accountID)
	if err := s.Save(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// Save writes through: durable first, then cache. A cache failure after a
// durable write is logged and tolerated; the next read repopulates it.
func (s *Store) Save(ctx context.Context, st *types.ParticipantState) error {
	if err := s.repo.UpsertState(ctx, st); err != nil {
		return fmt.Errorf("persisting state %s/%s: %w", st.SessionID, st.AccountID, err)
	}
	s.cacheSet(ctx, st)
	return nil
}

// Delete removes the participant's state from both layers
func (s *Store) Delete(ctx context.Context, sessionID, accountID string) error {
	if err := s.kv.Delete(ctx, s.key(sessionID, accountID)); err != nil {
		log.Printf("StateStore: cache delete failed for %s/%s: %v", sessionID, accountID, err)
	}
	return s.repo.DeleteState(ctx, sessionID, accountID)
}

// SessionStates collects the states of every roster participant plus the
// owner. Participants with no state yet are simply absent.
func (s *Store) SessionStates(ctx context.Context, session *types.Session) (map[string]*types.ParticipantState, error) {
	accountIDs := []string{session.OwnerID}
	for i := range session.Participants {
		if session.Participants[i].ID != session.OwnerID {
			accountIDs = append(accountIDs, session.Participants[i].ID)
		}
	}

	out := make(map[string]*types.ParticipantState)
	for _, accountID := range accountIDs {
		st, err := s.Get(ctx, session.ID, accountID)
		if errors.Is(err, interfaces.ErrStateNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[accountID] = st
	}
	return out, nil
}

func (s *Store) cacheGet(ctx context.Context, sessionID, accountID string) (*types.ParticipantState, bool) {
	data, err := s.kv.Get(ctx, s.key(sessionID, accountID))
	if err != nil {
		if !errors.Is(err, interfaces.ErrCacheMiss) {
			log.Printf("StateStore: cache read failed for %s/%s: %v", sessionID, accountID, err)
		}
		return nil, false
	}
	var st types.ParticipantState
	if err := json.Unmarshal(data, &st); err != nil {
		log.Printf("StateStore: bad cache entry for %s/%s: %v", sessionID, accountID, err)
		return nil, false
	}
	return &st, true
}

func (s *Store) cacheSet(ctx context.Context, st *types.ParticipantState) {
	data, err := json.Marshal(st)
	if err != nil {
		log.Printf("StateStore: cache marshal failed for %s/%s: %v", st.SessionID, st.AccountID, err)
		return
	}
	if err := s.kv.Set(ctx, s.key(st.SessionID, st.AccountID), data, s.ttl); err != nil {
		log.Printf("StateStore: cache write failed for %s/%s: %v", st.SessionID, st.AccountID, err)
	}
}
