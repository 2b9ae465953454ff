package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"liftsync/pkg/interfaces"
)

// sessionSubscriber is notified when the first local connection joins a
// session and when the last one leaves. The engine implements it to manage
// broker channel subscriptions.
type sessionSubscriber interface {
	subscribeSession(ctx context.Context, sessionID string) error
	unsubscribeSession(ctx context.Context, sessionID string) error
}

// connectionState holds everything the registry tracks per connection
type connectionState struct {
	conn         interfaces.Conn
	accountID    string
	sessionID    string
	connectedAt  time.Time
	lastActivity time.Time
}

// MirrorEntry is the JSON document written to the shared KV store so other
// instances can see this instance's connections.
type MirrorEntry struct {
	AccountID    string    `json:"account_id"`
	SessionID    string    `json:"session_id,omitempty"`
	InstanceID   string    `json:"instance_id"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Registry tracks this instance's live connections and their session
// bindings.
// ARCHITECTURAL DISCOVERY: one coarse mutex over three maps is simpler and
// faster than per-map locks at realistic connection counts, and removes a
// whole class of lock-ordering bugs.
type Registry struct {
	mu           sync.Mutex
	conns        map[string]*connectionState
	sessionConns map[string]map[string]bool // sessionID -> connID set
	accountConns map[string]map[string]bool // accountID -> connID set

	kv         interfaces.KV
	subscriber sessionSubscriber
	instanceID string
	namespace  string
	mirrorTTL  time.Duration
}

// NewRegistry creates a connection registry backed by the shared KV mirror
func NewRegistry(kv interfaces.KV, sub sessionSubscriber, instanceID, namespace string, mirrorTTL time.Duration) *Registry {
	return &Registry{
		conns:        make(map[string]*connectionState),
		sessionConns: make(map[string]map[string]bool),
		accountConns: make(map[string]map[string]bool),
		kv:           kv,
		subscriber:   sub,
		instanceID:   instanceID,
		namespace:    namespace,
		mirrorTTL:    mirrorTTL,
	}
}

func (r *Registry) mirrorKey(connectionID string) string {
	return fmt.Sprintf("%s:connection:%s", r.namespace, connectionID)
}

// Connect registers a new connection, optionally pre-bound to a session.
// Returns the assigned connection ID.
func (r *Registry) Connect(ctx context.Context, conn interfaces.Conn, accountID, sessionID string) (string, error) {
	connectionID := uuid.New().String()
	now := time.Now()

	r.mu.Lock()
	r.conns[connectionID] = &connectionState{
		conn:         conn,
		accountID:    accountID,
		sessionID:    sessionID,
		connectedAt:  now,
		lastActivity: now,
	}
	if r.accountConns[accountID] == nil {
		r.accountConns[accountID] = make(map[string]bool)
	}
	r.accountConns[accountID][connectionID] = true

	firstInSession := false
	if sessionID != "" {
		if r.sessionConns[sessionID] == nil {
			r.sessionConns[sessionID] = make(map[string]bool)
			firstInSession = true
		}
		r.sessionConns[sessionID][connectionID] = true
	}
	r.mu.Unlock()

	// Subscribe outside the lock; the broker call can block on I/O
	if firstInSession && r.subscriber != nil {
		if err := r.subscriber.subscribeSession(ctx, sessionID); err != nil {
			log.Printf("Registry: session subscribe failed for %s: %v", sessionID, err)
		}
	}

	r.writeMirror(ctx, connectionID, accountID, sessionID, now, now)
	return connectionID, nil
}

// JoinSession binds a connection to a session, implicitly leaving any
// previous one. Returns the previous session ID ("" if none).
func (r *Registry) JoinSession(ctx context.Context, connectionID, sessionID string) (string, error) {
	r.mu.Lock()
	state, exists := r.conns[connectionID]
	if !exists {
		r.mu.Unlock()
		return "", ErrConnectionNotFound
	}

	prevSession := state.sessionID
	if prevSession == sessionID {
		r.mu.Unlock()
		return prevSession, nil
	}

	lastInPrev := false
	if prevSession != "" {
		delete(r.sessionConns[prevSession], connectionID)
		if len(r.sessionConns[prevSession]) == 0 {
			delete(r.sessionConns, prevSession)
			lastInPrev = true
		}
	}

	firstInNew := false
	if r.sessionConns[sessionID] == nil {
		r.sessionConns[sessionID] = make(map[string]bool)
		firstInNew = true
	}
	r.sessionConns[sessionID][connectionID] = true
	state.sessionID = sessionID
	state.lastActivity = time.Now()
	accountID := state.accountID
	connectedAt := state.connectedAt
	lastActivity := state.lastActivity
	r.mu.Unlock()

	if r.subscriber != nil {
		if lastInPrev {
			if err := r.subscriber.unsubscribeSession(ctx, prevSession); err != nil {
				log.Printf("Registry: session unsubscribe failed for %s: %v", prevSession, err)
			}
		}
		if firstInNew {
			if err := r.subscriber.subscribeSession(ctx, sessionID); err != nil {
				log.Printf("Registry: session subscribe failed for %s: %v", sessionID, err)
			}
		}
	}

	r.writeMirror(ctx, connectionID, accountID, sessionID, connectedAt, lastActivity)
	return prevSession, nil
}

// LeaveSession unbinds a connection from its session. Returns the session
// and account it was bound to.
func (r *Registry) LeaveSession(ctx context.Context, connectionID string) (string, string, error) {
	r.mu.Lock()
	state, exists := r.conns[connectionID]
	if !exists {
		r.mu.Unlock()
		return "", "", ErrConnectionNotFound
	}

	sessionID := state.sessionID
	accountID := state.accountID
	if sessionID == "" {
		r.mu.Unlock()
		return "", accountID, nil
	}

	delete(r.sessionConns[sessionID], connectionID)
	lastInSession := false
	if len(r.sessionConns[sessionID]) == 0 {
		delete(r.sessionConns, sessionID)
		lastInSession = true
	}
	state.sessionID = ""
	state.lastActivity = time.Now()
	connectedAt := state.connectedAt
	lastActivity := state.lastActivity
	r.mu.Unlock()

	if lastInSession && r.subscriber != nil {
		if err := r.subscriber.unsubscribeSession(ctx, sessionID); err != nil {
			log.Printf("Registry: session unsubscribe failed for %s: %v", sessionID, err)
		}
	}

	r.writeMirror(ctx, connectionID, accountID, "", connectedAt, lastActivity)
	return sessionID, accountID, nil
}

// Disconnect removes a connection entirely. Idempotent: disconnecting an
// unknown connection is a no-op.
func (r *Registry) Disconnect(ctx context.Context, connectionID string) (string, string) {
	r.mu.Lock()
	state, exists := r.conns[connectionID]
	if !exists {
		r.mu.Unlock()
		return "", ""
	}

	sessionID := state.sessionID
	accountID := state.accountID
	conn := state.conn
	delete(r.conns, connectionID)

	delete(r.accountConns[accountID], connectionID)
	if len(r.accountConns[accountID]) == 0 {
		delete(r.accountConns, accountID)
	}

	lastInSession := false
	if sessionID != "" {
		delete(r.sessionConns[sessionID], connectionID)
		if len(r.sessionConns[sessionID]) == 0 {
			delete(r.sessionConns, sessionID)
			lastInSession = true
		}
	}
	r.mu.Unlock()

	if lastInSession && r.subscriber != nil {
		if err := r.subscriber.unsubscribeSession(ctx, sessionID); err != nil {
			log.Printf("Registry: session unsubscribe failed for %s: %v", sessionID, err)
		}
	}

	if err := r.kv.Delete(ctx, r.mirrorKey(connectionID)); err != nil {
		log.Printf("Registry: mirror delete failed for %s: %v", connectionID, err)
	}
	if err := conn.Close(); err != nil {
		log.Printf("Registry: connection close failed for %s: %v", connectionID, err)
	}

	return sessionID, accountID
}

// Touch updates last-activity for a connection. When refreshMirror is set
// the KV mirror entry is rewritten, resetting its TTL.
func (r *Registry) Touch(ctx context.Context, connectionID string, refreshMirror bool) error {
	r.mu.Lock()
	state, exists := r.conns[connectionID]
	if !exists {
		r.mu.Unlock()
		return ErrConnectionNotFound
	}
	state.lastActivity = time.Now()
	accountID := state.accountID
	sessionID := state.sessionID
	connectedAt := state.connectedAt
	lastActivity := state.lastActivity
	r.mu.Unlock()

	if refreshMirror {
		r.writeMirror(ctx, connectionID, accountID, sessionID, connectedAt, lastActivity)
	}
	return nil
}

// Info reports the account and session a connection is bound to
func (r *Registry) Info(connectionID string) (accountID, sessionID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, exists := r.conns[connectionID]
	if !exists {
		return "", "", false
	}
	return state.accountID, state.sessionID, true
}

// targets returns the connections bound to a session, excluding one
// connection ID (pass "" to exclude none). Conns are copied out so delivery
// happens outside the lock.
func (r *Registry) targets(sessionID, excludeConnectionID string) map[string]interfaces.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.sessionConns[sessionID]
	if len(ids) == 0 {
		return nil
	}
	out := make(map[string]interfaces.Conn, len(ids))
	for id := range ids {
		if id == excludeConnectionID {
			continue
		}
		if state, exists := r.conns[id]; exists {
			out[id] = state.conn
		}
	}
	return out
}

// allConnectionIDs snapshots every tracked connection ID
func (r *Registry) allConnectionIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// Stats reports local connection counts
func (r *Registry) Stats() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]int{
		"connections": len(r.conns),
		"sessions":    len(r.sessionConns),
		"accounts":    len(r.accountConns),
	}
}

// MirrorEntries lists cluster-wide connection mirror entries, optionally
// filtered to one session. Entries another instance let expire are simply
// absent.
func (r *Registry) MirrorEntries(ctx context.Context, sessionID string) ([]MirrorEntry, error) {
	keys, err := r.kv.Scan(ctx, fmt.Sprintf("%s:connection:*", r.namespace))
	if err != nil {
		return nil, fmt.Errorf("scanning connection mirror: %w", err)
	}

	var entries []MirrorEntry
	for _, key := range keys {
		data, err := r.kv.Get(ctx, key)
		if err != nil {
			continue // expired between scan and get
		}
		var entry MirrorEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			log.Printf("Registry: bad mirror entry at %s: %v", key, err)
			continue
		}
		if sessionID != "" && entry.SessionID != sessionID {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// writeMirror is best-effort: a failed mirror write degrades cluster
// visibility, never local delivery.
func (r *Registry) writeMirror(ctx context.Context, connectionID, accountID, sessionID string, connectedAt, lastActivity time.Time) {
	entry := MirrorEntry{
		AccountID:    accountID,
		SessionID:    sessionID,
		InstanceID:   r.instanceID,
		ConnectedAt:  connectedAt,
		LastActivity: lastActivity,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("Registry: mirror marshal failed for %s: %v", connectionID, err)
		return
	}
	if err := r.kv.Set(ctx, r.mirrorKey(connectionID), data, r.mirrorTTL); err != nil {
		log.Printf("Registry: mirror write failed for %s: %v", connectionID, err)
	}
}
