package engine

import (
	"context"
	"testing"
	"time"
)

type recordingSubscriber struct {
	subscribed   []string
	unsubscribed []string
}

func (r *recordingSubscriber) subscribeSession(ctx context.Context, sessionID string) error {
	r.subscribed = append(r.subscribed, sessionID)
	return nil
}

func (r *recordingSubscriber) unsubscribeSession(ctx context.Context, sessionID string) error {
	r.unsubscribed = append(r.unsubscribed, sessionID)
	return nil
}

func newTestRegistry() (*Registry, *memKV, *recordingSubscriber) {
	kv := newMemKV()
	sub := &recordingSubscriber{}
	return NewRegistry(kv, sub, "instance-a", "test", time.Minute), kv, sub
}

// FUNCTIONAL VALIDATION TEST: Connect tracks the connection and writes the
// shared mirror entry
func TestRegistry_ConnectWritesMirror(t *testing.T) {
	ctx := context.Background()
	reg, kv, _ := newTestRegistry()

	connID, err := reg.Connect(ctx, newFakeConn(), "alice", "")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	accountID, sessionID, ok := reg.Info(connID)
	if !ok || accountID != "alice" || sessionID != "" {
		t.Errorf("Info = (%s, %s, %v), want (alice, , true)", accountID, sessionID, ok)
	}
	if _, err := kv.Get(ctx, "test:connection:"+connID); err != nil {
		t.Errorf("mirror entry missing: %v", err)
	}
}

// FUNCTIONAL VALIDATION TEST: First connection in a session subscribes the
// channel, the last one out unsubscribes
func TestRegistry_SubscribeOnFirstUnsubscribeOnLast(t *testing.T) {
	ctx := context.Background()
	reg, _, sub := newTestRegistry()

	c1, _ := reg.Connect(ctx, newFakeConn(), "alice", "")
	c2, _ := reg.Connect(ctx, newFakeConn(), "bob", "")

	if _, err := reg.JoinSession(ctx, c1, "s1"); err != nil {
		t.Fatalf("JoinSession failed: %v", err)
	}
	if len(sub.subscribed) != 1 || sub.subscribed[0] != "s1" {
		t.Errorf("subscribed = %v, want [s1]", sub.subscribed)
	}

	// Second join of the same session does not re-subscribe
	if _, err := reg.JoinSession(ctx, c2, "s1"); err != nil {
		t.Fatalf("JoinSession failed: %v", err)
	}
	if len(sub.subscribed) != 1 {
		t.Errorf("subscribed = %v, want exactly one subscribe", sub.subscribed)
	}

	if _, _, err := reg.LeaveSession(ctx, c1); err != nil {
		t.Fatalf("LeaveSession failed: %v", err)
	}
	if len(sub.unsubscribed) != 0 {
		t.Errorf("unsubscribed too early: %v", sub.unsubscribed)
	}

	if _, _, err := reg.LeaveSession(ctx, c2); err != nil {
		t.Fatalf("LeaveSession failed: %v", err)
	}
	if len(sub.unsubscribed) != 1 || sub.unsubscribed[0] != "s1" {
		t.Errorf("unsubscribed = %v, want [s1]", sub.unsubscribed)
	}
}

// FUNCTIONAL VALIDATION TEST: Joining a second session implicitly leaves
// the first
func TestRegistry_JoinImplicitlyLeaves(t *testing.T) {
	ctx := context.Background()
	reg, _, sub := newTestRegistry()

	connID, _ := reg.Connect(ctx, newFakeConn(), "alice", "s1")
	prev, err := reg.JoinSession(ctx, connID, "s2")
	if err != nil {
		t.Fatalf("JoinSession failed: %v", err)
	}
	if prev != "s1" {
		t.Errorf("previous session = %s, want s1", prev)
	}

	_, sessionID, _ := reg.Info(connID)
	if sessionID != "s2" {
		t.Errorf("bound session = %s, want s2", sessionID)
	}
	if len(sub.unsubscribed) != 1 || sub.unsubscribed[0] != "s1" {
		t.Errorf("unsubscribed = %v, want [s1]", sub.unsubscribed)
	}
	if len(reg.targets("s1", "")) != 0 {
		t.Error("connection still targeted in s1")
	}
}

// FUNCTIONAL VALIDATION TEST: Disconnect is a full idempotent teardown
func TestRegistry_DisconnectIdempotent(t *testing.T) {
	ctx := context.Background()
	reg, kv, _ := newTestRegistry()

	conn := newFakeConn()
	connID, _ := reg.Connect(ctx, conn, "alice", "s1")

	sessionID, accountID := reg.Disconnect(ctx, connID)
	if sessionID != "s1" || accountID != "alice" {
		t.Errorf("Disconnect = (%s, %s), want (s1, alice)", sessionID, accountID)
	}
	if !conn.closed {
		t.Error("connection not closed")
	}
	if _, err := kv.Get(ctx, "test:connection:"+connID); err == nil {
		t.Error("mirror entry not deleted")
	}
	if _, _, ok := reg.Info(connID); ok {
		t.Error("connection still tracked")
	}

	// Second disconnect is a quiet no-op
	if s, a := reg.Disconnect(ctx, connID); s != "" || a != "" {
		t.Errorf("repeat Disconnect = (%s, %s), want empty", s, a)
	}
}

// FUNCTIONAL VALIDATION TEST: targets excludes the named connection
func TestRegistry_TargetsExcludes(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newTestRegistry()

	c1, _ := reg.Connect(ctx, newFakeConn(), "alice", "s1")
	c2, _ := reg.Connect(ctx, newFakeConn(), "bob", "s1")

	targets := reg.targets("s1", c1)
	if len(targets) != 1 {
		t.Fatalf("targets = %d conns, want 1", len(targets))
	}
	if _, ok := targets[c2]; !ok {
		t.Error("expected c2 in targets")
	}

	if got := reg.targets("s1", ""); len(got) != 2 {
		t.Errorf("unfiltered targets = %d, want 2", len(got))
	}
	if got := reg.targets("unknown", ""); got != nil {
		t.Errorf("targets for unknown session = %v, want nil", got)
	}
}

// FUNCTIONAL VALIDATION TEST: Mirror entries are visible cluster-wide and
// filterable by session
func TestRegistry_MirrorEntries(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newTestRegistry()

	reg.Connect(ctx, newFakeConn(), "alice", "s1")
	reg.Connect(ctx, newFakeConn(), "bob", "s2")

	all, err := reg.MirrorEntries(ctx, "")
	if err != nil {
		t.Fatalf("MirrorEntries failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all entries = %d, want 2", len(all))
	}

	s1, err := reg.MirrorEntries(ctx, "s1")
	if err != nil {
		t.Fatalf("MirrorEntries failed: %v", err)
	}
	if len(s1) != 1 || s1[0].AccountID != "alice" {
		t.Errorf("s1 entries = %+v, want alice only", s1)
	}
	if s1[0].InstanceID != "instance-a" {
		t.Errorf("instance id = %s, want instance-a", s1[0].InstanceID)
	}
}
