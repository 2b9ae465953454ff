package types

import (
	"testing"
	"time"
)

// FUNCTIONAL VALIDATION TEST: Operations survive an encode/decode round
// trip with every envelope field intact
func TestOperation_RoundTrip(t *testing.T) {
	op := &Operation{
		ID:            "op-1",
		Type:          OpExerciseAdd,
		SessionID:     "session-1",
		AccountID:     "alice",
		Payload:       map[string]any{"exercise": map[string]any{"id": "item-1"}},
		Timestamp:     time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC),
		Version:       7,
		CorrelationID: "op-0",
		InstanceID:    "instance-a",
	}

	data, err := op.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := DecodeOperation(data)
	if err != nil {
		t.Fatalf("DecodeOperation failed: %v", err)
	}

	if decoded.ID != op.ID || decoded.Type != op.Type || decoded.SessionID != op.SessionID {
		t.Error("envelope identity fields lost in round trip")
	}
	if decoded.Version != 7 || decoded.CorrelationID != "op-0" || decoded.InstanceID != "instance-a" {
		t.Error("envelope metadata lost in round trip")
	}
	if !decoded.Timestamp.Equal(op.Timestamp) {
		t.Errorf("timestamp %v != %v", decoded.Timestamp, op.Timestamp)
	}
}

// FUNCTIONAL VALIDATION TEST: Unknown kinds and malformed payloads are
// rejected at decode time
func TestDecodeOperation_Rejections(t *testing.T) {
	if _, err := DecodeOperation([]byte(`{not json`)); err != ErrInvalidEncoding {
		t.Errorf("malformed JSON: err = %v, want ErrInvalidEncoding", err)
	}
	if _, err := DecodeOperation([]byte(`{"id":"x","type":"teleport"}`)); err != ErrInvalidOperationType {
		t.Errorf("unknown type: err = %v, want ErrInvalidOperationType", err)
	}
}

// FUNCTIONAL VALIDATION TEST: Missing payload decodes to an empty map, not
// nil, so handlers never nil-check
func TestDecodeOperation_NilPayload(t *testing.T) {
	op, err := DecodeOperation([]byte(`{"id":"x","type":"heartbeat"}`))
	if err != nil {
		t.Fatalf("DecodeOperation failed: %v", err)
	}
	if op.Payload == nil {
		t.Error("payload should be initialized to an empty map")
	}
}

func TestIsRelayOnly(t *testing.T) {
	relayOnly := []OperationType{OpHeartbeat, OpSyncRequest, OpSyncResponse}
	for _, k := range relayOnly {
		if !IsRelayOnly(k) {
			t.Errorf("%s should be relay-only", k)
		}
	}
	broadcast := []OperationType{OpSessionJoin, OpExerciseAdd, OpSetComplete, OpCursorMove}
	for _, k := range broadcast {
		if IsRelayOnly(k) {
			t.Errorf("%s should broadcast", k)
		}
	}
}
