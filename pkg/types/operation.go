package types

import (
	"encoding/json"
	"time"
)

// OperationType identifies the closed set of operation kinds flowing through
// the engine. ARCHITECTURAL DISCOVERY: string-typed constants keep the wire
// form human-readable while the closed set is enforced at decode time.
type OperationType string

const (
	OpSessionJoin   OperationType = "session_join"
	OpSessionLeave  OperationType = "session_leave"
	OpSessionUpdate OperationType = "session_update"
	OpSessionSync   OperationType = "session_sync"

	OpExerciseAdd     OperationType = "exercise_add"
	OpExerciseUpdate  OperationType = "exercise_update"
	OpExerciseDelete  OperationType = "exercise_delete"
	OpExerciseReorder OperationType = "exercise_reorder"

	OpSetAdd      OperationType = "set_add"
	OpSetUpdate   OperationType = "set_update"
	OpSetDelete   OperationType = "set_delete"
	OpSetComplete OperationType = "set_complete"
	OpSetReorder  OperationType = "set_reorder"

	OpCursorMove        OperationType = "cursor_move"
	OpParticipantJoin   OperationType = "participant_join"
	OpParticipantLeave  OperationType = "participant_leave"
	OpParticipantUpdate OperationType = "participant_update"

	OpHeartbeat    OperationType = "heartbeat"
	OpSyncRequest  OperationType = "sync_request"
	OpSyncResponse OperationType = "sync_response"
)

// Operation is the common envelope for every message flowing
// client -> server -> (state + other clients). Version is stamped by the
// handler after mutation, never by the sender; InstanceID is stamped by the
// broadcasting instance for cross-instance de-duplication.
type Operation struct {
	ID            string         `json:"id"`
	Type          OperationType  `json:"type"`
	SessionID     string         `json:"session_id"`
	AccountID     string         `json:"account_id"`
	Payload       map[string]any `json:"payload"`
	Timestamp     time.Time      `json:"timestamp"`
	Version       int            `json:"version"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	InstanceID    string         `json:"instance_id,omitempty"`
}

// Encode serializes the operation to its compact JSON wire form.
// Timestamps marshal as RFC 3339 (ISO-8601), enums as their string values.
func (op *Operation) Encode() ([]byte, error) {
	return json.Marshal(op)
}

// DecodeOperation parses the wire form back into an envelope.
// FUNCTIONAL DISCOVERY: kind validation happens at decode time so no
// undefined operation type ever reaches the dispatch table.
func DecodeOperation(data []byte) (*Operation, error) {
	var op Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, ErrInvalidEncoding
	}
	if !IsValidOperationType(op.Type) {
		return nil, ErrInvalidOperationType
	}
	if op.Payload == nil {
		op.Payload = map[string]any{}
	}
	return &op, nil
}

// IsValidOperationType reports whether the kind is one of the closed set
func IsValidOperationType(t OperationType) bool {
	switch t {
	case OpSessionJoin, OpSessionLeave, OpSessionUpdate, OpSessionSync,
		OpExerciseAdd, OpExerciseUpdate, OpExerciseDelete, OpExerciseReorder,
		OpSetAdd, OpSetUpdate, OpSetDelete, OpSetComplete, OpSetReorder,
		OpCursorMove, OpParticipantJoin, OpParticipantLeave, OpParticipantUpdate,
		OpHeartbeat, OpSyncRequest, OpSyncResponse:
		return true
	default:
		return false
	}
}

// IsRelayOnly reports whether the kind is exempt from session broadcast.
// FUNCTIONAL DISCOVERY: heartbeat and sync traffic is point-to-point by
// definition; broadcasting it would flood sessions with noise.
func IsRelayOnly(t OperationType) bool {
	switch t {
	case OpHeartbeat, OpSyncRequest, OpSyncResponse:
		return true
	default:
		return false
	}
}
