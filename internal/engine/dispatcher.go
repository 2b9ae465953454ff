package engine

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"liftsync/pkg/types"
)

// HandlerFunc processes one inbound operation on behalf of a connection
type HandlerFunc func(ctx context.Context, op *types.Operation, connectionID string) error

// HandleClientOp is the entry point for every raw frame a client sends.
// It runs synchronously on the connection's read loop, which is what keeps
// per-connection operation order intact end to end.
func (e *Engine) HandleClientOp(ctx context.Context, connectionID string, raw []byte) {
	accountID, sessionID, ok := e.registry.Info(connectionID)
	if !ok {
		return // connection torn down while the frame was in flight
	}
	if err := e.registry.Touch(ctx, connectionID, false); err != nil {
		return
	}
	e.stats.IncIncoming()

	op, opErr := decodeClientOp(raw)
	if opErr != nil {
		correlationID := ""
		if op != nil {
			correlationID = op.ID
		}
		e.sendClientError(ctx, connectionID, sessionID, correlationID, opErr)
		return
	}

	// Server-authoritative fields: the client's claims are overwritten
	op.AccountID = accountID
	op.Timestamp = time.Now().UTC()
	op.InstanceID = e.instanceID
	if op.SessionID == "" {
		op.SessionID = sessionID
	}
	if op.ID == "" {
		op.ID = uuid.New().String()
	}

	if !e.limiter.Allow(connectionID) {
		e.sendClientError(ctx, connectionID, op.SessionID, op.ID,
			&OpError{Code: CodeRateLimited, Message: "too many operations"})
		return
	}

	if opErr := e.routeOp(ctx, op, connectionID); opErr != nil {
		e.sendClientError(ctx, connectionID, op.SessionID, op.ID, opErr)
		return
	}

	// Relay-only kinds never leave the originating connection's scope
	if op.SessionID != "" && !types.IsRelayOnly(op.Type) {
		if err := e.BroadcastToSession(ctx, op, connectionID); err != nil {
			log.Printf("Dispatcher: broadcast failed for op %s: %v", op.ID, err)
		}
	}
}

// decodeClientOp parses a raw client frame. A malformed frame yields a nil
// operation; an unknown type yields the partially-decoded envelope so the
// error reply can still be correlated to the client's operation ID.
func decodeClientOp(raw []byte) (*types.Operation, *OpError) {
	var op types.Operation
	if err := json.Unmarshal(raw, &op); err != nil {
		return nil, validationError("malformed operation")
	}
	if op.Payload == nil {
		op.Payload = map[string]any{}
	}
	if !types.IsValidOperationType(op.Type) {
		return &op, validationError("unknown operation type")
	}
	return &op, nil
}

// routeOp runs the registered handler chain for the operation's type.
// TECHNICAL DISCOVERY: a panicking handler must not take down the read
// loop; it becomes an internal error reply like any other failure.
func (e *Engine) routeOp(ctx context.Context, op *types.Operation, connectionID string) (opErr *OpError) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Dispatcher: handler panic on %s op %s: %v", op.Type, op.ID, r)
			opErr = internalError("internal error")
		}
	}()

	handlers := e.handlers[op.Type]
	if len(handlers) == 0 {
		// Handler-less relay kinds carry no validation of their own, so
		// the session binding is the authorization gate: a connection may
		// only relay into the session it is bound to
		_, boundSession, ok := e.registry.Info(connectionID)
		if !ok {
			return asOpError(ErrConnectionNotFound)
		}
		if boundSession == "" {
			return validationError("not in a session")
		}
		if op.SessionID != boundSession {
			return accessDeniedError("operation targets a different session")
		}
		return nil
	}
	for _, h := range handlers {
		if err := h(ctx, op, connectionID); err != nil {
			e.stats.IncErrors()
			return asOpError(err)
		}
	}
	return nil
}

// sendClientError delivers an error reply to the originating connection.
// Errors ride the session_update kind with a client_error payload; they are
// never broadcast.
func (e *Engine) sendClientError(ctx context.Context, connectionID, sessionID, correlationID string, opErr *OpError) {
	e.stats.IncErrors()

	accountID, _, _ := e.registry.Info(connectionID)
	reply := &types.Operation{
		ID:            uuid.New().String(),
		Type:          types.OpSessionUpdate,
		SessionID:     sessionID,
		AccountID:     accountID,
		Timestamp:     time.Now().UTC(),
		InstanceID:    e.instanceID,
		CorrelationID: correlationID,
		Payload: map[string]any{
			"error":      opErr.Message,
			"error_code": opErr.Code,
			"error_type": "client_error",
		},
	}
	if err := e.SendToConnection(ctx, connectionID, reply); err != nil {
		log.Printf("Dispatcher: error reply delivery failed to %s: %v", connectionID, err)
	}
}
