package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"liftsync/pkg/types"
)

func (e *Engine) registerDefaultHandlers() {
	e.RegisterHandler(types.OpSessionJoin, e.handleSessionJoin)
	e.RegisterHandler(types.OpSessionLeave, e.handleSessionLeave)

	e.RegisterHandler(types.OpExerciseAdd, e.handleExerciseAdd)
	e.RegisterHandler(types.OpExerciseUpdate, e.handleExerciseUpdate)
	e.RegisterHandler(types.OpExerciseDelete, e.handleExerciseDelete)
	e.RegisterHandler(types.OpExerciseReorder, e.handleExerciseReorder)

	e.RegisterHandler(types.OpSetAdd, e.handleSetAdd)
	e.RegisterHandler(types.OpSetUpdate, e.handleSetUpdate)
	e.RegisterHandler(types.OpSetDelete, e.handleSetDelete)
	e.RegisterHandler(types.OpSetComplete, e.handleSetComplete)
	e.RegisterHandler(types.OpSetReorder, e.handleSetReorder)

	e.RegisterHandler(types.OpCursorMove, e.handleCursorMove)
	e.RegisterHandler(types.OpHeartbeat, e.handleHeartbeat)
	e.RegisterHandler(types.OpSyncRequest, e.handleSyncRequest)
}

// payloadInto re-marshals a payload fragment into a typed struct. Operation
// payloads arrive as map[string]any; this is the one conversion point.
func payloadInto(payload map[string]any, key string, dst any) error {
	raw, exists := payload[key]
	if !exists || raw == nil {
		return validationError("missing " + key)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return validationError("malformed " + key)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return validationError("malformed " + key)
	}
	return nil
}

func payloadString(payload map[string]any, key string) (string, bool) {
	v, exists := payload[key]
	if !exists {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func payloadInt(payload map[string]any, key string) (int, bool) {
	switch v := payload[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

// handleSessionJoin binds the connection to a session after authorization.
// On success the joiner gets its state via a correlated session_sync; the
// implicit leave of any previous session is announced to that session.
func (e *Engine) handleSessionJoin(ctx context.Context, op *types.Operation, connectionID string) error {
	sessionID, ok := payloadString(op.Payload, "session_id")
	if !ok {
		return validationError("missing session_id")
	}

	session, err := e.sessions.GetSessionByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.IsActive() {
		return &OpError{Code: CodeSessionNotActive, Message: "session is not active"}
	}
	if !session.CanJoin(op.AccountID) {
		return accessDeniedError("not a participant of this session")
	}

	prevSession, err := e.registry.JoinSession(ctx, connectionID, sessionID)
	if err != nil {
		return err
	}

	if prevSession != "" && prevSession != sessionID {
		leave := &types.Operation{
			ID:         uuid.New().String(),
			Type:       types.OpParticipantLeave,
			SessionID:  prevSession,
			AccountID:  op.AccountID,
			Timestamp:  time.Now().UTC(),
			InstanceID: e.instanceID,
			Payload:    map[string]any{"account_id": op.AccountID},
		}
		if err := e.BroadcastToSession(ctx, leave, connectionID); err != nil {
			return internalError("failed to announce session leave")
		}
	}

	// Rebind the op so the post-handler broadcast announces the join to
	// the new session (excluding the joiner itself)
	op.SessionID = sessionID
	op.Type = types.OpParticipantJoin
	op.Payload["account_id"] = op.AccountID
	if p := session.ParticipantByID(op.AccountID); p != nil {
		op.Payload["color"] = p.Color
	}

	return e.SendSessionSync(ctx, connectionID, sessionID, op.AccountID, op.ID)
}

// SendSessionSync pushes a connection's current participant state as a
// session_sync, creating the version-0 state on first contact. Join replies
// and reconnect resumes both start the client from this snapshot.
func (e *Engine) SendSessionSync(ctx context.Context, connectionID, sessionID, accountID, correlationID string) error {
	st, err := e.states.GetOrCreate(ctx, sessionID, accountID)
	if err != nil {
		return err
	}

	sync := &types.Operation{
		ID:            uuid.New().String(),
		Type:          types.OpSessionSync,
		SessionID:     sessionID,
		AccountID:     accountID,
		Timestamp:     time.Now().UTC(),
		Version:       st.Version,
		InstanceID:    e.instanceID,
		CorrelationID: correlationID,
		Payload:       map[string]any{"state": st},
	}
	return e.SendToConnection(ctx, connectionID, sync)
}

// handleSessionLeave unbinds the connection. Leaving while unbound is a
// quiet no-op; clients retry leaves on flaky networks.
func (e *Engine) handleSessionLeave(ctx context.Context, op *types.Operation, connectionID string) error {
	sessionID, accountID, err := e.registry.LeaveSession(ctx, connectionID)
	if err != nil {
		return err
	}
	if sessionID == "" {
		op.SessionID = "" // nothing to broadcast
		return nil
	}
	op.SessionID = sessionID
	op.Type = types.OpParticipantLeave
	op.Payload["account_id"] = accountID
	return nil
}

// boundState resolves the connection's session binding and loads the
// author's state. Every mutation handler starts here.
func (e *Engine) boundState(ctx context.Context, op *types.Operation, connectionID string) (*types.ParticipantState, error) {
	_, boundSession, ok := e.registry.Info(connectionID)
	if !ok {
		return nil, ErrConnectionNotFound
	}
	if boundSession == "" {
		return nil, validationError("not in a session")
	}
	if op.SessionID != boundSession {
		return nil, accessDeniedError("operation targets a different session")
	}
	return e.states.GetOrCreate(ctx, op.SessionID, op.AccountID)
}

// finishMutation persists the mutated state and stamps the operation with
// the authoritative version. A stale client version gets an advisory
// conflict marker; last write still wins.
func (e *Engine) finishMutation(ctx context.Context, op *types.Operation, st *types.ParticipantState, clientVersion int) error {
	if err := e.states.Save(ctx, st); err != nil {
		return internalError("failed to persist state")
	}
	if clientVersion > 0 && clientVersion != st.Version-1 {
		op.Payload["conflict"] = map[string]any{
			"client_version": clientVersion,
			"server_version": st.Version,
		}
	}
	op.Payload["version"] = st.Version
	op.Version = st.Version
	return nil
}

func (e *Engine) handleExerciseAdd(ctx context.Context, op *types.Operation, connectionID string) error {
	st, err := e.boundState(ctx, op, connectionID)
	if err != nil {
		return err
	}

	var item types.Item
	if err := payloadInto(op.Payload, "exercise", &item); err != nil {
		return err
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Type == "" {
		item.Type = types.ItemTypeSingle
	} else if !types.IsValidItemType(item.Type) {
		return validationError("invalid exercise type")
	}
	if item.Rest == 0 {
		item.Rest = 90
	}
	if item.Rest < 0 {
		return validationError("rest must not be negative")
	}

	// Participants default to the author and must all be on the roster
	if len(item.Participants) == 0 {
		item.Participants = []string{op.AccountID}
	} else if err := e.validateParticipants(ctx, op.SessionID, item.Participants); err != nil {
		return err
	}

	clientVersion := op.Version
	added := st.AddItem(item)
	op.Payload["exercise"] = added
	return e.finishMutation(ctx, op, st, clientVersion)
}

func (e *Engine) handleExerciseUpdate(ctx context.Context, op *types.Operation, connectionID string) error {
	st, err := e.boundState(ctx, op, connectionID)
	if err != nil {
		return err
	}
	exerciseID, ok := payloadString(op.Payload, "exercise_id")
	if !ok {
		return validationError("missing exercise_id")
	}

	var upd types.ItemUpdate
	if err := payloadInto(op.Payload, "changes", &upd); err != nil {
		return err
	}
	if upd.Rest != nil && *upd.Rest < 0 {
		return validationError("rest must not be negative")
	}
	if upd.Type != nil && !types.IsValidItemType(*upd.Type) {
		return validationError("invalid exercise type")
	}
	if upd.Participants != nil {
		if len(upd.Participants) == 0 {
			return validationError("participants must not be empty")
		}
		if err := e.validateParticipants(ctx, op.SessionID, upd.Participants); err != nil {
			return err
		}
	}

	clientVersion := op.Version
	item, err := st.UpdateItem(exerciseID, upd)
	if err != nil {
		return err
	}
	op.Payload["exercise"] = item
	return e.finishMutation(ctx, op, st, clientVersion)
}

func (e *Engine) handleExerciseDelete(ctx context.Context, op *types.Operation, connectionID string) error {
	st, err := e.boundState(ctx, op, connectionID)
	if err != nil {
		return err
	}
	exerciseID, ok := payloadString(op.Payload, "exercise_id")
	if !ok {
		return validationError("missing exercise_id")
	}

	clientVersion := op.Version
	if err := st.RemoveItem(exerciseID); err != nil {
		return err
	}
	return e.finishMutation(ctx, op, st, clientVersion)
}

func (e *Engine) handleExerciseReorder(ctx context.Context, op *types.Operation, connectionID string) error {
	st, err := e.boundState(ctx, op, connectionID)
	if err != nil {
		return err
	}
	exerciseID, ok := payloadString(op.Payload, "exercise_id")
	if !ok {
		return validationError("missing exercise_id")
	}
	position, ok := payloadInt(op.Payload, "position")
	if !ok {
		return validationError("missing position")
	}

	clientVersion := op.Version
	item, err := st.ReorderItem(exerciseID, position)
	if err != nil {
		return err
	}
	op.Payload["exercise"] = item
	return e.finishMutation(ctx, op, st, clientVersion)
}

func (e *Engine) handleSetAdd(ctx context.Context, op *types.Operation, connectionID string) error {
	st, err := e.boundState(ctx, op, connectionID)
	if err != nil {
		return err
	}
	exerciseID, ok := payloadString(op.Payload, "exercise_id")
	if !ok {
		return validationError("missing exercise_id")
	}

	var set types.Set
	if err := payloadInto(op.Payload, "set", &set); err != nil {
		return err
	}
	if set.ID == "" {
		set.ID = uuid.New().String()
	}
	if set.Type == "" {
		set.Type = types.SetKindWorking
	} else if !types.IsValidSetKind(set.Type) {
		return validationError("invalid set type")
	}

	clientVersion := op.Version
	added, err := st.AddSet(exerciseID, set)
	if err != nil {
		return err
	}
	op.Payload["set"] = added
	return e.finishMutation(ctx, op, st, clientVersion)
}

func (e *Engine) handleSetUpdate(ctx context.Context, op *types.Operation, connectionID string) error {
	st, err := e.boundState(ctx, op, connectionID)
	if err != nil {
		return err
	}
	exerciseID, ok := payloadString(op.Payload, "exercise_id")
	if !ok {
		return validationError("missing exercise_id")
	}
	setID, ok := payloadString(op.Payload, "set_id")
	if !ok {
		return validationError("missing set_id")
	}

	var upd types.SetUpdate
	if err := payloadInto(op.Payload, "changes", &upd); err != nil {
		return err
	}
	if upd.Type != nil && !types.IsValidSetKind(*upd.Type) {
		return validationError("invalid set type")
	}

	clientVersion := op.Version
	set, err := st.UpdateSet(exerciseID, setID, upd)
	if err != nil {
		return err
	}
	op.Payload["set"] = set
	return e.finishMutation(ctx, op, st, clientVersion)
}

func (e *Engine) handleSetDelete(ctx context.Context, op *types.Operation, connectionID string) error {
	st, err := e.boundState(ctx, op, connectionID)
	if err != nil {
		return err
	}
	exerciseID, ok := payloadString(op.Payload, "exercise_id")
	if !ok {
		return validationError("missing exercise_id")
	}
	setID, ok := payloadString(op.Payload, "set_id")
	if !ok {
		return validationError("missing set_id")
	}

	clientVersion := op.Version
	if err := st.RemoveSet(exerciseID, setID); err != nil {
		return err
	}
	return e.finishMutation(ctx, op, st, clientVersion)
}

func (e *Engine) handleSetComplete(ctx context.Context, op *types.Operation, connectionID string) error {
	st, err := e.boundState(ctx, op, connectionID)
	if err != nil {
		return err
	}
	exerciseID, ok := payloadString(op.Payload, "exercise_id")
	if !ok {
		return validationError("missing exercise_id")
	}
	setID, ok := payloadString(op.Payload, "set_id")
	if !ok {
		return validationError("missing set_id")
	}

	clientVersion := op.Version
	set, err := st.CompleteSet(exerciseID, setID)
	if err != nil {
		return err
	}
	op.Payload["set"] = set
	return e.finishMutation(ctx, op, st, clientVersion)
}

func (e *Engine) handleSetReorder(ctx context.Context, op *types.Operation, connectionID string) error {
	st, err := e.boundState(ctx, op, connectionID)
	if err != nil {
		return err
	}
	exerciseID, ok := payloadString(op.Payload, "exercise_id")
	if !ok {
		return validationError("missing exercise_id")
	}
	setID, ok := payloadString(op.Payload, "set_id")
	if !ok {
		return validationError("missing set_id")
	}
	position, ok := payloadInt(op.Payload, "position")
	if !ok {
		return validationError("missing position")
	}

	clientVersion := op.Version
	set, err := st.ReorderSet(exerciseID, setID, position)
	if err != nil {
		return err
	}
	op.Payload["set"] = set
	return e.finishMutation(ctx, op, st, clientVersion)
}

// handleCursorMove persists the cursor best-effort and lets the broadcast
// through. Cursor traffic is high-frequency; failures stay quiet.
func (e *Engine) handleCursorMove(ctx context.Context, op *types.Operation, connectionID string) error {
	_, boundSession, ok := e.registry.Info(connectionID)
	if !ok || boundSession == "" || op.SessionID != boundSession {
		return validationError("not in a session")
	}

	var cursor types.Cursor
	if err := payloadInto(op.Payload, "cursor", &cursor); err != nil {
		return err
	}
	if err := e.sessions.UpdateParticipantCursor(ctx, op.SessionID, op.AccountID, &cursor); err != nil {
		// The live broadcast is what matters; the durable cursor catches up
		return nil
	}
	return nil
}

// handleHeartbeat refreshes the connection's activity and mirror TTL
func (e *Engine) handleHeartbeat(ctx context.Context, op *types.Operation, connectionID string) error {
	return e.registry.Touch(ctx, connectionID, true)
}

// handleSyncRequest sends the full session picture back to the requester:
// the session document plus every participant's current state.
func (e *Engine) handleSyncRequest(ctx context.Context, op *types.Operation, connectionID string) error {
	_, boundSession, ok := e.registry.Info(connectionID)
	if !ok {
		return ErrConnectionNotFound
	}
	if boundSession == "" {
		return validationError("not in a session")
	}

	session, err := e.sessions.GetSessionByID(ctx, boundSession)
	if err != nil {
		return err
	}
	states, err := e.states.SessionStates(ctx, session)
	if err != nil {
		return internalError("failed to load session states")
	}

	ownVersion := 0
	if own, exists := states[op.AccountID]; exists {
		ownVersion = own.Version
	}

	resp := &types.Operation{
		ID:            uuid.New().String(),
		Type:          types.OpSyncResponse,
		SessionID:     boundSession,
		AccountID:     op.AccountID,
		Timestamp:     time.Now().UTC(),
		Version:       ownVersion,
		InstanceID:    e.instanceID,
		CorrelationID: op.ID,
		Payload: map[string]any{
			"session": session,
			"states":  states,
		},
	}
	return e.SendToConnection(ctx, connectionID, resp)
}

// validateParticipants checks every listed account against the session
// roster (owner included)
func (e *Engine) validateParticipants(ctx context.Context, sessionID string, participants []string) error {
	session, err := e.sessions.GetSessionByID(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, accountID := range participants {
		if accountID != session.OwnerID && !session.HasParticipant(accountID) {
			return validationError("participant " + accountID + " is not in the session")
		}
	}
	return nil
}
