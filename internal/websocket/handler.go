package websocket

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"liftsync/internal/auth"
	"liftsync/internal/engine"
	"liftsync/pkg/interfaces"
	"liftsync/pkg/types"
)

// Handler upgrades HTTP requests to websocket connections and drives each
// connection's read loop against the engine
type Handler struct {
	engine   *engine.Engine
	tokens   *auth.TokenService
	sessions interfaces.SessionRepository
	upgrader websocket.Upgrader
}

// NewHandler creates the websocket endpoint handler
func NewHandler(eng *engine.Engine, tokens *auth.TokenService, sessions interfaces.SessionRepository) *Handler {
	return &Handler{
		engine:   eng,
		tokens:   tokens,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from app origins; token auth is the
			// actual gate
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP authenticates, upgrades, and runs the connection lifecycle
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	accountID, err := h.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket: upgrade failed: %v", err)
		return
	}

	conn := NewConnection(ws)
	ctx := r.Context()

	// Reconnecting clients land straight back in their active session
	sessionID := ""
	if session, err := h.sessions.GetActiveSessionByAccount(ctx, accountID); err == nil {
		sessionID = session.ID
	}

	connectionID, err := h.engine.Connect(ctx, conn, accountID, sessionID)
	if err != nil {
		log.Printf("WebSocket: connect rejected for account %s: %v", accountID, err)
		conn.Close()
		return
	}

	h.sendConnected(ctx, connectionID, accountID, sessionID)
	if sessionID != "" {
		// A resumed session starts from a snapshot, not mid-stream
		if err := h.engine.SendSessionSync(ctx, connectionID, sessionID, accountID, ""); err != nil {
			log.Printf("WebSocket: initial sync failed for %s: %v", connectionID, err)
		}
	}
	h.readLoop(conn, connectionID)
}

// authenticate extracts and verifies the bearer token. Browsers cannot set
// websocket headers, so the query parameter path matters.
func (h *Handler) authenticate(r *http.Request) (string, error) {
	token := ""
	if authz := r.Header.Get("Authorization"); len(authz) > 7 && authz[:7] == "Bearer " {
		token = authz[7:]
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		if cookie, err := r.Cookie("liftsync_token"); err == nil {
			token = cookie.Value
		}
	}
	if token == "" {
		return "", ErrUnauthorized
	}

	accountID, err := h.tokens.Verify(token)
	if err != nil {
		return "", ErrUnauthorized
	}
	if !types.IsValidAccountID(accountID) {
		return "", ErrUnauthorized
	}
	return accountID, nil
}

// sendConnected pushes the post-upgrade greeting carrying the connection ID
// and any resumed session binding
func (h *Handler) sendConnected(ctx context.Context, connectionID, accountID, sessionID string) {
	greeting := &types.Operation{
		ID:        uuid.New().String(),
		Type:      types.OpSessionUpdate,
		SessionID: sessionID,
		AccountID: accountID,
		Timestamp: time.Now().UTC(),
		Payload: map[string]any{
			"status":        "connected",
			"connection_id": connectionID,
		},
	}
	if sessionID != "" {
		greeting.Payload["session_id"] = sessionID
	}
	if err := h.engine.SendToConnection(ctx, connectionID, greeting); err != nil {
		log.Printf("WebSocket: greeting delivery failed to %s: %v", connectionID, err)
	}
}

// readLoop feeds every inbound frame to the engine synchronously. The loop
// exits on any read error and tears the connection down exactly once.
func (h *Handler) readLoop(conn *Connection, connectionID string) {
	defer h.engine.Disconnect(context.Background(), connectionID)

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && !websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Printf("WebSocket: read failed on %s: %v", connectionID, err)
			}
			return
		}
		h.engine.HandleClientOp(context.Background(), connectionID, data)
	}
}
