package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"liftsync/internal/auth"
	"liftsync/pkg/interfaces"
	"liftsync/pkg/types"
)

// HealthChecker reports database reachability for the health endpoint
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EngineStats exposes the live engine counters without coupling the HTTP
// layer to the engine package
type EngineStats interface {
	Stats() map[string]any
}

// Server is the REST surface: accounts, auth, session lifecycle, and the
// exercise catalog. No business logic lives here, only HTTP handling and
// JSON serialization.
type Server struct {
	accounts  interfaces.AccountRepository
	sessions  interfaces.SessionRepository
	exercises interfaces.ExerciseRepository
	tokens    *auth.TokenService
	health    HealthChecker
	engine    EngineStats
	router    *mux.Router
}

// NewServer wires the routes
func NewServer(
	accounts interfaces.AccountRepository,
	sessions interfaces.SessionRepository,
	exercises interfaces.ExerciseRepository,
	tokens *auth.TokenService,
	health HealthChecker,
	engine EngineStats,
) *Server {
	s := &Server{
		accounts:  accounts,
		sessions:  sessions,
		exercises: exercises,
		tokens:    tokens,
		health:    health,
		engine:    engine,
		router:    mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.corsMiddleware, s.jsonMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/accounts", s.handleCreateAccount).Methods(http.MethodPost)
	s.router.HandleFunc("/api/auth/login", s.handleLogin).Methods(http.MethodPost)

	authed := s.router.NewRoute().Subrouter()
	authed.Use(s.authMiddleware)
	authed.HandleFunc("/api/sessions", s.handleCreateSession).Methods(http.MethodPost)
	authed.HandleFunc("/api/sessions/current", s.handleCurrentSession).Methods(http.MethodGet)
	authed.HandleFunc("/api/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	authed.HandleFunc("/api/sessions/{id}/invitations", s.handleInvite).Methods(http.MethodPost)
	authed.HandleFunc("/api/sessions/{id}/invitations/{account}", s.handleUninvite).Methods(http.MethodDelete)
	authed.HandleFunc("/api/sessions/{id}/join", s.handleJoinSession).Methods(http.MethodPost)
	authed.HandleFunc("/api/sessions/{id}/complete", s.handleCompleteSession).Methods(http.MethodPost)
	authed.HandleFunc("/api/exercises", s.handleListExercises).Methods(http.MethodGet)
	authed.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type CreateAccountRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token   string         `json:"token"`
	Account *types.Account `json:"account"`
}

type CreateSessionRequest struct {
	Name string `json:"name"`
}

type InviteRequest struct {
	AccountID string `json:"account_id"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
}

// POST /api/accounts
func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if !types.IsValidAccountName(req.Name) {
		s.sendError(w, types.ErrInvalidAccountName.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Password) < 8 {
		s.sendError(w, "Password must be at least 8 characters", http.StatusBadRequest)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.sendError(w, "Failed to create account", http.StatusInternalServerError)
		return
	}
	account, err := s.accounts.CreateAccount(r.Context(), req.Name, hash)
	if errors.Is(err, interfaces.ErrAccountExists) {
		s.sendError(w, "Account name already taken", http.StatusConflict)
		return
	}
	if err != nil {
		s.sendError(w, "Failed to create account", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(account)
}

// POST /api/auth/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	account, err := s.accounts.GetAccountByName(r.Context(), req.Name)
	if err != nil || !auth.VerifyPassword(account.PasswordHash, req.Password) {
		// Identical response for unknown name and wrong password
		s.sendError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	json.NewEncoder(w).Encode(LoginResponse{
		Token:   s.tokens.Issue(account.ID),
		Account: account,
	})
}

// POST /api/sessions
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	accountID := accountFrom(r)

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if !types.IsValidSessionName(req.Name) {
		s.sendError(w, types.ErrInvalidSessionName.Error(), http.StatusBadRequest)
		return
	}

	session, err := s.sessions.CreateSession(r.Context(), accountID, req.Name)
	if errors.Is(err, interfaces.ErrActiveSessionExists) {
		s.sendError(w, "An active session already exists", http.StatusConflict)
		return
	}
	if err != nil {
		s.sendError(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(session)
}

// GET /api/sessions/current
func (s *Server) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.GetActiveSessionByAccount(r.Context(), accountFrom(r))
	if errors.Is(err, interfaces.ErrSessionNotFound) {
		s.sendError(w, "No active session", http.StatusNotFound)
		return
	}
	if err != nil {
		s.sendError(w, "Failed to load session", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(session)
}

// GET /api/sessions/{id}
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.loadAuthorizedSession(w, r, false)
	if !ok {
		return
	}
	json.NewEncoder(w).Encode(session)
}

// POST /api/sessions/{id}/invitations
func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	session, ok := s.loadAuthorizedSession(w, r, true)
	if !ok {
		return
	}

	var req InviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if !types.IsValidAccountID(req.AccountID) {
		s.sendError(w, types.ErrInvalidAccountID.Error(), http.StatusBadRequest)
		return
	}
	if _, err := s.accounts.GetAccountByID(r.Context(), req.AccountID); err != nil {
		s.sendError(w, "Account not found", http.StatusNotFound)
		return
	}

	err := s.sessions.Invite(r.Context(), session.ID, accountFrom(r), req.AccountID)
	if errors.Is(err, interfaces.ErrAlreadyParticipant) {
		s.sendError(w, "Account is already a participant", http.StatusConflict)
		return
	}
	if err != nil {
		s.sendError(w, "Failed to invite", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DELETE /api/sessions/{id}/invitations/{account}
func (s *Server) handleUninvite(w http.ResponseWriter, r *http.Request) {
	session, ok := s.loadAuthorizedSession(w, r, true)
	if !ok {
		return
	}
	if err := s.sessions.Uninvite(r.Context(), session.ID, mux.Vars(r)["account"]); err != nil {
		s.sendError(w, "Failed to withdraw invitation", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/sessions/{id}/join accepts a pending invitation
func (s *Server) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	session, err := s.sessions.AcceptInvite(r.Context(), sessionID, accountFrom(r))
	switch {
	case errors.Is(err, interfaces.ErrSessionNotFound):
		s.sendError(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, interfaces.ErrNotInvited):
		s.sendError(w, "No valid invitation", http.StatusForbidden)
	case errors.Is(err, interfaces.ErrAlreadyParticipant):
		s.sendError(w, "Already a participant", http.StatusConflict)
	case err != nil:
		s.sendError(w, "Failed to join session", http.StatusInternalServerError)
	default:
		json.NewEncoder(w).Encode(session)
	}
}

// POST /api/sessions/{id}/complete
func (s *Server) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.loadAuthorizedSession(w, r, true)
	if !ok {
		return
	}
	if err := s.sessions.CompleteSession(r.Context(), session.ID); err != nil {
		s.sendError(w, "Failed to complete session", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/exercises
func (s *Server) handleListExercises(w http.ResponseWriter, r *http.Request) {
	exercises, err := s.exercises.ListExercises(r.Context())
	if err != nil {
		s.sendError(w, "Failed to load exercises", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"exercises": exercises})
}

// GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(s.engine.Stats())
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Database:  "connected",
	}
	if err := s.health.HealthCheck(r.Context()); err != nil {
		resp.Status = "unhealthy"
		resp.Database = "unreachable"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(resp)
}

// loadAuthorizedSession fetches the {id} session and verifies the caller
// belongs to it. ownerOnly restricts the route to the session owner.
func (s *Server) loadAuthorizedSession(w http.ResponseWriter, r *http.Request, ownerOnly bool) (*types.Session, bool) {
	sessionID := mux.Vars(r)["id"]
	accountID := accountFrom(r)

	session, err := s.sessions.GetSessionByID(r.Context(), sessionID)
	if errors.Is(err, interfaces.ErrSessionNotFound) {
		s.sendError(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		s.sendError(w, "Failed to load session", http.StatusInternalServerError)
		return nil, false
	}
	if ownerOnly {
		if session.OwnerID != accountID {
			s.sendError(w, "Only the session owner may do this", http.StatusForbidden)
			return nil, false
		}
	} else if !session.CanJoin(accountID) {
		s.sendError(w, "Not a participant of this session", http.StatusForbidden)
		return nil, false
	}
	return session, true
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}
