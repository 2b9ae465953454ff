package api

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const accountKey contextKey = "account_id"

// accountFrom returns the authenticated account ID set by authMiddleware
func accountFrom(r *http.Request) string {
	v, _ := r.Context().Value(accountKey).(string)
	return v
}

// authMiddleware verifies the bearer token and stashes the account ID on
// the request context
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(authz, "Bearer ") {
			s.sendError(w, "Missing bearer token", http.StatusUnauthorized)
			return
		}
		accountID, err := s.tokens.Verify(strings.TrimPrefix(authz, "Bearer "))
		if err != nil {
			s.sendError(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), accountKey, accountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// corsMiddleware allows web clients from any origin; token auth is the gate
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
