package engine

import (
	"sync"
	"time"
)

// RateLimiter implements per-connection operation limiting
// ARCHITECTURAL DISCOVERY: per-connection (not per-account) tracking means a
// misbehaving client cannot starve the account's other devices
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	clients map[string]*clientWindow
}

// clientWindow tracks one connection's sliding minute window
type clientWindow struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter creates a limiter allowing limit operations per minute
func NewRateLimiter(limit int) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		clients: make(map[string]*clientWindow),
	}
}

// Allow checks if the connection can send another operation
func (rl *RateLimiter) Allow(connectionID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	w, exists := rl.clients[connectionID]
	if !exists {
		rl.clients[connectionID] = &clientWindow{count: 1, windowStart: now}
		return true
	}

	// FUNCTIONAL DISCOVERY: window resets exactly every minute; partial
	// credit schemes are not worth the bookkeeping at this limit
	if now.Sub(w.windowStart) >= time.Minute {
		w.count = 1
		w.windowStart = now
		return true
	}

	if w.count >= rl.limit {
		return false
	}

	w.count++
	return true
}

// Remove drops tracking state when a connection disconnects
func (rl *RateLimiter) Remove(connectionID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, connectionID)
}

// Cleanup removes stale windows; call periodically to bound memory
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for id, w := range rl.clients {
		if now.Sub(w.windowStart) > 5*time.Minute {
			delete(rl.clients, id)
		}
	}
}
