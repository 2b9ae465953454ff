package engine

import "sync"

// Stats tracks engine-level counters for the /api/stats surface.
// TECHNICAL DISCOVERY: a single mutex beats per-counter atomics here; the
// counters are always read together and contention is negligible.
type Stats struct {
	mu               sync.Mutex
	incomingOps      int64
	outgoingOps      int64
	remoteOps        int64
	broadcasts       int64
	errors           int64
	deliveryFailures int64
}

func (s *Stats) IncIncoming() {
	s.mu.Lock()
	s.incomingOps++
	s.mu.Unlock()
}

func (s *Stats) AddOutgoing(n int64) {
	s.mu.Lock()
	s.outgoingOps += n
	s.mu.Unlock()
}

func (s *Stats) IncRemote() {
	s.mu.Lock()
	s.remoteOps++
	s.mu.Unlock()
}

func (s *Stats) IncBroadcasts() {
	s.mu.Lock()
	s.broadcasts++
	s.mu.Unlock()
}

func (s *Stats) IncErrors() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}

func (s *Stats) IncDeliveryFailures() {
	s.mu.Lock()
	s.deliveryFailures++
	s.mu.Unlock()
}

// Snapshot returns a point-in-time copy of all counters
func (s *Stats) Snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]int64{
		"incoming_operations": s.incomingOps,
		"outgoing_operations": s.outgoingOps,
		"remote_operations":   s.remoteOps,
		"broadcasts":          s.broadcasts,
		"errors":              s.errors,
		"delivery_failures":   s.deliveryFailures,
	}
}
