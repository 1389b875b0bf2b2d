package tpms

import "sync"

// Session tracks whether telemetry collection is active and how many
// tires the caller expects. Advisory only: nothing gates frame
// reception on it, and it has no relationship to channel state.
type Session struct {
	mu     sync.Mutex
	active bool
	tires  uint
}

// State is a point-in-time copy of the session.
type State struct {
	Active    bool
	TireCount uint
}

// Start marks collection active and records the expected tire count.
func (s *Session) Start(tireCount uint) {
	s.mu.Lock()
	s.active = true
	s.tires = tireCount
	s.mu.Unlock()
}

// Stop marks collection inactive. The tire count is kept.
func (s *Session) Stop() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{Active: s.active, TireCount: s.tires}
}
