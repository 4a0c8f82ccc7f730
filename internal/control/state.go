// Package control holds the process-wide switches that governance flips at
// runtime: the chaos master flag and degraded safe mode.
package control

import "sync"

// State is shared by the fault injector, policy actions and replay runner.
// All access is serialised through its lock.
type State struct {
	mu           sync.RWMutex
	chaosEnabled bool
	safeMode     bool
}

// NewState returns a State with the chaos master flag set as given.
func NewState(chaosEnabled bool) *State {
	return &State{chaosEnabled: chaosEnabled}
}

// ChaosEnabled reports the master fault-injection flag.
func (s *State) ChaosEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chaosEnabled
}

// SetChaosEnabled sets the master flag and returns the previous value.
func (s *State) SetChaosEnabled(enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.chaosEnabled
	s.chaosEnabled = enabled
	return prev
}

// SafeMode reports whether degraded safe mode is on.
func (s *State) SafeMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.safeMode
}

// SetSafeMode sets degraded safe mode.
func (s *State) SetSafeMode(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.safeMode = enabled
}
