// Package breaker implements the per-backend circuit breaker used by the router.
package breaker

import (
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	// Closed admits every call.
	Closed State = iota
	// Open rejects calls until the recovery timeout has elapsed.
	Open
	// HalfOpen admits a bounded number of probe calls.
	HalfOpen
)

// String returns the human-readable name for the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds breaker thresholds.
type Config struct {
	// FailureThreshold is the failure count that opens a closed breaker.
	FailureThreshold int
	// RecoveryTimeout is how long an open breaker waits after the last failure
	// before admitting a probe.
	RecoveryTimeout time.Duration
	// HalfOpenTrials caps probe calls while half-open.
	HalfOpenTrials int
}

// DefaultConfig returns the thresholds used when none are configured.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenTrials:   2,
	}
}

// Stats is a point-in-time copy of breaker counters.
type Stats struct {
	State           State     `json:"state"`
	FailureCount    uint      `json:"failure_count"`
	TrialCount      uint      `json:"trial_count"`
	LastFailureTime time.Time `json:"last_failure_time,omitempty"`
}

// Breaker is safe for concurrent use; every transition happens under its lock.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu              sync.Mutex
	state           State
	failureCount    uint
	trialCount      uint
	lastFailureTime time.Time
}

// New creates a closed breaker. Non-positive settings fall back to defaults.
func New(cfg Config) *Breaker {
	return NewWithClock(cfg, time.Now)
}

// NewWithClock is New with an injectable clock.
func NewWithClock(cfg Config, now func() time.Time) *Breaker {
	defaults := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = defaults.RecoveryTimeout
	}
	if cfg.HalfOpenTrials <= 0 {
		cfg.HalfOpenTrials = defaults.HalfOpenTrials
	}
	if now == nil {
		now = time.Now
	}
	return &Breaker{cfg: cfg, now: now, state: Closed}
}

// CanExecute answers admission control. An open breaker whose recovery timeout
// has elapsed moves to half-open here; there is no background timer.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.admitLocked()
}

// RegisterTrial counts an admitted call; it only matters while half-open.
func (b *Breaker) RegisterTrial() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registerLocked()
}

// Acquire is CanExecute followed by RegisterTrial under one lock, so
// concurrent half-open callers never exceed HalfOpenTrials.
func (b *Breaker) Acquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.admitLocked() {
		return false
	}
	b.registerLocked()
	return true
}

func (b *Breaker) admitLocked() bool {
	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Sub(b.lastFailureTime) > b.cfg.RecoveryTimeout {
			b.toHalfOpen()
			return true
		}
		return false
	case HalfOpen:
		return b.trialCount < uint(b.cfg.HalfOpenTrials)
	}
	return false
}

func (b *Breaker) registerLocked() {
	if b.state == HalfOpen {
		b.trialCount++
	}
}

// RecordSuccess closes a half-open or open breaker and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen || b.state == Open {
		b.toClosed()
	}
	b.failureCount = 0
}

// RecordFailure counts a failure and opens the breaker when warranted. A
// failure while half-open reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	switch {
	case b.state == HalfOpen:
		b.state = Open
	case b.failureCount >= uint(b.cfg.FailureThreshold):
		b.state = Open
	}
	b.lastFailureTime = b.now()
}

// State returns the current position without triggering lazy transitions.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a copy of the breaker counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:           b.state,
		FailureCount:    b.failureCount,
		TrialCount:      b.trialCount,
		LastFailureTime: b.lastFailureTime,
	}
}

// Must be called with lock held.
func (b *Breaker) toHalfOpen() {
	b.state = HalfOpen
	b.trialCount = 0
}

// Must be called with lock held.
func (b *Breaker) toClosed() {
	b.state = Closed
	b.failureCount = 0
	b.trialCount = 0
}
