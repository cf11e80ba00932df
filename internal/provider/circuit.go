package provider

import (
	"sync"
	"time"
)

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker trips after consecutive failures and lets a probe request
// through once the recovery interval has elapsed. The orchestrator consults
// it to skip a provider that is hard down instead of burning model retries
// against it.
type CircuitBreaker struct {
	mu sync.Mutex

	state       CircuitState
	consecutive int
	openedAt    time.Time

	failureThreshold int
	probeInterval    time.Duration
}

func NewCircuitBreaker(failureThreshold int, probeInterval time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		probeInterval:    probeInterval,
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// currentState transitions open→half_open when the probe interval has
// elapsed. Callers must hold mu.
func (cb *CircuitBreaker) currentState() CircuitState {
	if cb.state == CircuitOpen && time.Since(cb.openedAt) >= cb.probeInterval {
		cb.state = CircuitHalfOpen
	}
	return cb.state
}

// Allow reports whether a request may go through. Half-open allows the
// probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState() != CircuitOpen
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutive = 0
	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutive++
	switch cb.state {
	case CircuitClosed:
		if cb.consecutive >= cb.failureThreshold {
			cb.state = CircuitOpen
			cb.openedAt = time.Now()
		}
	case CircuitHalfOpen:
		cb.state = CircuitOpen
		cb.openedAt = time.Now()
	}
}

func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.consecutive = 0
}

// BreakerSet lazily tracks one breaker per provider name.
type BreakerSet struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	failureThreshold int
	probeInterval    time.Duration
}

func NewBreakerSet(failureThreshold int, probeInterval time.Duration) *BreakerSet {
	return &BreakerSet{
		breakers:         make(map[string]*CircuitBreaker),
		failureThreshold: failureThreshold,
		probeInterval:    probeInterval,
	}
}

func (bs *BreakerSet) Breaker(provider string) *CircuitBreaker {
	bs.mu.RLock()
	cb, ok := bs.breakers[provider]
	bs.mu.RUnlock()
	if ok {
		return cb
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()
	if cb, ok := bs.breakers[provider]; ok {
		return cb
	}
	cb = NewCircuitBreaker(bs.failureThreshold, bs.probeInterval)
	bs.breakers[provider] = cb
	return cb
}

func (bs *BreakerSet) Allow(provider string) bool {
	return bs.Breaker(provider).Allow()
}

func (bs *BreakerSet) RecordSuccess(provider string) {
	bs.Breaker(provider).RecordSuccess()
}

func (bs *BreakerSet) RecordFailure(provider string) {
	bs.Breaker(provider).RecordFailure()
}
