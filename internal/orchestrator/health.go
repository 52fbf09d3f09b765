package orchestrator

import (
	"sync"
	"time"
)

// BreakerState is the availability state of one backend.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // healthy, requests flow
	BreakerOpen                         // failing, requests blocked
	BreakerHalfOpen                     // probing, one request allowed
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

type breaker struct {
	state    BreakerState
	failures int
	openedAt time.Time
}

// HealthTracker keeps a circuit breaker per backend. Consecutive invocation
// failures open the breaker; after the probe interval one request is let
// through, and its outcome decides whether the breaker closes or reopens.
type HealthTracker struct {
	mu       sync.Mutex
	breakers map[string]*breaker

	failureThreshold int
	probeInterval    time.Duration
	now              func() time.Time
}

func NewHealthTracker(failureThreshold int, probeInterval time.Duration) *HealthTracker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if probeInterval <= 0 {
		probeInterval = 15 * time.Second
	}
	return &HealthTracker{
		breakers:         make(map[string]*breaker),
		failureThreshold: failureThreshold,
		probeInterval:    probeInterval,
		now:              time.Now,
	}
}

func (ht *HealthTracker) get(backend string) *breaker {
	b, ok := ht.breakers[backend]
	if !ok {
		b = &breaker{state: BreakerClosed}
		ht.breakers[backend] = b
	}
	return b
}

// refresh transitions open→half-open once the probe interval has elapsed.
// Must be called with the lock held.
func (ht *HealthTracker) refresh(b *breaker) {
	if b.state == BreakerOpen && ht.now().Sub(b.openedAt) >= ht.probeInterval {
		b.state = BreakerHalfOpen
	}
}

// Available reports whether a backend should be tried. Half-open allows the
// probe request through.
func (ht *HealthTracker) Available(backend string) bool {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	b := ht.get(backend)
	ht.refresh(b)
	return b.state != BreakerOpen
}

// State returns the backend's current breaker state.
func (ht *HealthTracker) State(backend string) BreakerState {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	b := ht.get(backend)
	ht.refresh(b)
	return b.state
}

// OnSuccess records a successful invocation.
func (ht *HealthTracker) OnSuccess(backend string) {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	b := ht.get(backend)
	b.failures = 0
	if b.state == BreakerHalfOpen {
		b.state = BreakerClosed
	}
}

// OnFailure records a failed invocation, opening the breaker at the threshold
// and reopening it after a failed probe.
func (ht *HealthTracker) OnFailure(backend string) {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	b := ht.get(backend)
	b.failures++

	switch b.state {
	case BreakerClosed:
		if b.failures >= ht.failureThreshold {
			b.state = BreakerOpen
			b.openedAt = ht.now()
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.openedAt = ht.now()
	}
}

// Reset closes the breaker for one backend.
func (ht *HealthTracker) Reset(backend string) {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	delete(ht.breakers, backend)
}
