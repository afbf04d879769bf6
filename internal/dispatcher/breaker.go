package dispatcher

import (
	"sync"
	"time"
)

type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// MicroBreaker trips after failThreshold consecutive failures and stays open
// for openFor. After that a single probe is let through; its outcome closes
// or reopens the breaker.
type MicroBreaker struct {
	mu               sync.Mutex
	st               BreakerState
	consecutiveFails int
	failThreshold    int
	openFor          time.Duration
	nextTryAt        time.Time
	probeInFlight    bool
	now              func() time.Time
}

func NewMicroBreaker(threshold int, openFor time.Duration) *MicroBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &MicroBreaker{failThreshold: threshold, openFor: openFor, now: time.Now}
}

func (b *MicroBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st
}

// Ready reports whether TryAcquire would currently succeed, without taking the probe slot.
func (b *MicroBreaker) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case StateOpen:
		return !b.probeInFlight && b.now().After(b.nextTryAt)
	case StateHalfOpen:
		return !b.probeInFlight
	default:
		return true
	}
}

func (b *MicroBreaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case StateOpen:
		if b.probeInFlight || !b.now().After(b.nextTryAt) {
			return false
		}
		b.st = StateHalfOpen
		b.probeInFlight = true
		return true
	case StateHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	default:
		return true
	}
}

func (b *MicroBreaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFails = 0
	b.st = StateClosed
	b.probeInFlight = false
}

func (b *MicroBreaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st == StateHalfOpen {
		b.trip()
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.failThreshold {
		b.trip()
	}
}

func (b *MicroBreaker) trip() {
	b.st = StateOpen
	b.nextTryAt = b.now().Add(b.openFor)
	b.probeInFlight = false
}
