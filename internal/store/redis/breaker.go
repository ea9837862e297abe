package redis

import (
	"errors"
	"sync"
	"time"
)

// ErrPublishSuppressed is returned when the circuit breaker is open and a
// publish attempt is skipped without touching Redis.
var ErrPublishSuppressed = errors.New("threshold publish suppressed: circuit open")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	breakerFailureThreshold = 5
	breakerSuccessThreshold = 2
	breakerOpenTimeout      = 30 * time.Second
)

// publishBreaker stops hammering an unreachable Redis. Threshold publishing
// is best-effort; the guardrail engine keeps its last known values, so
// suppressed publishes cost staleness, not correctness.
type publishBreaker struct {
	mu               sync.Mutex
	state            breakerState
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	lastFailureAt    time.Time
	onStateChange    func(from, to breakerState)
}

func newPublishBreaker(onStateChange func(from, to breakerState)) *publishBreaker {
	return &publishBreaker{
		state:            breakerClosed,
		failureThreshold: breakerFailureThreshold,
		successThreshold: breakerSuccessThreshold,
		openTimeout:      breakerOpenTimeout,
		onStateChange:    onStateChange,
	}
}

func (b *publishBreaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerOpen:
		if time.Since(b.lastFailureAt) > b.openTimeout {
			b.setState(breakerHalfOpen)
			return nil
		}
		return ErrPublishSuppressed
	default:
		return nil
	}
}

func (b *publishBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	if b.state == breakerHalfOpen {
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.setState(breakerClosed)
		}
	}
}

func (b *publishBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	b.successCount = 0
	b.lastFailureAt = time.Now()
	if b.state == breakerHalfOpen {
		b.setState(breakerOpen)
	} else if b.state == breakerClosed && b.failureCount >= b.failureThreshold {
		b.setState(breakerOpen)
	}
}

func (b *publishBreaker) setState(to breakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.successCount = 0
	if to == breakerClosed {
		b.failureCount = 0
	}
	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}
