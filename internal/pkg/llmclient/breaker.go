package llmclient

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

// CircuitBreakerConfig holds circuit breaker settings
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive overload failures that
	// opens the circuit
	FailureThreshold int
	// Cooldown is the minimum time the circuit stays open
	Cooldown time.Duration
	// MaxCooldown caps how far an upstream retry hint can extend Cooldown
	MaxCooldown time.Duration
}

// DefaultCircuitBreakerConfig returns the breaker settings used when the
// breaker is switched on without further tuning.
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		MaxCooldown:      5 * time.Minute,
	}
}

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
	}
	return "unknown"
}

// outcome classifies one upstream attempt from the breaker's point of view
type outcome int

const (
	// upstream answered; client errors like INVALID_ARGUMENT count here
	outcomeHealthy outcome = iota
	// quota exhausted, overloaded, timed out or unreachable
	outcomeOverloaded
	// the caller went away; says nothing about the upstream
	outcomeAbandoned
)

// classify maps an attempt result to a breaker outcome. Gemini reports
// RESOURCE_EXHAUSTED as 429, INTERNAL as 500, UNAVAILABLE as 503 and
// DEADLINE_EXCEEDED as 504; Google front ends answer 502 when a backend
// is unreachable.
func classify(statusCode int, err error, callerDone bool) outcome {
	switch {
	case callerDone:
		return outcomeAbandoned
	case err != nil:
		return outcomeOverloaded
	case statusCode == http.StatusTooManyRequests,
		statusCode == http.StatusInternalServerError,
		statusCode == http.StatusBadGateway,
		statusCode == http.StatusServiceUnavailable,
		statusCode == http.StatusGatewayTimeout:
		return outcomeOverloaded
	default:
		return outcomeHealthy
	}
}

// breaker stops calls to an upstream that keeps failing with overload
// errors. After the cooldown a single trial call decides whether it closes
// again. A nil *breaker admits everything.
type breaker struct {
	mu sync.Mutex

	threshold   int
	cooldown    time.Duration
	maxCooldown time.Duration
	now         func() time.Time

	state     breakerState
	failures  int
	openUntil time.Time
	trialOut  bool
}

func newBreaker(cfg *CircuitBreakerConfig) *breaker {
	if cfg == nil {
		return nil
	}
	b := &breaker{
		threshold:   cfg.FailureThreshold,
		cooldown:    cfg.Cooldown,
		maxCooldown: cfg.MaxCooldown,
		now:         time.Now,
	}
	if b.threshold < 1 {
		b.threshold = 1
	}
	if b.maxCooldown < b.cooldown {
		b.maxCooldown = b.cooldown
	}
	return b
}

// errCircuitOpen is returned by admit while calls are being refused
type errCircuitOpen struct {
	retryIn time.Duration
}

func (e *errCircuitOpen) Error() string {
	if e.retryIn <= 0 {
		return "upstream is recovering from repeated failures, retry shortly"
	}
	return fmt.Sprintf("upstream paused after repeated failures, retry in %s", e.retryIn.Round(time.Second))
}

// admit reports whether a call may go out now
func (b *breaker) admit() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerOpen:
		now := b.now()
		if now.Before(b.openUntil) {
			return &errCircuitOpen{retryIn: b.openUntil.Sub(now)}
		}
		b.state = breakerHalfOpen
		b.trialOut = true
		return nil
	case breakerHalfOpen:
		if b.trialOut {
			return &errCircuitOpen{}
		}
		b.trialOut = true
		return nil
	default:
		return nil
	}
}

// record feeds an attempt's outcome back. hint is the upstream's own retry
// delay, if it sent one, and lengthens the cooldown up to maxCooldown.
func (b *breaker) record(o outcome, hint time.Duration) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch o {
	case outcomeHealthy:
		b.state = breakerClosed
		b.failures = 0
		b.trialOut = false
	case outcomeAbandoned:
		b.trialOut = false
	case outcomeOverloaded:
		b.failures++
		if b.state == breakerHalfOpen || b.failures >= b.threshold {
			wait := b.cooldown
			if hint > wait {
				wait = min(hint, b.maxCooldown)
			}
			b.state = breakerOpen
			b.openUntil = b.now().Add(wait)
			b.trialOut = false
		}
	}
}

// State returns the current state name (for testing/monitoring)
func (b *breaker) State() string {
	if b == nil {
		return breakerClosed.String()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}
