package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/ai-task-pipeline/internal/adapter/observability"
)

// CircuitState is the state of one adapter's circuit breaker.
type CircuitState int

const (
	// CircuitClosed allows requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen blocks requests until the recovery timeout elapses.
	CircuitOpen
	// CircuitHalfOpen allows a single probe request to test recovery.
	CircuitHalfOpen
)

// String implements fmt.Stringer.
func (cs CircuitState) String() string {
	switch cs {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker protects one ModelAdapter from repeated upstream failures.
type CircuitBreaker struct {
	mu               sync.RWMutex
	adapterName      string
	failureThreshold int
	recoveryTimeout  time.Duration
	state            CircuitState
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	lastSuccessTime  time.Time
	totalRequests    int
	totalFailures    int
}

// NewCircuitBreaker creates a circuit breaker for one adapter.
func NewCircuitBreaker(adapterName string, failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		adapterName:      adapterName,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            CircuitClosed,
	}
}

// ShouldAttempt reports whether a call should be attempted given the
// breaker's current state. Once an open circuit's recovery timeout has
// elapsed it moves to half-open and admits one probe; further calls are
// refused until that probe's success or failure is recorded.
func (cb *CircuitBreaker) ShouldAttempt() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) <= cb.recoveryTimeout {
			return false
		}
		cb.state = CircuitHalfOpen
		observability.RecordCircuitBreakerStatus(cb.adapterName, int(cb.state))
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful call and closes the circuit if it was
// half-open.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successCount++
	cb.lastSuccessTime = time.Now()
	cb.totalRequests++
	cb.failureCount = 0

	switch cb.state {
	case CircuitHalfOpen:
		cb.state = CircuitClosed
		slog.Info("circuit breaker closed after successful recovery",
			slog.String("adapter", cb.adapterName),
			slog.Float64("success_rate", cb.successRateLocked()))
	case CircuitOpen:
		cb.state = CircuitClosed
		slog.Warn("circuit breaker closed unexpectedly after success",
			slog.String("adapter", cb.adapterName))
	}
	observability.RecordCircuitBreakerStatus(cb.adapterName, int(cb.state))
}

// RecordFailure records a failed call and opens the circuit once the
// failure threshold is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.totalFailures++
	cb.totalRequests++
	cb.lastFailureTime = time.Now()

	if cb.failureCount >= cb.failureThreshold {
		cb.state = CircuitOpen
		slog.Warn("circuit breaker opened due to consecutive failures",
			slog.String("adapter", cb.adapterName),
			slog.Int("failure_count", cb.failureCount),
			slog.Int("threshold", cb.failureThreshold))
	}
	observability.RecordCircuitBreakerStatus(cb.adapterName, int(cb.state))
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

func (cb *CircuitBreaker) successRateLocked() float64 {
	if cb.totalRequests == 0 {
		return 0
	}
	return float64(cb.successCount) / float64(cb.totalRequests)
}

// CircuitBreakerManager lazily creates and tracks one breaker per adapter
// name, so the engine can fan a request out across several adapters without
// each one needing to know about the others.
type CircuitBreakerManager struct {
	mu               sync.RWMutex
	breakers         map[string]*CircuitBreaker
	failureThreshold int
	recoveryTimeout  time.Duration
}

// NewCircuitBreakerManager creates a manager whose breakers all share the
// given failure threshold and recovery timeout.
func NewCircuitBreakerManager(failureThreshold int, recoveryTimeout time.Duration) *CircuitBreakerManager {
	return &CircuitBreakerManager{
		breakers:         make(map[string]*CircuitBreaker),
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
	}
}

// GetBreaker returns the breaker for adapterName, creating it on first use.
func (cbm *CircuitBreakerManager) GetBreaker(adapterName string) *CircuitBreaker {
	cbm.mu.RLock()
	breaker, exists := cbm.breakers[adapterName]
	cbm.mu.RUnlock()
	if exists {
		return breaker
	}

	cbm.mu.Lock()
	defer cbm.mu.Unlock()
	if breaker, exists := cbm.breakers[adapterName]; exists {
		return breaker
	}
	breaker = NewCircuitBreaker(adapterName, cbm.failureThreshold, cbm.recoveryTimeout)
	cbm.breakers[adapterName] = breaker
	return breaker
}

// HealthyAdapters returns the names of every tracked adapter whose circuit
// is not currently open.
func (cbm *CircuitBreakerManager) HealthyAdapters() []string {
	cbm.mu.RLock()
	defer cbm.mu.RUnlock()

	var healthy []string
	for name, breaker := range cbm.breakers {
		if breaker.State() != CircuitOpen {
			healthy = append(healthy, name)
		}
	}
	return healthy
}
