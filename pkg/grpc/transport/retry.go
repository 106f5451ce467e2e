package transport

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrCircuitOpen indicates the circuit breaker is open
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrMaxRetriesExceeded indicates the operation failed after all retries
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

// RetryPolicy controls how WithRetry backs off between attempts
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	Jitter         float64
}

// DefaultRetryPolicy returns a sensible default retry policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         0.2,
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func(ctx context.Context) error

// IsRetryable reports whether err is a transient transport failure. Errors
// that carry an answer from the store never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return true
	default:
		return false
	}
}

// WithRetry runs fn until it succeeds, fails with a non-retryable error or
// runs out of attempts. Exhausting the attempts wraps the last error with
// ErrMaxRetriesExceeded.
func WithRetry(ctx context.Context, policy RetryPolicy, fn RetryableFunc) error {
	var err error
	backoff := policy.InitialBackoff

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		err = fn(ctx)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == policy.MaxRetries {
			break
		}

		// Jitter spreads out clients that failed together
		jitter := 1.0
		if policy.Jitter > 0 {
			jitter = 1.0 + rand.Float64()*policy.Jitter
		}
		wait := time.Duration(float64(backoff) * jitter)
		if wait > policy.MaxBackoff {
			wait = policy.MaxBackoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff = ExponentialBackoff(1, backoff, policy.MaxBackoff, policy.BackoffFactor)
	}

	if policy.MaxRetries == 0 {
		return err
	}
	return errors.Join(ErrMaxRetriesExceeded, err)
}

// ExponentialBackoff calculates the backoff of the given attempt
func ExponentialBackoff(attempt int, initialBackoff time.Duration, maxBackoff time.Duration, factor float64) time.Duration {
	backoff := float64(initialBackoff) * math.Pow(factor, float64(attempt))
	if backoff > float64(maxBackoff) {
		return maxBackoff
	}
	return time.Duration(backoff)
}

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int

const (
	// CircuitClosed means the circuit is closed and operations are permitted
	CircuitClosed CircuitBreakerState = iota
	// CircuitOpen means the circuit is open and operations will fail fast
	CircuitOpen
	// CircuitHalfOpen means the circuit is allowing a test operation
	CircuitHalfOpen
)

// CircuitBreaker fails calls fast after repeated transport failures
type CircuitBreaker struct {
	mu               sync.Mutex
	state            CircuitBreakerState
	failureThreshold int
	resetTimeout     time.Duration
	failureCount     int
	lastStateChange  time.Time
	now              func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
	}
}

// Execute runs fn unless the circuit is open. Only retryable failures count
// against the circuit.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn RetryableFunc) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}

	err := fn(ctx)
	if IsRetryable(err) {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}
	return err
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Trip manually opens the circuit
func (cb *CircuitBreaker) Trip() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(CircuitOpen)
}

// Reset manually closes the circuit
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount = 0
	cb.setState(CircuitClosed)
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.lastStateChange) < cb.resetTimeout {
			return false
		}
		cb.setState(CircuitHalfOpen)
		return true
	case CircuitHalfOpen:
		// One probe at a time
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.setState(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.setState(CircuitOpen)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	if cb.state == CircuitHalfOpen {
		cb.setState(CircuitClosed)
	}
}

func (cb *CircuitBreaker) setState(s CircuitBreakerState) {
	cb.state = s
	cb.lastStateChange = cb.now()
}
