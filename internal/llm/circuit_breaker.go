package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the breaker rejects a call outright, either
// because it is open or because the half-open probe slot is taken.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker tuning. Three consecutive failures open the circuit; after 30s one
// probe window of two calls decides whether it closes again.
const (
	breakerMaxFailures       = 3
	breakerOpenTimeout       = 30 * time.Second
	breakerHalfOpenSuccesses = 2
)

// CircuitBreaker guards provider calls so a failing endpoint sheds load fast
// instead of stacking up blocked requests.
type CircuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreaker creates a breaker with the package defaults.
func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "llm",
			MaxRequests: breakerHalfOpenSuccesses,
			Timeout:     breakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerMaxFailures
			},
		}),
	}
}

// Execute runs fn through the breaker. A rejected call returns ErrCircuitOpen
// without invoking fn; a cancelled context fails before reaching the breaker
// so client disconnects never count against the provider.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result, err := cb.breaker.Execute(func() (interface{}, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return result, err
}

// State reports "closed", "open" or "half-open" for health output.
func (cb *CircuitBreaker) State() string {
	switch cb.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
