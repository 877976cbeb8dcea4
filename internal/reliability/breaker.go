// Package reliability wraps outbound calls with circuit breakers and
// retry/backoff policies.
package reliability

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// BreakerRegistry hands out named circuit breakers with fixed settings.
// The same name always returns the same breaker, so independent callers
// share failure state.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
	log      zerolog.Logger
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry(log zerolog.Logger) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
		log:      log.With().Str("component", "breaker_registry").Logger(),
	}
}

// Get returns the breaker registered under name, creating it on first use.
// failureThreshold consecutive failures trip the breaker; after
// recoveryTimeout the next call probes in half-open state.
func (r *BreakerRegistry) Get(name string, failureThreshold uint32, recoveryTimeout time.Duration) *gobreaker.CircuitBreaker[struct{}] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	log := r.log
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     recoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
	r.breakers[name] = cb
	return cb
}

// Do executes fn through the named breaker. While the breaker is open the
// call fails fast with gobreaker.ErrOpenState.
func (r *BreakerRegistry) Do(name string, failureThreshold uint32, recoveryTimeout time.Duration, fn func() error) error {
	cb := r.Get(name, failureThreshold, recoveryTimeout)
	_, err := cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// State reports the current state of the named breaker, or closed when the
// breaker does not exist yet.
func (r *BreakerRegistry) State(name string) gobreaker.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}
