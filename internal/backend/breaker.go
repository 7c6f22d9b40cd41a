package backend

import (
	"time"

	"github.com/klingon-exchange/xpubgraph/pkg/logging"
	"github.com/sony/gobreaker"
)

// breakerTripFailures is the number of consecutive failed dials after which
// further dials fail fast until the breaker half-opens.
const breakerTripFailures = 3

// breakerOpenTimeout is how long an open breaker waits before letting a
// trial dial through.
const breakerOpenTimeout = 2 * time.Second

// NewCircuitBreaker returns the breaker used around connection attempts.
func NewCircuitBreaker(name string, logger *logging.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			switch {
			case to == gobreaker.StateOpen:
				logger.Warn("circuit breaker open, dials suspended", "breaker", name)
			case from == gobreaker.StateOpen && to == gobreaker.StateHalfOpen:
				logger.Info("circuit breaker half-open, probing", "breaker", name)
			case from == gobreaker.StateHalfOpen && to == gobreaker.StateClosed:
				logger.Info("circuit breaker closed", "breaker", name)
			}
		},
	})
}
