package strava

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/okian/stravasync/pkg/logger"
	"github.com/okian/stravasync/pkg/metrics"
)

const breakerName = "strava-api"

// defaultBreakerSettings opens the circuit after five consecutive transient
// failures and probes again after a minute.
func defaultBreakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
}

// newBreaker completes st with metrics reporting and the failure predicate.
func newBreaker(st gobreaker.Settings, log logger.Logger) *gobreaker.CircuitBreaker[*response] {
	if st.Name == "" {
		st.Name = breakerName
	}
	onChange := st.OnStateChange
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn(context.Background(), "circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
		metrics.UpdateCircuitBreakerState(name, stateValue(to))
		metrics.RecordCircuitBreakerTransition(name, from.String(), to.String())
		if onChange != nil {
			onChange(name, from, to)
		}
	}
	if st.IsSuccessful == nil {
		st.IsSuccessful = countsAsSuccess
	}

	metrics.UpdateCircuitBreakerState(st.Name, stateValue(gobreaker.StateClosed))
	return gobreaker.NewCircuitBreaker[*response](st)
}

// countsAsSuccess keeps everything but remote unavailability out of the failure count.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	return !errors.Is(err, ErrTransient)
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func breakerRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
