package circuitbreaker

import (
	"fmt"
	"time"
)

// OpenError is returned when a call is rejected because the breaker is open.
// The wrapped operation was never invoked. RetryAfter hints how long until
// the breaker will let a probe request through.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open, retry after %s", e.Name, e.RetryAfter)
}

// TimeoutError is returned when the wrapped operation exceeds the per-call
// request timeout. It counts as a failure for state transitions.
type TimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("circuit breaker %q: operation timed out after %s", e.Name, e.Timeout)
}
