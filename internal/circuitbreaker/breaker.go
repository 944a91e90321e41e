package circuitbreaker

import (
	"context"
	"sync"
	"time"
)

type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Blocking requests
	StateHalfOpen              // Testing recovery with probe requests
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

const (
	// sampleCapacity bounds the recent-outcome history per breaker.
	sampleCapacity = 100

	// metricsTTL is how long a computed failure rate / average response
	// time stays valid before it is recomputed from the sample window.
	metricsTTL = time.Second
)

// Config holds the thresholds and timeouts for a single breaker.
type Config struct {
	FailureThreshold int           // failures before the breaker may open
	SuccessThreshold int           // consecutive half-open successes before closing
	RecoveryTimeout  time.Duration // open duration before a probe is allowed
	RequestTimeout   time.Duration // per-call wall-clock limit
	MonitoringWindow time.Duration // failure rate is computed over this window
}

// DefaultConfig returns the thresholds used when a breaker is created
// without an explicit configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
		RequestTimeout:   10 * time.Second,
		MonitoringWindow: 60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = d.RecoveryTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.MonitoringWindow <= 0 {
		c.MonitoringWindow = d.MonitoringWindow
	}
	return c
}

// Metrics is a point-in-time view of one breaker.
type Metrics struct {
	Name            string        `json:"name"`
	State           string        `json:"state"`
	FailureCount    int           `json:"failure_count"`
	SuccessCount    int           `json:"success_count"`
	TotalRequests   int64         `json:"total_requests"`
	FailureRate     float64       `json:"failure_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	StateChangeTime time.Time     `json:"state_change_time"`
}

// CircuitBreaker isolates faults for one named operation. It is safe for
// concurrent use; outcomes may arrive from parallel in-flight calls.
type CircuitBreaker struct {
	name string
	cfg  Config

	mutex           sync.Mutex
	state           State
	failureCount    int
	successCount    int
	totalRequests   int64
	samples         *Ring
	stateChangeTime time.Time
	observers       []Observer

	// cached window aggregates, invalidated on any new sample or
	// state change
	cachedRate    float64
	cachedAvg     time.Duration
	cacheComputed time.Time
	cacheValid    bool

	// state changes made while the lock is held, delivered to observers
	// after it is released
	pending []stateChange
}

type stateChange struct {
	from, to State
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(name string, cfg Config) *CircuitBreaker {
	return &CircuitBreaker{
		name:            name,
		cfg:             cfg.withDefaults(),
		state:           StateClosed,
		samples:         NewRing(sampleCapacity),
		stateChangeTime: time.Now(),
	}
}

// Name returns the breaker's operation name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Available reports whether a call would be allowed through right now.
// Only an open breaker with recovery time still remaining is
// unavailable; once the recovery timeout elapses the breaker counts as
// available again so the next call can attempt recovery.
func (cb *CircuitBreaker) Available() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state != StateOpen {
		return true
	}
	return time.Since(cb.stateChangeTime) >= cb.cfg.RecoveryTimeout
}

// AddObserver registers an observer for outcomes and state changes.
// Observers are notified outside the breaker's lock and must not call
// back into the breaker.
func (cb *CircuitBreaker) AddObserver(o Observer) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.observers = append(cb.observers, o)
}

// Execute runs op under breaker protection, racing it against the
// configured request timeout. A timeout counts as a failure. When the
// breaker is open and the recovery timeout has not elapsed, op is never
// invoked and an *OpenError carrying a retry-after hint is returned.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}

	start := time.Now()
	err := cb.runWithTimeout(ctx, op)
	cb.recordOutcome(err == nil, time.Since(start))
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mutex.Lock()

	cb.totalRequests++

	if cb.state == StateOpen {
		elapsed := time.Since(cb.stateChangeTime)
		if elapsed < cb.cfg.RecoveryTimeout {
			retryAfter := cb.cfg.RecoveryTimeout - elapsed
			observers := cb.observersLocked()
			cb.mutex.Unlock()

			for _, o := range observers {
				o.OnRejection(cb.name)
			}
			return &OpenError{Name: cb.name, RetryAfter: retryAfter}
		}

		// Recovery timeout elapsed: allow a probe through.
		cb.transitionLocked(StateHalfOpen)
	}

	observers := cb.observersLocked()
	changes := cb.drainPendingLocked()
	cb.mutex.Unlock()

	notifyStateChanges(observers, cb.name, changes)
	return nil
}

func (cb *CircuitBreaker) runWithTimeout(ctx context.Context, op func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, cb.cfg.RequestTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(callCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TimeoutError{Name: cb.name, Timeout: cb.cfg.RequestTimeout}
	}
}

func (cb *CircuitBreaker) recordOutcome(success bool, duration time.Duration) {
	cb.mutex.Lock()

	cb.samples.Append(Sample{Timestamp: time.Now(), Success: success, Duration: duration})
	cb.cacheValid = false

	if success {
		cb.successCount++
		if cb.state == StateHalfOpen && cb.successCount >= cb.cfg.SuccessThreshold {
			cb.transitionLocked(StateClosed)
		}
	} else {
		cb.failureCount++
		if cb.state != StateOpen &&
			cb.failureCount >= cb.cfg.FailureThreshold &&
			cb.failureRateLocked() >= 0.5 {
			cb.transitionLocked(StateOpen)
		}
	}

	observers := cb.observersLocked()
	changes := cb.drainPendingLocked()
	cb.mutex.Unlock()

	for _, o := range observers {
		o.OnOutcome(cb.name, success, duration)
	}
	notifyStateChanges(observers, cb.name, changes)
}

// transitionLocked changes state and schedules observer notification.
// Failure and success counters reset only on entering CLOSED; entering
// HALF-OPEN resets the success counter alone, so lifetime failures keep
// governing a reopen until recovery completes.
func (cb *CircuitBreaker) transitionLocked(to State) {
	if cb.state == to {
		return
	}

	from := cb.state
	cb.state = to
	cb.stateChangeTime = time.Now()
	cb.cacheValid = false

	switch to {
	case StateClosed:
		cb.failureCount = 0
		cb.successCount = 0
	case StateHalfOpen:
		cb.successCount = 0
	}

	cb.pending = append(cb.pending, stateChange{from: from, to: to})
}

func (cb *CircuitBreaker) observersLocked() []Observer {
	out := make([]Observer, len(cb.observers))
	copy(out, cb.observers)
	return out
}

func (cb *CircuitBreaker) drainPendingLocked() []stateChange {
	changes := cb.pending
	cb.pending = nil
	return changes
}

func notifyStateChanges(observers []Observer, name string, changes []stateChange) {
	for _, c := range changes {
		for _, o := range observers {
			o.OnStateChange(name, c.from, c.to)
		}
	}
}

// failureRateLocked returns the fraction of failed samples within the
// monitoring window, using the cached value while it is fresh.
func (cb *CircuitBreaker) failureRateLocked() float64 {
	cb.computeWindowLocked()
	return cb.cachedRate
}

func (cb *CircuitBreaker) computeWindowLocked() {
	if cb.cacheValid && time.Since(cb.cacheComputed) <= metricsTTL {
		return
	}

	cutoff := time.Now().Add(-cb.cfg.MonitoringWindow)
	var failures, total int
	var sum time.Duration

	for _, s := range cb.samples.Snapshot() {
		if s.Timestamp.Before(cutoff) {
			continue
		}
		total++
		sum += s.Duration
		if !s.Success {
			failures++
		}
	}

	cb.cachedRate = 0
	cb.cachedAvg = 0
	if total > 0 {
		cb.cachedRate = float64(failures) / float64(total)
		cb.cachedAvg = sum / time.Duration(total)
	}
	cb.cacheComputed = time.Now()
	cb.cacheValid = true
}

// windowStats reports windowed aggregates for registry-level rollups.
func (cb *CircuitBreaker) windowStats() (failures, total int, sum time.Duration) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cutoff := time.Now().Add(-cb.cfg.MonitoringWindow)
	for _, s := range cb.samples.Snapshot() {
		if s.Timestamp.Before(cutoff) {
			continue
		}
		total++
		sum += s.Duration
		if !s.Success {
			failures++
		}
	}
	return failures, total, sum
}

// Metrics returns a point-in-time view, reusing the cached window
// aggregates when they are under a second old.
func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.computeWindowLocked()

	return Metrics{
		Name:            cb.name,
		State:           cb.state.String(),
		FailureCount:    cb.failureCount,
		SuccessCount:    cb.successCount,
		TotalRequests:   cb.totalRequests,
		FailureRate:     cb.cachedRate,
		AvgResponseTime: cb.cachedAvg,
		StateChangeTime: cb.stateChangeTime,
	}
}

// Reset returns the breaker to its freshly-constructed state.
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()

	from := cb.state
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.totalRequests = 0
	cb.samples.Reset()
	cb.cacheValid = false
	cb.stateChangeTime = time.Now()

	observers := cb.observersLocked()
	cb.mutex.Unlock()

	if from != StateClosed {
		for _, o := range observers {
			o.OnStateChange(cb.name, from, StateClosed)
		}
	}
}
