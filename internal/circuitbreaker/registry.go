package circuitbreaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Health report thresholds.
const (
	healthyMaxFailureRate = 0.10
	healthyMaxAvgResponse = 5 * time.Second
)

// Registry creates and looks up breakers by operation name. It is the
// single construction point: request-handling code receives a *Registry
// instead of reaching for package-level state.
type Registry struct {
	mutex     sync.RWMutex
	breakers  map[string]*CircuitBreaker
	defaults  Config
	observers []Observer
	logger    *slog.Logger
}

// GlobalMetrics aggregates totals across every breaker in the registry.
type GlobalMetrics struct {
	TotalBreakers   int           `json:"total_breakers"`
	TotalRequests   int64         `json:"total_requests"`
	ClosedCount     int           `json:"closed_count"`
	OpenCount       int           `json:"open_count"`
	HalfOpenCount   int           `json:"half_open_count"`
	FailureRate     float64       `json:"failure_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// HealthReport summarizes whether outbound calls are healthy overall.
type HealthReport struct {
	Healthy         bool          `json:"healthy"`
	GeneratedAt     time.Time     `json:"generated_at"`
	Global          GlobalMetrics `json:"global"`
	OpenBreakers    []string      `json:"open_breakers,omitempty"`
	Issues          []string      `json:"issues,omitempty"`
	Recommendations []string      `json:"recommendations,omitempty"`
}

// NewRegistry creates a registry whose breakers default to cfg.
func NewRegistry(defaults Config, logger *slog.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults.withDefaults(),
		logger:   logger,
	}
}

// AddObserver attaches o to every existing breaker and to every breaker
// created afterwards.
func (r *Registry) AddObserver(o Observer) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.observers = append(r.observers, o)
	for _, cb := range r.breakers {
		cb.AddObserver(o)
	}
}

// GetOrCreate returns the breaker for name, creating it lazily. cfg is
// applied only at first creation; a differing cfg for an existing name
// is ignored.
func (r *Registry) GetOrCreate(name string, cfg *Config) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[name]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if cb, exists = r.breakers[name]; exists {
		return cb
	}

	conf := r.defaults
	if cfg != nil {
		conf = cfg.withDefaults()
	}

	cb = NewCircuitBreaker(name, conf)
	for _, o := range r.observers {
		cb.AddObserver(o)
	}
	r.breakers[name] = cb
	return cb
}

// Execute runs op under the named breaker, creating it if needed.
func (r *Registry) Execute(ctx context.Context, name string, op func(context.Context) error) error {
	return r.GetOrCreate(name, nil).Execute(ctx, op)
}

// Available reports whether calls for name may proceed. Unknown names
// are available (the breaker would be created closed), and an open
// breaker becomes available again once its recovery timeout elapses so
// Execute can attempt the half-open transition.
func (r *Registry) Available(name string) bool {
	r.mutex.RLock()
	cb, exists := r.breakers[name]
	r.mutex.RUnlock()

	if !exists {
		return true
	}
	return cb.Available()
}

// Stats returns the current state of every breaker.
func (r *Registry) Stats() map[string]State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]State, len(r.breakers))
	for name, cb := range r.breakers {
		stats[name] = cb.State()
	}
	return stats
}

// GlobalMetrics aggregates per-state counts, the windowed failure rate
// and the average response time across all breakers.
func (r *Registry) GlobalMetrics() GlobalMetrics {
	r.mutex.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mutex.RUnlock()

	var g GlobalMetrics
	g.TotalBreakers = len(breakers)

	var failures, total int
	var sum time.Duration

	for _, cb := range breakers {
		m := cb.Metrics()
		g.TotalRequests += m.TotalRequests

		switch cb.State() {
		case StateOpen:
			g.OpenCount++
		case StateHalfOpen:
			g.HalfOpenCount++
		default:
			g.ClosedCount++
		}

		f, t, s := cb.windowStats()
		failures += f
		total += t
		sum += s
	}

	if total > 0 {
		g.FailureRate = float64(failures) / float64(total)
		g.AvgResponseTime = sum / time.Duration(total)
	}
	return g
}

// HealthReport evaluates global health: no open breaker, failure rate at
// or below 10%, average response time at or below 5s. When unhealthy, the
// report itemizes the issues and recommends operator actions.
func (r *Registry) HealthReport() HealthReport {
	report := HealthReport{
		GeneratedAt: time.Now(),
		Global:      r.GlobalMetrics(),
	}

	for name, state := range r.Stats() {
		if state == StateOpen {
			report.OpenBreakers = append(report.OpenBreakers, name)
		}
	}

	if len(report.OpenBreakers) > 0 {
		report.Issues = append(report.Issues,
			fmt.Sprintf("%d circuit breaker(s) open: %v", len(report.OpenBreakers), report.OpenBreakers))
		report.Recommendations = append(report.Recommendations,
			"check upstream availability for the open operations")
	}

	if report.Global.FailureRate > healthyMaxFailureRate {
		report.Issues = append(report.Issues,
			fmt.Sprintf("global failure rate %.1f%% exceeds %.0f%%",
				report.Global.FailureRate*100, healthyMaxFailureRate*100))
		report.Recommendations = append(report.Recommendations,
			"inspect recent upstream errors and consider lowering traffic")
	}

	if report.Global.AvgResponseTime > healthyMaxAvgResponse {
		report.Issues = append(report.Issues,
			fmt.Sprintf("average response time %s exceeds %s",
				report.Global.AvgResponseTime, healthyMaxAvgResponse))
		report.Recommendations = append(report.Recommendations,
			"check upstream latency and connection pool saturation")
	}

	report.Healthy = len(report.Issues) == 0
	return report
}

// StartReporting emits the aggregated health report at every interval
// until ctx is cancelled. Open breakers are flagged at warning level.
func (r *Registry) StartReporting(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.logger.Info("Circuit breaker reporting stopped")
				return

			case <-ticker.C:
				report := r.HealthReport()

				if report.Healthy {
					r.logger.Info("Circuit breaker health report",
						slog.Int("breakers", report.Global.TotalBreakers),
						slog.Float64("failure_rate", report.Global.FailureRate),
						slog.Duration("avg_response_time", report.Global.AvgResponseTime))
					continue
				}

				r.logger.Warn("Circuit breaker health degraded",
					slog.Any("open_breakers", report.OpenBreakers),
					slog.Any("issues", report.Issues),
					slog.Float64("failure_rate", report.Global.FailureRate))
			}
		}
	}()
}

// Reset resets the named breaker. It reports whether the name was known.
func (r *Registry) Reset(name string) bool {
	r.mutex.RLock()
	cb, exists := r.breakers[name]
	r.mutex.RUnlock()

	if !exists {
		return false
	}
	cb.Reset()
	return true
}

// ResetAll resets every breaker without discarding them.
func (r *Registry) ResetAll() {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
}

// Remove discards the named breaker entirely.
func (r *Registry) Remove(name string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.breakers, name)
}

// Names returns all registered breaker names.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	return names
}
