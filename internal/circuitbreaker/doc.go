// Package circuitbreaker implements per-operation fault isolation for
// outbound upstream calls.
//
// A circuit breaker prevents cascading failures by temporarily failing
// fast for operations that keep erroring. It has three states:
//
//   - CLOSED: Normal operation, calls pass through
//   - OPEN: Operation failing, calls rejected immediately
//   - HALF-OPEN: Testing if the operation recovered
//
// Each breaker keeps a fixed-capacity ring buffer of recent outcomes and
// derives its windowed failure rate from it. Breakers are created lazily
// through a Registry, which also aggregates global metrics and runs the
// periodic health report.
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(), logger)
//	err := registry.Execute(ctx, "POST https://api.example.com", func(ctx context.Context) error {
//	    // Make the upstream call...
//	    return err
//	})
//	var openErr *circuitbreaker.OpenError
//	if errors.As(err, &openErr) {
//	    // Rejected without calling upstream; retry after openErr.RetryAfter.
//	}
package circuitbreaker
