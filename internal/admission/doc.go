// Package admission bounds concurrent outbound calls per origin and
// reuses pooled transport connections.
//
// Each origin (scheme://host:port) gets a concurrency budget. Acquire
// grants a slot immediately while the budget has room; excess callers
// queue in strict FIFO order and block until a release hands them the
// freed slot. The single hard invariant is that every Acquire is matched
// by exactly one Release, which Do guarantees with a deferred release on
// every exit path.
//
// The controller is the sole backpressure mechanism: requests over
// capacity wait, they are not rejected. It does not retry and does not
// wrap calls with a circuit breaker; composing with the circuitbreaker
// package is the caller's job.
package admission
