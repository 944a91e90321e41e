package circuitbreaker

import "time"

// Sample records the outcome of a single wrapped call.
type Sample struct {
	Timestamp time.Time
	Success   bool
	Duration  time.Duration
}

// Ring is a fixed-capacity circular buffer of outcome samples.
// Once full, the oldest sample is overwritten.
type Ring struct {
	samples []Sample
	head    int
	size    int
}

// NewRing creates a ring buffer holding at most capacity samples.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{samples: make([]Sample, capacity)}
}

// Append stores a sample, overwriting the oldest one when full.
func (r *Ring) Append(s Sample) {
	r.samples[r.head] = s
	r.head = (r.head + 1) % len(r.samples)
	if r.size < len(r.samples) {
		r.size++
	}
}

// Snapshot returns the stored samples, oldest first.
func (r *Ring) Snapshot() []Sample {
	out := make([]Sample, 0, r.size)

	start := r.head - r.size
	if start < 0 {
		start += len(r.samples)
	}

	for i := 0; i < r.size; i++ {
		out = append(out, r.samples[(start+i)%len(r.samples)])
	}
	return out
}

// Len returns the number of stored samples.
func (r *Ring) Len() int {
	return r.size
}

// Cap returns the fixed capacity.
func (r *Ring) Cap() int {
	return len(r.samples)
}

// Reset discards all stored samples.
func (r *Ring) Reset() {
	r.head = 0
	r.size = 0
}
