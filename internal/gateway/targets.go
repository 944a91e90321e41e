package gateway

import (
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"

	"github.com/apirelay/gateway/internal/circuitbreaker"
)

// ErrNoAvailableTargets is returned when every configured upstream has
// an open circuit for the requested operation.
var ErrNoAvailableTargets = errors.New("no available upstream targets")

// Target is one configured upstream destination. The origin key
// (scheme://host:port) is what the admission controller and circuit
// breakers are keyed on.
type Target struct {
	url    *url.URL
	origin string
}

func NewTarget(raw string) (*Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream url %q must include scheme and host", raw)
	}

	return &Target{
		url:    u,
		origin: u.Scheme + "://" + u.Host,
	}, nil
}

func NewTargets(raws []string) ([]*Target, error) {
	targets := make([]*Target, 0, len(raws))
	for _, raw := range raws {
		t, err := NewTarget(raw)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func (t *Target) URL() *url.URL {
	return t.url
}

func (t *Target) Origin() string {
	return t.origin
}

// Rotation hands out targets round-robin, skipping any whose circuit
// for the requested operation is currently open.
type Rotation struct {
	targets  []*Target
	breakers *circuitbreaker.Registry
	current  uint64
}

func NewRotation(targets []*Target, breakers *circuitbreaker.Registry) *Rotation {
	return &Rotation{
		targets:  targets,
		breakers: breakers,
	}
}

// Next selects the target for one request. Operations are keyed
// "METHOD origin"; a target with no breaker yet counts as available,
// and an open one is offered again once its recovery timeout elapses
// so the breaker can attempt recovery.
func (r *Rotation) Next(method string) (*Target, error) {
	available := r.filterAvailable(method)
	if len(available) == 0 {
		return nil, ErrNoAvailableTargets
	}

	n := atomic.AddUint64(&r.current, 1)

	index := (n - 1) % uint64(len(available))

	return available[index], nil
}

func (r *Rotation) filterAvailable(method string) []*Target {
	available := make([]*Target, 0, len(r.targets))
	for _, t := range r.targets {
		if !r.breakers.Available(OperationKey(method, t.origin)) {
			continue
		}
		available = append(available, t)
	}

	return available
}

// OperationKey names the breaker protecting one method on one origin.
func OperationKey(method, origin string) string {
	return method + " " + origin
}
