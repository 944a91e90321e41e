package admission

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Config holds the per-origin concurrency budget and transport limits.
type Config struct {
	MaxConcurrentPerOrigin int           // admission slots per origin
	MaxConnections         int           // pooled connections per origin
	KeepAliveTimeout       time.Duration // idle connection lifetime
	ConnectTimeout         time.Duration // dial timeout
	StatsInterval          time.Duration // batch stats recompute period
}

// DefaultConfig returns the limits used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentPerOrigin: 10,
		MaxConnections:         50,
		KeepAliveTimeout:       60 * time.Second,
		ConnectTimeout:         10 * time.Second,
		StatsInterval:          5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcurrentPerOrigin <= 0 {
		c.MaxConcurrentPerOrigin = d.MaxConcurrentPerOrigin
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = d.MaxConnections
	}
	if c.KeepAliveTimeout <= 0 {
		c.KeepAliveTimeout = d.KeepAliveTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = d.StatsInterval
	}
	return c
}

// waiter is one queued caller. Its grant channel is closed when a
// released slot is handed over.
type waiter struct {
	grant    chan struct{}
	enqueued time.Time
}

type originState struct {
	inFlight  int
	waitQueue []*waiter

	totalWaits    int64
	totalWaitTime time.Duration

	responseCount int64
	avgResponse   time.Duration

	// recomputed by the periodic stats batch
	utilization  float64
	avgQueueWait time.Duration
}

// Controller is the per-origin admission gate. Safe for concurrent use.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	mutex   sync.Mutex
	origins map[string]*originState

	tmutex  sync.RWMutex
	clients map[string]*http.Client

	prom *PrometheusStats
}

// NewController creates an admission controller. Origin state and
// transports are created lazily on first use.
func NewController(cfg Config, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		origins: make(map[string]*originState),
		clients: make(map[string]*http.Client),
	}
}

// UseMetrics attaches Prometheus gauges updated by the stats batch.
func (c *Controller) UseMetrics(m *PrometheusStats) {
	c.prom = m
}

func (c *Controller) originLocked(origin string) *originState {
	st, ok := c.origins[origin]
	if !ok {
		st = &originState{}
		c.origins[origin] = st
	}
	return st
}

// Acquire obtains an admission slot for origin. The fast path grants
// immediately while the origin is under budget; otherwise the caller is
// enqueued FIFO and blocks until Release hands it the freed slot. If ctx
// is cancelled before the grant, the waiter is removed from the queue so
// its future slot is not wasted.
func (c *Controller) Acquire(ctx context.Context, origin string) error {
	c.mutex.Lock()
	st := c.originLocked(origin)

	if st.inFlight < c.cfg.MaxConcurrentPerOrigin {
		st.inFlight++
		c.mutex.Unlock()
		return nil
	}

	w := &waiter{grant: make(chan struct{}), enqueued: time.Now()}
	st.waitQueue = append(st.waitQueue, w)
	queued := len(st.waitQueue)
	c.mutex.Unlock()

	c.logger.Debug("Request queued for admission",
		slog.String("origin", origin),
		slog.Int("queue_depth", queued))

	select {
	case <-w.grant:
		return nil

	case <-ctx.Done():
		c.mutex.Lock()
		removed := removeWaiter(st, w)
		c.mutex.Unlock()

		if !removed {
			// The grant raced with cancellation; hand the slot on.
			c.Release(origin)
		}
		return ctx.Err()
	}
}

// Release frees an admission slot for origin. If a waiter is queued, the
// oldest one is granted the slot directly (the in-flight count stays,
// the slot transfers) and its wait duration is recorded; otherwise the
// in-flight count drops.
func (c *Controller) Release(origin string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	st := c.originLocked(origin)

	if len(st.waitQueue) > 0 {
		w := st.waitQueue[0]
		st.waitQueue = st.waitQueue[1:]

		st.totalWaits++
		st.totalWaitTime += time.Since(w.enqueued)

		close(w.grant)
		return
	}

	if st.inFlight > 0 {
		st.inFlight--
	}
}

func removeWaiter(st *originState, target *waiter) bool {
	for i, w := range st.waitQueue {
		if w == target {
			st.waitQueue = append(st.waitQueue[:i], st.waitQueue[i+1:]...)
			return true
		}
	}
	return false
}

// Do runs fn for origin under an admission slot, handing it the origin's
// pooled client. The slot is released on every exit path, and the call
// duration feeds the origin's moving-average response time.
func (c *Controller) Do(ctx context.Context, origin string, fn func(client *http.Client) error) error {
	if err := c.Acquire(ctx, origin); err != nil {
		return err
	}
	defer c.Release(origin)

	start := time.Now()
	err := fn(c.Client(origin))
	c.RecordResponseTime(origin, time.Since(start))
	return err
}

// RecordResponseTime folds one call duration into the origin's moving
// average: avg' = (avg*(n-1) + x) / n.
func (c *Controller) RecordResponseTime(origin string, d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	st := c.originLocked(origin)
	st.responseCount++
	n := st.responseCount
	st.avgResponse = time.Duration((int64(st.avgResponse)*(n-1) + int64(d)) / n)
}

// InFlight returns the current in-flight count for origin.
func (c *Controller) InFlight(origin string) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.originLocked(origin).inFlight
}

// QueueDepth returns the number of callers waiting for origin.
func (c *Controller) QueueDepth(origin string) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.originLocked(origin).waitQueue)
}
