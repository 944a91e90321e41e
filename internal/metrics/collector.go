package metrics

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventRequestReceived    EventType = "request_received"
	EventRequestQueued      EventType = "request_queued"
	EventUpstreamCompleted  EventType = "upstream_completed"
	EventCircuitRejected    EventType = "circuit_rejected"
	EventValidationRejected EventType = "validation_rejected"
)

type MetricEvent struct {
	Type       EventType
	Timestamp  time.Time
	Origin     string
	Operation  string
	Limit      string
	Duration   time.Duration
	StatusCode int
}

type Collector struct {
	eventCh chan MetricEvent
	metrics *Metrics
	logger  *slog.Logger
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
	}
}

func (c *Collector) EventChannel() chan<- MetricEvent {
	return c.eventCh
}

// Emit sends an event without blocking; under pressure events are
// dropped rather than slowing the request path.
func (c *Collector) Emit(event MetricEvent) {
	select {
	case c.eventCh <- event:
	default:
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventRequestReceived:
		c.metrics.IncrementRequests(event.Origin)

	case EventRequestQueued:
		c.metrics.RecordQueued(event.Origin, event.Duration)

	case EventUpstreamCompleted:
		c.metrics.RecordResponse(event.Origin, event.Duration, event.StatusCode)

	case EventCircuitRejected:
		c.metrics.RecordCircuitRejection(event.Operation)

	case EventValidationRejected:
		c.metrics.RecordValidationFailure(event.Limit)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}
