package metrics_test

import (
	"context"
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/apirelay/gateway/internal/metrics"
)

var _ = Describe("Collector", func() {
	var (
		collector *metrics.Collector
		log       *slog.Logger
		ctx       context.Context
		cancel    context.CancelFunc
	)

	const origin = "http://upstream.example:8080"

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelError, // Suppress logs in tests
		}))
		ctx, cancel = context.WithCancel(context.Background())
		collector = metrics.NewCollector(100, log)
	})

	AfterEach(func() {
		cancel()
		time.Sleep(10 * time.Millisecond) // Allow goroutine to finish
	})

	Describe("NewCollector", func() {
		It("should create a collector with specified buffer size", func() {
			c := metrics.NewCollector(500, log)
			Expect(c).NotTo(BeNil())
		})
	})

	Describe("Start and event processing", func() {
		It("should process EventRequestReceived", func() {
			collector.Start(ctx)

			collector.Emit(metrics.MetricEvent{
				Type:      metrics.EventRequestReceived,
				Timestamp: time.Now(),
				Origin:    origin,
			})

			Eventually(func() int64 {
				return collector.Snapshot().Origins[origin].Requests
			}).Should(Equal(int64(1)))
		})

		It("should process EventRequestQueued with its wait duration", func() {
			collector.Start(ctx)

			collector.Emit(metrics.MetricEvent{
				Type:     metrics.EventRequestQueued,
				Origin:   origin,
				Duration: 40 * time.Millisecond,
			})

			Eventually(func() int64 {
				return collector.Snapshot().Origins[origin].Queued
			}).Should(Equal(int64(1)))
			Expect(collector.Snapshot().Origins[origin].AvgQueueWait).To(Equal(40 * time.Millisecond))
		})

		It("should process EventUpstreamCompleted", func() {
			collector.Start(ctx)

			collector.Emit(metrics.MetricEvent{
				Type:       metrics.EventUpstreamCompleted,
				Origin:     origin,
				Duration:   120 * time.Millisecond,
				StatusCode: 200,
			})

			Eventually(func() map[int]int64 {
				return collector.Snapshot().Origins[origin].StatusCodes
			}).Should(HaveKeyWithValue(200, int64(1)))
		})

		It("should process EventCircuitRejected", func() {
			collector.Start(ctx)

			collector.Emit(metrics.MetricEvent{
				Type:      metrics.EventCircuitRejected,
				Operation: "POST " + origin,
			})

			Eventually(func() map[string]int64 {
				return collector.Snapshot().CircuitRejections
			}).Should(HaveKeyWithValue("POST "+origin, int64(1)))
		})

		It("should process EventValidationRejected", func() {
			collector.Start(ctx)

			collector.Emit(metrics.MetricEvent{
				Type:  metrics.EventValidationRejected,
				Limit: "depth",
			})

			Eventually(func() map[string]int64 {
				return collector.Snapshot().ValidationFailures
			}).Should(HaveKeyWithValue("depth", int64(1)))
		})
	})

	Describe("Emit", func() {
		It("should drop events instead of blocking when the buffer is full", func() {
			small := metrics.NewCollector(1, log) // not started: nothing drains

			done := make(chan struct{})
			go func() {
				defer close(done)
				for i := 0; i < 10; i++ {
					small.Emit(metrics.MetricEvent{Type: metrics.EventRequestReceived, Origin: origin})
				}
			}()
			Eventually(done).Should(BeClosed())
		})
	})

	Describe("shutdown draining", func() {
		It("should process buffered events before stopping", func() {
			collector.Start(ctx)

			for i := 0; i < 5; i++ {
				collector.Emit(metrics.MetricEvent{
					Type:   metrics.EventRequestReceived,
					Origin: origin,
				})
			}

			cancel()
			Eventually(func() int64 {
				return collector.Snapshot().Origins[origin].Requests
			}).Should(Equal(int64(5)))
		})
	})
})
