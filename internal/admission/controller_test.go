package admission_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/apirelay/gateway/internal/admission"
)

const origin = "http://upstream.example:8080"

var _ = Describe("Controller", func() {
	var (
		c   *admission.Controller
		ctx context.Context
	)

	newController := func(maxConcurrent int) *admission.Controller {
		return admission.NewController(admission.Config{
			MaxConcurrentPerOrigin: maxConcurrent,
			MaxConnections:         4,
			KeepAliveTimeout:       time.Minute,
			ConnectTimeout:         time.Second,
			StatsInterval:          time.Hour, // batches triggered manually in tests
		}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}

	BeforeEach(func() {
		ctx = context.Background()
		c = newController(2)
	})

	Describe("Acquire fast path", func() {
		It("should admit immediately while under budget", func() {
			Expect(c.Acquire(ctx, origin)).To(Succeed())
			Expect(c.Acquire(ctx, origin)).To(Succeed())
			Expect(c.InFlight(origin)).To(Equal(2))
			Expect(c.QueueDepth(origin)).To(BeZero())
		})

		It("should track origins independently", func() {
			Expect(c.Acquire(ctx, origin)).To(Succeed())
			Expect(c.Acquire(ctx, origin)).To(Succeed())
			Expect(c.Acquire(ctx, "http://other.example:9090")).To(Succeed())
			Expect(c.InFlight("http://other.example:9090")).To(Equal(1))
		})
	})

	Describe("queueing at capacity", func() {
		It("should queue excess callers and grant freed slots in FIFO order", func() {
			// Fill the budget.
			Expect(c.Acquire(ctx, origin)).To(Succeed())
			Expect(c.Acquire(ctx, origin)).To(Succeed())

			granted := make(chan int, 3)
			var wg sync.WaitGroup

			// Enqueue three waiters one at a time so their FIFO
			// positions are deterministic.
			for i := 0; i < 3; i++ {
				i := i
				before := c.QueueDepth(origin)
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					Expect(c.Acquire(ctx, origin)).To(Succeed())
					granted <- i
				}()
				Eventually(func() int {
					return c.QueueDepth(origin)
				}).Should(Equal(before + 1))
			}

			Expect(c.InFlight(origin)).To(Equal(2))
			Expect(c.QueueDepth(origin)).To(Equal(3))

			// Each release must wake exactly the oldest waiter.
			for want := 0; want < 3; want++ {
				c.Release(origin)
				Eventually(granted).Should(Receive(Equal(want)))
			}
			wg.Wait()

			// Slots transferred, never over budget.
			Expect(c.InFlight(origin)).To(Equal(2))
			Expect(c.QueueDepth(origin)).To(BeZero())
		})

		It("should run exactly M of N simultaneous requests and admit the rest as slots free", func() {
			c := newController(2)
			running := make(chan struct{}, 5)
			release := make(chan struct{})
			var wg sync.WaitGroup

			for i := 0; i < 5; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					err := c.Do(ctx, origin, func(*http.Client) error {
						running <- struct{}{}
						<-release
						return nil
					})
					Expect(err).NotTo(HaveOccurred())
				}()
			}

			Eventually(running).Should(HaveLen(2))
			Consistently(running, 100*time.Millisecond).Should(HaveLen(2))
			Eventually(func() int { return c.QueueDepth(origin) }).Should(Equal(3))

			close(release)
			wg.Wait()
			Expect(c.InFlight(origin)).To(BeZero())
		})
	})

	Describe("cancellation before grant", func() {
		It("should remove an abandoned waiter from the queue", func() {
			Expect(c.Acquire(ctx, origin)).To(Succeed())
			Expect(c.Acquire(ctx, origin)).To(Succeed())

			waitCtx, cancel := context.WithCancel(ctx)
			errCh := make(chan error, 1)
			go func() {
				errCh <- c.Acquire(waitCtx, origin)
			}()
			Eventually(func() int { return c.QueueDepth(origin) }).Should(Equal(1))

			cancel()
			Eventually(errCh).Should(Receive(MatchError(context.Canceled)))
			Expect(c.QueueDepth(origin)).To(BeZero())

			// The freed slot must go to a live caller, not the
			// abandoned waiter.
			c.Release(origin)
			Expect(c.Acquire(ctx, origin)).To(Succeed())
		})
	})

	Describe("Do", func() {
		It("should release the slot when the call fails", func() {
			boom := errors.New("boom")
			err := c.Do(ctx, origin, func(*http.Client) error { return boom })
			Expect(err).To(MatchError(boom))
			Expect(c.InFlight(origin)).To(BeZero())
		})

		It("should hand the same pooled client to every call for an origin", func() {
			var first, second *http.Client
			c.Do(ctx, origin, func(cl *http.Client) error { first = cl; return nil })
			c.Do(ctx, origin, func(cl *http.Client) error { second = cl; return nil })
			Expect(first).To(BeIdenticalTo(second))
		})

		It("should use a distinct client per origin", func() {
			Expect(c.Client(origin)).NotTo(BeIdenticalTo(c.Client("http://other.example:9090")))
		})
	})

	Describe("statistics", func() {
		It("should fold response times into the moving average", func() {
			c.RecordResponseTime(origin, 100*time.Millisecond)
			c.RecordResponseTime(origin, 300*time.Millisecond)

			stats := c.StatsSnapshot()
			Expect(stats).To(HaveLen(1))
			Expect(stats[0].AvgResponseTime).To(Equal(200 * time.Millisecond))
		})

		It("should report utilization and queue aggregates", func() {
			Expect(c.Acquire(ctx, origin)).To(Succeed())

			stats := c.StatsSnapshot()
			Expect(stats[0].InFlight).To(Equal(1))
			Expect(stats[0].MaxConcurrent).To(Equal(2))
			Expect(stats[0].Utilization).To(BeNumerically("~", 0.5, 0.001))
		})

		It("should record queue wait durations when slots transfer", func() {
			Expect(c.Acquire(ctx, origin)).To(Succeed())
			Expect(c.Acquire(ctx, origin)).To(Succeed())

			done := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				Expect(c.Acquire(ctx, origin)).To(Succeed())
				close(done)
			}()
			Eventually(func() int { return c.QueueDepth(origin) }).Should(Equal(1))

			c.Release(origin)
			Eventually(done).Should(BeClosed())

			stats := c.StatsSnapshot()
			Expect(stats[0].TotalWaits).To(Equal(int64(1)))
		})
	})

	Describe("Shutdown", func() {
		It("should discard per-origin state", func() {
			Expect(c.Acquire(ctx, origin)).To(Succeed())
			c.Shutdown()
			Expect(c.InFlight(origin)).To(BeZero())
		})
	})
})
