package admission

import (
	"context"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OriginStats is a point-in-time view of one origin's admission state.
type OriginStats struct {
	Origin          string        `json:"origin"`
	InFlight        int           `json:"in_flight"`
	MaxConcurrent   int           `json:"max_concurrent"`
	QueueDepth      int           `json:"queue_depth"`
	Utilization     float64       `json:"utilization"`
	TotalWaits      int64         `json:"total_waits"`
	AvgQueueWait    time.Duration `json:"avg_queue_wait"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// StartStatsLoop recomputes utilization and queue-wait aggregates for
// every origin in a periodic batch, amortizing the cost under load,
// until ctx is cancelled.
func (c *Controller) StartStatsLoop(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.cfg.StatsInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.logger.Info("Admission stats loop stopped")
				return

			case <-ticker.C:
				stats := c.recomputeStats()
				if c.prom != nil {
					c.prom.update(stats)
				}
			}
		}
	}()
}

func (c *Controller) recomputeStats() []OriginStats {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	out := make([]OriginStats, 0, len(c.origins))
	for origin, st := range c.origins {
		st.utilization = float64(st.inFlight) / float64(c.cfg.MaxConcurrentPerOrigin)
		st.avgQueueWait = 0
		if st.totalWaits > 0 {
			st.avgQueueWait = st.totalWaitTime / time.Duration(st.totalWaits)
		}

		out = append(out, OriginStats{
			Origin:          origin,
			InFlight:        st.inFlight,
			MaxConcurrent:   c.cfg.MaxConcurrentPerOrigin,
			QueueDepth:      len(st.waitQueue),
			Utilization:     st.utilization,
			TotalWaits:      st.totalWaits,
			AvgQueueWait:    st.avgQueueWait,
			AvgResponseTime: st.avgResponse,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Origin < out[j].Origin })
	return out
}

// StatsSnapshot returns freshly computed per-origin stats, sorted by
// origin.
func (c *Controller) StatsSnapshot() []OriginStats {
	return c.recomputeStats()
}

// PrometheusStats exports admission gauges, refreshed by the stats batch.
type PrometheusStats struct {
	inFlight    *prometheus.GaugeVec
	queueDepth  *prometheus.GaugeVec
	utilization *prometheus.GaugeVec
	queueWait   *prometheus.GaugeVec
}

// NewPrometheusStats creates the admission metric vectors and registers
// them with reg.
func NewPrometheusStats(namespace string, reg prometheus.Registerer) *PrometheusStats {
	m := &PrometheusStats{
		inFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "admission_in_flight",
				Help:      "In-flight outbound calls per origin",
			},
			[]string{"origin"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "admission_queue_depth",
				Help:      "Callers waiting for an admission slot per origin",
			},
			[]string{"origin"},
		),
		utilization: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "admission_utilization",
				Help:      "Fraction of the concurrency budget in use per origin",
			},
			[]string{"origin"},
		),
		queueWait: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "admission_avg_queue_wait_seconds",
				Help:      "Average time spent queued per origin",
			},
			[]string{"origin"},
		),
	}

	reg.MustRegister(m.inFlight, m.queueDepth, m.utilization, m.queueWait)
	return m
}

func (m *PrometheusStats) update(stats []OriginStats) {
	for _, s := range stats {
		m.inFlight.WithLabelValues(s.Origin).Set(float64(s.InFlight))
		m.queueDepth.WithLabelValues(s.Origin).Set(float64(s.QueueDepth))
		m.utilization.WithLabelValues(s.Origin).Set(s.Utilization)
		m.queueWait.WithLabelValues(s.Origin).Set(s.AvgQueueWait.Seconds())
	}
}
