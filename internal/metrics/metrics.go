package metrics

import (
	"sort"
	"sync"
	"time"
)

// maxStoredDurations bounds per-origin response time history used for
// percentile calculations.
const maxStoredDurations = 1000

type Metrics struct {
	mutex              sync.RWMutex
	requests           map[string]int64
	queuedRequests     map[string]int64
	queueWaits         map[string][]time.Duration
	responseTimes      map[string][]time.Duration
	statusCodes        map[string]map[int]int64
	circuitRejections  map[string]int64
	validationFailures map[string]int64
	startTime          time.Time
}

type Snapshot struct {
	TotalRequests      int64                    `json:"total_requests"`
	Uptime             time.Duration            `json:"uptime"`
	Origins            map[string]OriginMetrics `json:"origins"`
	ValidationFailures map[string]int64         `json:"validation_failures,omitempty"`
	CircuitRejections  map[string]int64         `json:"circuit_rejections,omitempty"`
}

type OriginMetrics struct {
	Requests     int64         `json:"requests"`
	Queued       int64         `json:"queued"`
	AvgQueueWait time.Duration `json:"avg_queue_wait"`
	AvgResponse  time.Duration `json:"avg_response"`
	P50Response  time.Duration `json:"p50_response"`
	P95Response  time.Duration `json:"p95_response"`
	P99Response  time.Duration `json:"p99_response"`
	StatusCodes  map[int]int64 `json:"status_codes"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests:           make(map[string]int64),
		queuedRequests:     make(map[string]int64),
		queueWaits:         make(map[string][]time.Duration),
		responseTimes:      make(map[string][]time.Duration),
		statusCodes:        make(map[string]map[int]int64),
		circuitRejections:  make(map[string]int64),
		validationFailures: make(map[string]int64),
		startTime:          time.Now(),
	}
}

func (m *Metrics) IncrementRequests(origin string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.requests[origin]++
}

func (m *Metrics) RecordQueued(origin string, wait time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.queuedRequests[origin]++
	m.queueWaits[origin] = append(m.queueWaits[origin], wait)
	if len(m.queueWaits[origin]) > maxStoredDurations {
		m.queueWaits[origin] = m.queueWaits[origin][1:]
	}
}

func (m *Metrics) RecordResponse(origin string, duration time.Duration, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.responseTimes[origin] = append(m.responseTimes[origin], duration)

	if len(m.responseTimes[origin]) > maxStoredDurations {
		m.responseTimes[origin] = m.responseTimes[origin][1:]
	}

	if m.statusCodes[origin] == nil {
		m.statusCodes[origin] = make(map[int]int64)
	}
	m.statusCodes[origin][statusCode]++
}

func (m *Metrics) RecordCircuitRejection(operation string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.circuitRejections[operation]++
}

func (m *Metrics) RecordValidationFailure(limit string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.validationFailures[limit]++
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:             time.Since(m.startTime),
		Origins:            make(map[string]OriginMetrics),
		ValidationFailures: copyCounts(m.validationFailures),
		CircuitRejections:  copyCounts(m.circuitRejections),
	}

	// Collect all unique origins
	allOrigins := make(map[string]bool)
	for origin := range m.requests {
		allOrigins[origin] = true
	}
	for origin := range m.queuedRequests {
		allOrigins[origin] = true
	}
	for origin := range m.responseTimes {
		allOrigins[origin] = true
	}

	for origin := range allOrigins {
		snap.TotalRequests += m.requests[origin]

		om := OriginMetrics{
			Requests:    m.requests[origin],
			Queued:      m.queuedRequests[origin],
			StatusCodes: copyStatusCodes(m.statusCodes[origin]),
		}

		om.AvgQueueWait = average(m.queueWaits[origin])

		durations := m.responseTimes[origin]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			om.AvgResponse = average(sorted)
			om.P50Response = percentile(sorted, 0.50)
			om.P95Response = percentile(sorted, 0.95)
			om.P99Response = percentile(sorted, 0.99)
		}

		snap.Origins[origin] = om
	}

	return snap
}

func copyCounts(in map[string]int64) map[string]int64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// copyStatusCodes detaches the per-origin status counts so a snapshot can
// be encoded while new responses keep being recorded.
func copyStatusCodes(in map[int]int64) map[int]int64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[int]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
