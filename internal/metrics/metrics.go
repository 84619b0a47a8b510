package metrics

import (
	"slices"
	"sync"
	"time"
)

// maxSamples bounds the response-time window kept per backend.
const maxSamples = 1000

// Metrics aggregates per-backend counters. Backends are keyed by their id
// rendered as a string, the same label the Prometheus series use.
type Metrics struct {
	mutex     sync.RWMutex
	backends  map[string]*backendStats
	startTime time.Time
}

type backendStats struct {
	requests   int64
	selections int64
	successes  int64
	failures   int64
	healthy    bool
	probeRTT   float64

	// ring of the latest response times; next is the slot to overwrite
	// once the ring is full
	samples []time.Duration
	next    int
}

type Snapshot struct {
	TotalRequests int64                     `json:"total_requests"`
	Uptime        time.Duration             `json:"uptime"`
	Backends      map[string]BackendMetrics `json:"backends"`
	Algorithm     string                    `json:"algorithm"`
	DroppedEvents int64                     `json:"dropped_events"`
}

type BackendMetrics struct {
	Requests    int64         `json:"requests"`
	Selections  int64         `json:"selections"`
	Successes   int64         `json:"successes"`
	Failures    int64         `json:"failures"`
	Healthy     bool          `json:"healthy"`
	ProbeRTT    float64       `json:"probe_rtt_ms"`
	AvgResponse time.Duration `json:"avg_response"`
	P50Response time.Duration `json:"p50_response"`
	P95Response time.Duration `json:"p95_response"`
	P99Response time.Duration `json:"p99_response"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		backends:  make(map[string]*backendStats),
		startTime: time.Now(),
	}
}

// stats returns the record for backend, creating it healthy. Callers hold
// the write lock.
func (m *Metrics) stats(backend string) *backendStats {
	s, ok := m.backends[backend]
	if !ok {
		s = &backendStats{healthy: true}
		m.backends[backend] = s
	}
	return s
}

func (m *Metrics) IncrementRequests(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.stats(backend).requests++
}

func (m *Metrics) RecordBackendSelection(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.stats(backend).selections++
}

// RecordResponse adds one relayed request outcome to the backend window.
func (m *Metrics) RecordResponse(backend string, duration time.Duration, success bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	s := m.stats(backend)
	if len(s.samples) < maxSamples {
		s.samples = append(s.samples, duration)
	} else {
		s.samples[s.next] = duration
		s.next = (s.next + 1) % maxSamples
	}

	if success {
		s.successes++
	} else {
		s.failures++
	}
}

func (m *Metrics) UpdateHealthStatus(backend string, healthy bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.stats(backend).healthy = healthy
}

// RecordProbe keeps the latest successful probe RTT. A backend seen only
// through probes is reported healthy until a health change says otherwise.
func (m *Metrics) RecordProbe(backend string, success bool, rttMs float64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	s := m.stats(backend)
	if success {
		s.probeRTT = rttMs
	}
}

func (m *Metrics) Snapshot(algorithm string) Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:    time.Since(m.startTime),
		Backends:  make(map[string]BackendMetrics, len(m.backends)),
		Algorithm: algorithm,
	}

	for name, s := range m.backends {
		snap.TotalRequests += s.requests

		bm := BackendMetrics{
			Requests:   s.requests,
			Selections: s.selections,
			Successes:  s.successes,
			Failures:   s.failures,
			Healthy:    s.healthy,
			ProbeRTT:   s.probeRTT,
		}

		if len(s.samples) > 0 {
			sorted := slices.Clone(s.samples)
			slices.Sort(sorted)

			bm.AvgResponse = average(sorted)
			bm.P50Response = percentile(sorted, 0.50)
			bm.P95Response = percentile(sorted, 0.95)
			bm.P99Response = percentile(sorted, 0.99)
		}

		snap.Backends[name] = bm
	}

	return snap
}

func average(durations []time.Duration) time.Duration {
	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	return sorted[min(int(float64(len(sorted))*p), len(sorted)-1)]
}
