package scan

import (
	"sync"
	"time"
)

// latencyWindow is the capacity of the latency deque used for the
// moving average
const latencyWindow = 30

// fpsWindow is the rolling window for the frames-per-second counter
const fpsWindow = time.Second

// Metrics maintains a bounded sliding window of recent inference latencies
// and a rolling frame-rate counter. Record and Snapshot are safe for
// concurrent use; Snapshot is a consistent read.
type Metrics struct {
	mu          sync.Mutex
	latencies   []time.Duration // Bounded deque, drop-oldest at capacity
	completions []time.Time     // Completion timestamps within the FPS window
	frames      uint64
	detections  uint64
	skipped     uint64
	now         func() time.Time // Injectable clock for tests
}

// NewMetrics creates an empty aggregator
func NewMetrics() *Metrics {
	return &Metrics{now: time.Now}
}

// Record registers one completed inference with its round-trip latency
// and the number of objects it detected
func (m *Metrics) Record(latency time.Duration, detections int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.latencies) >= latencyWindow {
		m.latencies = m.latencies[1:]
	}
	m.latencies = append(m.latencies, latency)

	now := m.now()
	m.completions = append(m.completions, now)
	m.pruneLocked(now)

	m.frames++
	m.detections += uint64(detections)
}

// RecordSkip counts a tick dropped by backpressure
func (m *Metrics) RecordSkip() {
	m.mu.Lock()
	m.skipped++
	m.mu.Unlock()
}

// Snapshot returns a consistent view of the counters
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked(m.now())

	var avg float64
	if len(m.latencies) > 0 {
		var total time.Duration
		for _, l := range m.latencies {
			total += l
		}
		avg = float64(total.Milliseconds()) / float64(len(m.latencies))
	}

	return MetricsSnapshot{
		FPS:             float64(len(m.completions)),
		AvgLatencyMs:    avg,
		FramesProcessed: m.frames,
		DetectionsTotal: m.detections,
		TicksSkipped:    m.skipped,
	}
}

// pruneLocked drops completion timestamps older than the FPS window.
// Caller holds mu.
func (m *Metrics) pruneLocked(now time.Time) {
	cutoff := now.Add(-fpsWindow)
	i := 0
	for i < len(m.completions) && m.completions[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		m.completions = m.completions[i:]
	}
}
