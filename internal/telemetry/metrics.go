// Package telemetry tracks in-process query statistics for the status
// surface. Counters are monotonic since startup; no external metrics
// backend is involved.
package telemetry

import (
	"sync"
	"time"
)

// latency histogram bucket bounds.
var bucketBounds = []time.Duration{
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	500 * time.Millisecond,
	2 * time.Second,
}

var bucketLabels = []string{"<10ms", "10-50ms", "50-100ms", "100-500ms", "500ms-2s", ">2s"}

// recentCapacity bounds the ring of recent query records.
const recentCapacity = 100

// QueryRecord is one completed query, kept in the recent ring.
type QueryRecord struct {
	Query       string        `json:"query"`
	Duration    time.Duration `json:"duration"`
	CacheStatus string        `json:"cache_status"`
	Degraded    bool          `json:"degraded"`
	ResultCount int           `json:"result_count"`
	At          time.Time     `json:"at"`
}

// Metrics aggregates query statistics. Safe for concurrent use.
type Metrics struct {
	mu sync.Mutex

	total       int64
	degraded    int64
	cacheHits   int64
	zeroResults int64
	failed      int64

	latencyBuckets []int64

	recent []QueryRecord
	next   int
	filled bool

	startedAt time.Time
}

// NewMetrics creates an empty metrics aggregator.
func NewMetrics() *Metrics {
	return &Metrics{
		latencyBuckets: make([]int64, len(bucketBounds)+1),
		recent:         make([]QueryRecord, recentCapacity),
		startedAt:      time.Now().UTC(),
	}
}

// Record registers a completed query.
func (m *Metrics) Record(rec QueryRecord) {
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	if rec.Degraded {
		m.degraded++
	}
	if rec.CacheStatus == "hit" {
		m.cacheHits++
	}
	if rec.ResultCount == 0 {
		m.zeroResults++
	}

	m.latencyBuckets[bucketIndex(rec.Duration)]++

	m.recent[m.next] = rec
	m.next++
	if m.next == recentCapacity {
		m.next = 0
		m.filled = true
	}
}

// RecordFailure registers a query that failed outright.
func (m *Metrics) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total++
	m.failed++
}

func bucketIndex(d time.Duration) int {
	for i, bound := range bucketBounds {
		if d < bound {
			return i
		}
	}
	return len(bucketBounds)
}

// Snapshot is a point-in-time view of the metrics.
type Snapshot struct {
	Total       int64            `json:"total"`
	Degraded    int64            `json:"degraded"`
	CacheHits   int64            `json:"cache_hits"`
	ZeroResults int64            `json:"zero_results"`
	Failed      int64            `json:"failed"`
	Latency     map[string]int64 `json:"latency"`
	Recent      []QueryRecord    `json:"recent"`
	Uptime      time.Duration    `json:"uptime"`
}

// Snapshot returns current counters and the recent ring, oldest first.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	latency := make(map[string]int64, len(bucketLabels))
	for i, label := range bucketLabels {
		latency[label] = m.latencyBuckets[i]
	}

	var recent []QueryRecord
	if m.filled {
		recent = append(recent, m.recent[m.next:]...)
		recent = append(recent, m.recent[:m.next]...)
	} else {
		recent = append(recent, m.recent[:m.next]...)
	}

	return Snapshot{
		Total:       m.total,
		Degraded:    m.degraded,
		CacheHits:   m.cacheHits,
		ZeroResults: m.zeroResults,
		Failed:      m.failed,
		Latency:     latency,
		Recent:      recent,
		Uptime:      time.Since(m.startedAt),
	}
}
