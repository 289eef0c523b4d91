package telemetry

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordCounters(t *testing.T) {
	m := NewMetrics()

	m.Record(QueryRecord{Query: "a", Duration: 5 * time.Millisecond, CacheStatus: "hit", ResultCount: 3})
	m.Record(QueryRecord{Query: "b", Duration: 80 * time.Millisecond, CacheStatus: "miss", Degraded: true, ResultCount: 0})
	m.RecordFailure()

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.Total)
	assert.Equal(t, int64(1), snap.Degraded)
	assert.Equal(t, int64(1), snap.CacheHits)
	assert.Equal(t, int64(1), snap.ZeroResults)
	assert.Equal(t, int64(1), snap.Failed)
	assert.Equal(t, int64(1), snap.Latency["<10ms"])
	assert.Equal(t, int64(1), snap.Latency["50-100ms"])
}

func TestBucketBoundaries(t *testing.T) {
	m := NewMetrics()
	m.Record(QueryRecord{Duration: 10 * time.Millisecond})
	m.Record(QueryRecord{Duration: 3 * time.Second})

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.Latency["10-50ms"])
	assert.Equal(t, int64(1), snap.Latency[">2s"])
}

func TestRecentRingWraps(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < recentCapacity+10; i++ {
		m.Record(QueryRecord{Query: fmt.Sprintf("q%d", i)})
	}

	snap := m.Snapshot()
	assert.Len(t, snap.Recent, recentCapacity)
	assert.Equal(t, "q10", snap.Recent[0].Query)
	assert.Equal(t, fmt.Sprintf("q%d", recentCapacity+9), snap.Recent[recentCapacity-1].Query)
}
