package goSession

import (
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goSession/session"
)

// MetricID identifies one engine counter or histogram.
type MetricID uint16

const (
	// MetricSessionSaved counts saves that reached the backing store.
	MetricSessionSaved MetricID = iota
	// MetricSessionSaveSkipped counts saves of unchanged sessions.
	MetricSessionSaveSkipped
	// MetricSessionSaveFailed counts saves that returned an error.
	MetricSessionSaveFailed
	// MetricSessionFound counts lookups that returned a live session.
	MetricSessionFound
	// MetricSessionNotFound counts lookups of missing or expired sessions.
	MetricSessionNotFound
	// MetricSessionFindFailed counts lookups that failed to read the store.
	MetricSessionFindFailed
	// MetricSessionDeleted counts successful explicit deletions.
	MetricSessionDeleted
	// MetricSessionCreatedPublished counts session-created notifications sent.
	MetricSessionCreatedPublished
	// MetricBestEffortFailure counts swallowed failures of best-effort commands.
	MetricBestEffortFailure
	// MetricEventCreated counts session-created events emitted by the listener.
	MetricEventCreated
	// MetricEventExpired counts session-expired events.
	MetricEventExpired
	// MetricEventDeleted counts session-deleted events.
	MetricEventDeleted
	// MetricSweepRun counts sweeper passes.
	MetricSweepRun
	// MetricSweepTouched counts expiry markers read by the sweeper.
	MetricSweepTouched
	// MetricSaveLatency is the latency histogram of successful saves.
	MetricSaveLatency
	// MetricSaveFailureLatency is the latency histogram of failed saves.
	MetricSaveFailureLatency
	metricIDCount
)

// counterMetrics maps store counters onto engine metric ids.
var counterMetrics = [session.CounterCount]MetricID{
	session.CounterSaved:            MetricSessionSaved,
	session.CounterSaveSkipped:      MetricSessionSaveSkipped,
	session.CounterSaveFailed:       MetricSessionSaveFailed,
	session.CounterFound:            MetricSessionFound,
	session.CounterNotFound:         MetricSessionNotFound,
	session.CounterFindFailed:       MetricSessionFindFailed,
	session.CounterDeleted:          MetricSessionDeleted,
	session.CounterCreatedPublished: MetricSessionCreatedPublished,
	session.CounterBestEffortFailed: MetricBestEffortFailure,
	session.CounterEventCreated:     MetricEventCreated,
	session.CounterEventExpired:     MetricEventExpired,
	session.CounterEventDeleted:     MetricEventDeleted,
	session.CounterSweepRun:         MetricSweepRun,
	session.CounterSweepTouched:     MetricSweepTouched,
}

// histogramMetrics lists the ids that carry a latency histogram.
var histogramMetrics = [...]MetricID{MetricSaveLatency, MetricSaveFailureLatency}

func isHistogram(id MetricID) bool {
	return id == MetricSaveLatency || id == MetricSaveFailureLatency
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters. A nil or disabled Metrics ignores updates.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram of id. Only the save latency ids carry histograms.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || !isHistogram(id) {
		return
	}
	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, len(histogramMetrics)),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for _, id := range histogramMetrics {
			buckets := make([]uint64, histBucketCount)
			for i := 0; i < histBucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}

	return s
}

// recorder adapts Metrics to the store's counter interface.
type recorder struct {
	m *Metrics
}

func (r recorder) Inc(c session.Counter) {
	if c >= session.CounterCount {
		return
	}
	r.m.Inc(counterMetrics[c])
}

func (r recorder) ObserveSave(d time.Duration, err error) {
	if err != nil {
		r.m.Observe(MetricSaveFailureLatency, d)
		return
	}
	r.m.Observe(MetricSaveLatency, d)
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 1:
		return 0
	case ms <= 2:
		return 1
	case ms <= 5:
		return 2
	case ms <= 10:
		return 3
	case ms <= 25:
		return 4
	case ms <= 50:
		return 5
	case ms <= 100:
		return 6
	default:
		return 7
	}
}
