package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matteso1/kvs/internal/storage"
)

// Metrics collects and exposes Prometheus-style metrics for the key-value
// service.
type Metrics struct {
	// Counters
	gets         atomic.Uint64
	getMisses    atomic.Uint64
	sets         atomic.Uint64
	bytesWritten atomic.Uint64
	removes      atomic.Uint64
	removeMisses atomic.Uint64
	compactions  atomic.Uint64
	errorsTotal  atomic.Uint64

	// Gauges
	inFlight atomic.Int64

	// Histograms (simplified as averages)
	getLatency    latency
	setLatency    latency
	removeLatency latency

	mu    sync.RWMutex
	stats func() storage.Stats

	startTime time.Time
}

type latency struct {
	sum atomic.Uint64 // microseconds
	n   atomic.Uint64
}

func (l *latency) record(d time.Duration) {
	l.sum.Add(uint64(d.Microseconds()))
	l.n.Add(1)
}

// averageMs returns the mean latency in milliseconds and whether any sample exists.
func (l *latency) averageMs() (float64, bool) {
	n := l.n.Load()
	if n == 0 {
		return 0, false
	}
	return float64(l.sum.Load()) / float64(n) / 1000.0, true
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// RecordGet records a get. found is false when the key was missing.
func (m *Metrics) RecordGet(found bool, d time.Duration) {
	m.gets.Add(1)
	if !found {
		m.getMisses.Add(1)
	}
	m.getLatency.record(d)
}

// RecordSet records a set of a value of the given size.
func (m *Metrics) RecordSet(bytes int, d time.Duration) {
	m.sets.Add(1)
	m.bytesWritten.Add(uint64(bytes))
	m.setLatency.record(d)
}

// RecordRemove records a remove. found is false when the key was missing.
func (m *Metrics) RecordRemove(found bool, d time.Duration) {
	m.removes.Add(1)
	if !found {
		m.removeMisses.Add(1)
	}
	m.removeLatency.record(d)
}

// RecordCompaction records a compaction requested through the service.
func (m *Metrics) RecordCompaction() {
	m.compactions.Add(1)
}

// RecordError records an error.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// RequestStarted increments the in-flight request gauge.
func (m *Metrics) RequestStarted() {
	m.inFlight.Add(1)
}

// RequestFinished decrements the in-flight request gauge.
func (m *Metrics) RequestFinished() {
	m.inFlight.Add(-1)
}

// SetStatsSource registers a function that reports storage statistics on
// every scrape.
func (m *Metrics) SetStatsSource(fn func() storage.Stats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = fn
}

func writeMetric(w io.Writer, name, kind, help string, value interface{}) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	switch v := value.(type) {
	case float64:
		fmt.Fprintf(w, "%s %.2f\n\n", name, v)
	default:
		fmt.Fprintf(w, "%s %d\n\n", name, v)
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		writeMetric(w, "kvs_uptime_seconds", "gauge", "Time since server started", time.Since(m.startTime).Seconds())

		writeMetric(w, "kvs_gets_total", "counter", "Total get requests", m.gets.Load())
		writeMetric(w, "kvs_get_misses_total", "counter", "Get requests for missing keys", m.getMisses.Load())
		writeMetric(w, "kvs_sets_total", "counter", "Total set requests", m.sets.Load())
		writeMetric(w, "kvs_bytes_written_total", "counter", "Total value bytes written", m.bytesWritten.Load())
		writeMetric(w, "kvs_removes_total", "counter", "Total remove requests", m.removes.Load())
		writeMetric(w, "kvs_remove_misses_total", "counter", "Remove requests for missing keys", m.removeMisses.Load())
		writeMetric(w, "kvs_compaction_requests_total", "counter", "Compactions requested by clients", m.compactions.Load())
		writeMetric(w, "kvs_errors_total", "counter", "Total errors", m.errorsTotal.Load())
		writeMetric(w, "kvs_requests_in_flight", "gauge", "Requests currently being served", m.inFlight.Load())

		if avg, ok := m.getLatency.averageMs(); ok {
			writeMetric(w, "kvs_get_latency_ms", "gauge", "Average get latency", avg)
		}
		if avg, ok := m.setLatency.averageMs(); ok {
			writeMetric(w, "kvs_set_latency_ms", "gauge", "Average set latency", avg)
		}
		if avg, ok := m.removeLatency.averageMs(); ok {
			writeMetric(w, "kvs_remove_latency_ms", "gauge", "Average remove latency", avg)
		}

		m.mu.RLock()
		stats := m.stats
		m.mu.RUnlock()
		if stats == nil {
			return
		}

		s := stats()
		writeMetric(w, "kvs_store_keys", "gauge", "Live keys", s.Keys)
		writeMetric(w, "kvs_store_segments", "gauge", "Segment files on disk", s.Segments)
		writeMetric(w, "kvs_store_generation", "gauge", "Current segment generation", s.CurrentGeneration)
		writeMetric(w, "kvs_store_bytes", "gauge", "Bytes in segment files", s.TotalBytes)
		writeMetric(w, "kvs_store_live_bytes", "gauge", "Bytes of live records", s.LiveBytes)
		writeMetric(w, "kvs_store_garbage_bytes", "gauge", "Bytes of superseded records", s.GarbageBytes)
		writeMetric(w, "kvs_store_compactions_total", "counter", "Compactions run by the store", s.Compactions)
		writeMetric(w, "kvs_store_reclaimed_bytes_total", "counter", "Bytes reclaimed by compaction", s.ReclaimedBytes)
	}
}

// Snapshot returns current metric values.
type Snapshot struct {
	Gets          uint64
	GetMisses     uint64
	Sets          uint64
	BytesWritten  uint64
	Removes       uint64
	RemoveMisses  uint64
	Compactions   uint64
	ErrorsTotal   uint64
	InFlight      int64
	UptimeSeconds float64
}

// Snapshot returns a snapshot of current metrics.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Gets:          m.gets.Load(),
		GetMisses:     m.getMisses.Load(),
		Sets:          m.sets.Load(),
		BytesWritten:  m.bytesWritten.Load(),
		Removes:       m.removes.Load(),
		RemoveMisses:  m.removeMisses.Load(),
		Compactions:   m.compactions.Load(),
		ErrorsTotal:   m.errorsTotal.Load(),
		InFlight:      m.inFlight.Load(),
		UptimeSeconds: time.Since(m.startTime).Seconds(),
	}
}
