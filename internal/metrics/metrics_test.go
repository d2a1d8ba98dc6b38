package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/matteso1/kvs/internal/storage"
)

func TestMetrics_RecordGet(t *testing.T) {
	m := NewMetrics()

	m.RecordGet(true, 2*time.Millisecond)
	m.RecordGet(false, 1*time.Millisecond)
	m.RecordGet(true, 3*time.Millisecond)

	snap := m.Snapshot()

	if snap.Gets != 3 {
		t.Errorf("expected 3 gets, got %d", snap.Gets)
	}
	if snap.GetMisses != 1 {
		t.Errorf("expected 1 miss, got %d", snap.GetMisses)
	}
}

func TestMetrics_RecordSetRemove(t *testing.T) {
	m := NewMetrics()

	m.RecordSet(10, time.Millisecond)
	m.RecordSet(5, time.Millisecond)
	m.RecordRemove(true, time.Millisecond)
	m.RecordRemove(false, time.Millisecond)

	snap := m.Snapshot()

	if snap.Sets != 2 || snap.BytesWritten != 15 {
		t.Errorf("expected 2 sets of 15 bytes, got %d sets of %d bytes", snap.Sets, snap.BytesWritten)
	}
	if snap.Removes != 2 || snap.RemoveMisses != 1 {
		t.Errorf("expected 2 removes with 1 miss, got %d with %d", snap.Removes, snap.RemoveMisses)
	}
}

func TestMetrics_InFlight(t *testing.T) {
	m := NewMetrics()

	m.RequestStarted()
	m.RequestStarted()
	m.RequestStarted()
	m.RequestFinished()

	if got := m.Snapshot().InFlight; got != 2 {
		t.Errorf("expected 2 in-flight requests, got %d", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()

	m.RecordGet(false, 5*time.Millisecond)
	m.RecordSet(100, 3*time.Millisecond)
	m.RecordError()
	m.RecordCompaction()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	m.Handler()(rec, req)

	body := rec.Body.String()

	checks := []string{
		"kvs_uptime_seconds",
		"kvs_gets_total 1",
		"kvs_get_misses_total 1",
		"kvs_sets_total 1",
		"kvs_bytes_written_total 100",
		"kvs_compaction_requests_total 1",
		"kvs_errors_total 1",
		"kvs_get_latency_ms 5.00",
	}

	for _, check := range checks {
		if !strings.Contains(body, check) {
			t.Errorf("expected %q in metrics output", check)
		}
	}
	if strings.Contains(body, "kvs_remove_latency_ms") {
		t.Error("expected no remove latency before any remove")
	}
	if strings.Contains(body, "kvs_store_keys") {
		t.Error("expected no store gauges without a stats source")
	}
}

func TestMetrics_StoreGauges(t *testing.T) {
	m := NewMetrics()
	m.SetStatsSource(func() storage.Stats {
		return storage.Stats{Keys: 7, Segments: 2, TotalBytes: 300, LiveBytes: 200, GarbageBytes: 100}
	})

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	m.Handler()(rec, req)

	body := rec.Body.String()

	for _, check := range []string{
		"kvs_store_keys 7",
		"kvs_store_segments 2",
		"kvs_store_bytes 300",
		"kvs_store_garbage_bytes 100",
	} {
		if !strings.Contains(body, check) {
			t.Errorf("expected %q in metrics output", check)
		}
	}
}
