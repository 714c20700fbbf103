package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBookingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)
	m.ObserveRequest("create", "ok")
	m.ObserveRequest("create", "ok")
	m.ObserveRequest("create", "slot_full")
	m.ObserveMirrorTask("mirror.patient.upsert", "queued")
	m.ObserveLockWait("global", 20*time.Millisecond)

	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("create", "ok")); got != 2 {
		t.Fatalf("expected 2 ok creates, got %v", got)
	}
	if got := testutil.CollectAndCount(m.requestsTotal); got != 2 {
		t.Fatalf("expected 2 series, got %d", got)
	}
}

func TestBookingMetricsNilSafe(t *testing.T) {
	var m *BookingMetrics
	m.ObserveRequest("create", "ok")
	m.ObserveLockWait("global", time.Second)
	m.ObserveMirrorTask("task", "ok")
}

func TestTakeSnapshot(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)
	m.ObserveRequest("create", "ok")
	m.ObserveRequest("cancel", "reserveId_not_found")
	m.ObserveMirrorTask("feed.reservation.changed", "failed")
	for i := 0; i < 10; i++ {
		m.ObserveLockWait("global", 3*time.Millisecond)
	}

	snap := TakeSnapshot(reg)
	if snap.Requests["create"]["ok"] != 1 || snap.Requests["cancel"]["reserveId_not_found"] != 1 {
		t.Fatalf("unexpected request counts: %#v", snap.Requests)
	}
	if snap.MirrorTasks["feed.reservation.changed"]["failed"] != 1 {
		t.Fatalf("unexpected mirror counts: %#v", snap.MirrorTasks)
	}
	if snap.LockWait.Total != 10 {
		t.Fatalf("expected 10 lock waits, got %d", snap.LockWait.Total)
	}
	if snap.LockWait.P95Ms <= 1 || snap.LockWait.P95Ms > 5 {
		t.Fatalf("expected p95 within the 1-5ms bucket, got %v", snap.LockWait.P95Ms)
	}
}

func TestTakeSnapshotEmptyRegistry(t *testing.T) {
	snap := TakeSnapshot(prometheus.NewRegistry())
	if len(snap.Requests) != 0 || snap.LockWait.Total != 0 {
		t.Fatalf("expected empty snapshot, got %#v", snap)
	}
}
