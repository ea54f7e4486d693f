package diag

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "diag.db"))
	if err != nil {
		t.Fatalf("open diag db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	r := NewRecorder(db)
	if err := r.Init(); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return r
}

func TestRecorder_RoundTrip(t *testing.T) {
	// WHAT: Recorded events come back with their fields and generated IDs.
	// WHY: The diagnostics endpoints read exactly what the sync path wrote.
	r := newTestRecorder(t)

	r.RecordAsync(Event{JobID: "j1", Source: "push", Outcome: "applied"})
	r.RecordAsync(Event{JobID: "j1", Source: "poll", Outcome: "stale", Detail: "updated_at not newer"})
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	events, err := r.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	for _, e := range events {
		if e.JobID != "j1" {
			t.Errorf("job_id = %q, want j1", e.JobID)
		}
		if len(e.EventID) < 5 || e.EventID[:4] != "evt_" {
			t.Errorf("event_id = %q, want evt_ prefix", e.EventID)
		}
		if e.CreatedAt.IsZero() {
			t.Errorf("created_at not set on %q", e.EventID)
		}
	}
}

func TestRecorder_AnomaliesDistinct(t *testing.T) {
	// WHAT: The anomaly query returns only anomaly outcomes.
	// WHY: The whole point of the log is telling protocol anomalies apart
	// from routine stale discards.
	r := newTestRecorder(t)

	r.RecordAsync(Event{JobID: "j1", Source: "push", Outcome: "applied"})
	r.RecordAsync(Event{JobID: "j1", Source: "push", Outcome: "stale"})
	r.RecordAsync(Event{JobID: "j2", Source: "poll", Outcome: "anomaly", Detail: "illegal transition completed -> queued"})
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	anomalies, err := r.Anomalies(context.Background(), 10)
	if err != nil {
		t.Fatalf("anomalies: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("got %d anomalies, want 1", len(anomalies))
	}
	if anomalies[0].JobID != "j2" || anomalies[0].Detail == "" {
		t.Errorf("anomaly = %+v", anomalies[0])
	}
}

func TestRecorder_CloseDrains(t *testing.T) {
	// WHAT: Close flushes everything still buffered.
	// WHY: Shutdown must not silently drop the tail of the event log.
	r := newTestRecorder(t)
	for i := 0; i < 200; i++ {
		r.RecordAsync(Event{JobID: "j1", Source: "poll", Outcome: "applied"})
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	events, err := r.Recent(context.Background(), 500)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 200 {
		t.Errorf("got %d events after drain, want 200", len(events))
	}
}

func TestRecorder_CloseIdempotent(t *testing.T) {
	// WHAT: Closing twice is safe.
	// WHY: Both defer and explicit shutdown paths may call Close.
	r := newTestRecorder(t)
	r.Close()
	r.Close()
}

func TestRecorder_RecordAfterCloseDoesNotBlock(t *testing.T) {
	// WHAT: RecordAsync never blocks, even racing shutdown.
	// WHY: A diagnostics sink must not stall the sync path, ever.
	r := newTestRecorder(t)
	r.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.RecordAsync(Event{JobID: "j1", Source: "push", Outcome: "applied"})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RecordAsync blocked after Close")
	}
}

func TestNopSink(t *testing.T) {
	// WHAT: The nop sink accepts events and discards them.
	// WHY: Diagnostics are optional; callers always have a sink to call.
	var s Sink = Nop{}
	s.RecordAsync(Event{JobID: "j1"})
}
