package jobs

import (
	"testing"
	"time"
)

func snap(id string, status Status, updatedAt time.Time) Job {
	return Job{
		ID:        id,
		URL:       "https://example.com/a",
		Status:    status,
		CreatedAt: updatedAt.Add(-time.Minute),
		UpdatedAt: updatedAt,
	}
}

func TestStoreApply_NewJob(t *testing.T) {
	// WHAT: A snapshot for an unknown job is applied as-is.
	// WHY: The first sighting of a job needs no prior state to validate
	// against.
	s := NewStore()
	res := s.Apply(snap("j1", StatusQueued, time.Now()))
	if res.Outcome != Applied {
		t.Fatalf("Apply new job = %v (%s), want applied", res.Outcome, res.Reason)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestStoreApply_LastWriteWins(t *testing.T) {
	// WHAT: A strictly newer snapshot replaces the cached record wholesale.
	// WHY: Snapshots are authoritative; there is no field-level merging.
	s := NewStore()
	t0 := time.Now()

	s.Apply(snap("j1", StatusQueued, t0))
	newer := snap("j1", StatusProcessing, t0.Add(time.Second))
	newer.ProgressPercent = 40
	if res := s.Apply(newer); res.Outcome != Applied {
		t.Fatalf("newer snapshot = %v (%s), want applied", res.Outcome, res.Reason)
	}
	got, _ := s.Get("j1")
	if got.Status != StatusProcessing || got.ProgressPercent != 40 {
		t.Errorf("cached = %s/%d%%, want processing/40%%", got.Status, got.ProgressPercent)
	}
}

func TestStoreApply_StaleDiscarded(t *testing.T) {
	// WHAT: A snapshot whose updated_at is not strictly newer is discarded.
	// WHY: Push and polling deliver overlapping updates; out-of-order
	// arrivals must not regress the cache.
	s := NewStore()
	t0 := time.Now()

	s.Apply(snap("j1", StatusProcessing, t0.Add(time.Second)))
	if res := s.Apply(snap("j1", StatusQueued, t0)); res.Outcome != Stale {
		t.Errorf("older snapshot = %v, want stale", res.Outcome)
	}
	got, _ := s.Get("j1")
	if got.Status != StatusProcessing {
		t.Errorf("cached status = %s, want processing", got.Status)
	}
}

func TestStoreApply_EqualTimestampStale(t *testing.T) {
	// WHAT: A snapshot with updated_at equal to the cached record is stale.
	// WHY: Applying the same snapshot twice must be a no-op — push and
	// polling routinely deliver duplicates.
	s := NewStore()
	t0 := time.Now()
	dup := snap("j1", StatusProcessing, t0)

	if res := s.Apply(dup); res.Outcome != Applied {
		t.Fatalf("first apply = %v, want applied", res.Outcome)
	}
	if res := s.Apply(dup); res.Outcome != Stale {
		t.Errorf("duplicate apply = %v, want stale", res.Outcome)
	}
}

func TestStoreApply_AnomalyTerminalRevival(t *testing.T) {
	// WHAT: A newer snapshot moving a terminal job back to a live state is
	// rejected as an anomaly, not a stale discard.
	// WHY: Diagnostics must distinguish a backend bug from normal
	// at-least-once delivery noise.
	s := NewStore()
	t0 := time.Now()

	s.Apply(snap("j1", StatusCompleted, t0))
	res := s.Apply(snap("j1", StatusProcessing, t0.Add(time.Second)))
	if res.Outcome != Anomaly {
		t.Fatalf("terminal revival = %v, want anomaly", res.Outcome)
	}
	if res.Reason == "" {
		t.Error("anomaly should carry a reason")
	}
	got, _ := s.Get("j1")
	if got.Status != StatusCompleted {
		t.Errorf("cached status = %s, want completed (anomaly must not apply)", got.Status)
	}
}

func TestStoreApply_AnomalyBackwardMove(t *testing.T) {
	// WHAT: A newer snapshot moving backward in the pipeline is an anomaly.
	// WHY: Timestamps alone can't catch a backend emitting wrong states.
	s := NewStore()
	t0 := time.Now()

	s.Apply(snap("j1", StatusExtracting, t0))
	if res := s.Apply(snap("j1", StatusQueued, t0.Add(time.Second))); res.Outcome != Anomaly {
		t.Errorf("backward move = %v, want anomaly", res.Outcome)
	}
}

func TestStoreApply_RejectsInvalid(t *testing.T) {
	// WHAT: Snapshots without an ID or with an unknown status are anomalies.
	// WHY: Malformed wire data must never enter the cache.
	s := NewStore()
	if res := s.Apply(Job{Status: StatusQueued, UpdatedAt: time.Now()}); res.Outcome != Anomaly {
		t.Errorf("missing id = %v, want anomaly", res.Outcome)
	}
	if res := s.Apply(snap("j1", "warming_up", time.Now())); res.Outcome != Anomaly {
		t.Errorf("unknown status = %v, want anomaly", res.Outcome)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestStoreSeed(t *testing.T) {
	// WHAT: Seed routes a bulk fetch through Apply and counts acceptances.
	// WHY: The initial list must obey the same reconciliation rules as
	// realtime updates.
	s := NewStore()
	t0 := time.Now()
	s.Apply(snap("j1", StatusCompleted, t0.Add(time.Hour)))

	n := s.Seed([]Job{
		snap("j1", StatusProcessing, t0), // older than cached: stale
		snap("j2", StatusQueued, t0),
		snap("j3", StatusFailed, t0),
	})
	if n != 2 {
		t.Errorf("Seed applied %d, want 2", n)
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}
}

func TestStoreList_Order(t *testing.T) {
	// WHAT: List returns newest-created first and honors the limit.
	// WHY: The dashboard shows the most recent jobs at the top.
	s := NewStore()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		j := snap(id, StatusQueued, base.Add(time.Duration(i)*time.Hour))
		j.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		s.Apply(j)
	}

	list := s.List(2)
	if len(list) != 2 {
		t.Fatalf("List(2) returned %d jobs", len(list))
	}
	if list[0].ID != "c" || list[1].ID != "b" {
		t.Errorf("List order = %s, %s; want c, b", list[0].ID, list[1].ID)
	}
	if got := len(s.List(0)); got != 3 {
		t.Errorf("List(0) returned %d jobs, want all 3", got)
	}
}

func TestStoreGet_ReturnsCopy(t *testing.T) {
	// WHAT: Mutating a Get result does not affect the cache.
	// WHY: Consumers must not share memory with the writer path.
	s := NewStore()
	s.Apply(snap("j1", StatusQueued, time.Now()))

	got, _ := s.Get("j1")
	got.Status = StatusFailed
	again, _ := s.Get("j1")
	if again.Status != StatusQueued {
		t.Errorf("cache mutated through Get copy: status = %s", again.Status)
	}
}

func TestStoreSubscribe(t *testing.T) {
	// WHAT: Subscribers see applied snapshots; stale ones are not fanned out.
	// WHY: The poll manager keys poller lifecycle off accepted updates only.
	s := NewStore()
	ch, cancel := s.Subscribe()
	defer cancel()

	t0 := time.Now()
	s.Apply(snap("j1", StatusQueued, t0))
	s.Apply(snap("j1", StatusQueued, t0)) // duplicate: stale, no fan-out

	select {
	case j := <-ch:
		if j.ID != "j1" {
			t.Errorf("got update for %s, want j1", j.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("no update received for applied snapshot")
	}
	select {
	case j := <-ch:
		t.Errorf("unexpected second update %s for stale snapshot", j.ID)
	default:
	}
}

func TestStoreSubscribe_CancelIdempotent(t *testing.T) {
	// WHAT: Calling the cancel func twice is safe.
	// WHY: Shutdown paths often run cancel through defer and explicit calls.
	s := NewStore()
	_, cancel := s.Subscribe()
	cancel()
	cancel()
}
