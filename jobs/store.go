package jobs

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Outcome classifies what Apply did with a snapshot.
type Outcome int

const (
	// Applied means the snapshot replaced the cached record.
	Applied Outcome = iota
	// Stale means the snapshot was discarded because it is not newer than
	// the cached record. Normal under at-least-once delivery.
	Stale
	// Anomaly means the snapshot was newer but violated the state machine
	// (terminal revival or backward move). Discarded, never applied.
	Anomaly
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Stale:
		return "stale"
	case Anomaly:
		return "anomaly"
	}
	return "unknown"
}

// ApplyResult is the verdict of one reconciliation attempt.
type ApplyResult struct {
	Outcome Outcome
	// Reason is set for Stale and Anomaly outcomes, for diagnostics.
	Reason string
}

// Store is an in-memory cache of job records keyed by ID. It is the only
// mutable shared state in the client; all mutation goes through Apply so
// there is exactly one writer path. Consumers get copies, never pointers
// into the cache.
type Store struct {
	mu     sync.RWMutex
	jobs   map[string]Job
	subs   map[int]chan Job
	nextID int
	logger *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets a custom logger for the store.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore creates an empty job store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		jobs:   make(map[string]Job),
		subs:   make(map[int]chan Job),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Apply reconciles an incoming snapshot against the cache:
//
//   - no cached record → accept;
//   - updated_at not strictly newer → Stale (discard; applying the same
//     snapshot twice is a no-op);
//   - newer but the status move violates the state machine → Anomaly
//     (discard, reported distinctly so diagnostics can tell it apart from
//     a normal stale discard);
//   - otherwise → accept, last write wins, no field-level merge.
//
// Accepted snapshots are fanned out to subscribers.
func (s *Store) Apply(snap Job) ApplyResult {
	if snap.ID == "" {
		return ApplyResult{Outcome: Anomaly, Reason: "snapshot without job id"}
	}
	if !snap.Status.Valid() {
		return ApplyResult{Outcome: Anomaly, Reason: fmt.Sprintf("unknown status %q", snap.Status)}
	}

	s.mu.Lock()
	cur, exists := s.jobs[snap.ID]
	if exists {
		if !snap.UpdatedAt.After(cur.UpdatedAt) {
			s.mu.Unlock()
			return ApplyResult{
				Outcome: Stale,
				Reason:  fmt.Sprintf("updated_at %s not newer than cached %s", snap.UpdatedAt.Format("15:04:05.000"), cur.UpdatedAt.Format("15:04:05.000")),
			}
		}
		if !CanTransition(cur.Status, snap.Status) {
			s.mu.Unlock()
			reason := fmt.Sprintf("illegal transition %s -> %s", cur.Status, snap.Status)
			s.logger.Warn("job store: snapshot rejected", "job_id", snap.ID, "reason", reason)
			return ApplyResult{Outcome: Anomaly, Reason: reason}
		}
	}
	s.jobs[snap.ID] = snap
	subs := make([]chan Job, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	// Non-blocking fan-out: a slow subscriber drops updates instead of
	// stalling the writer path. Subscribers re-read the store anyway.
	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
		}
	}
	return ApplyResult{Outcome: Applied}
}

// Seed applies a bulk list fetch through the normal reconciliation path and
// returns how many snapshots were accepted.
func (s *Store) Seed(snaps []Job) int {
	applied := 0
	for _, snap := range snaps {
		if res := s.Apply(snap); res.Outcome == Applied {
			applied++
		}
	}
	return applied
}

// Get returns a copy of the cached job, if any.
func (s *Store) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	return j, ok
}

// List returns cached jobs sorted by created_at descending (newest first,
// the dashboard order). limit <= 0 means all.
func (s *Store) List(limit int) []Job {
	s.mu.RLock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.After(out[k].CreatedAt)
		}
		return out[i].ID < out[k].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Len returns the number of cached jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Subscribe registers for accepted snapshots. The returned cancel func must
// be called when the consumer goes away; it closes the channel.
func (s *Store) Subscribe() (<-chan Job, func()) {
	ch := make(chan Job, 64)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}
