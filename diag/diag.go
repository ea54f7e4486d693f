// Package diag persists reconciliation outcomes to a local SQLite database
// so protocol anomalies (snapshots violating the job state machine) stay
// distinguishable from normal stale discards after the fact. Recording is
// asynchronous and lossy under pressure: a failing diagnostics store never
// blocks the sync path.
package diag

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Schema for the sync_events table. Applied by Recorder.Init.
const Schema = `
CREATE TABLE IF NOT EXISTS sync_events (
	event_id   TEXT PRIMARY KEY,
	job_id     TEXT NOT NULL,
	source     TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sync_events_job ON sync_events(job_id);
CREATE INDEX IF NOT EXISTS idx_sync_events_anomaly ON sync_events(created_at) WHERE outcome = 'anomaly';
`

// Event is one reconciliation outcome to record.
type Event struct {
	JobID   string
	Source  string // "push", "poll", "seed", "create"
	Outcome string // jobs.Outcome.String(): "applied", "stale", "anomaly"
	Detail  string
}

// Sink receives events. The zero-cost implementation is Nop.
type Sink interface {
	RecordAsync(Event)
}

// Nop discards every event. Used in tests and when diagnostics are
// disabled.
type Nop struct{}

func (Nop) RecordAsync(Event) {}

// StoredEvent is a persisted event as read back from the database.
type StoredEvent struct {
	EventID   string    `json:"event_id"`
	JobID     string    `json:"job_id"`
	Source    string    `json:"source"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// Recorder batches events into SQLite from a background goroutine.
type Recorder struct {
	db   *sql.DB
	ch   chan Event
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Open opens (creating directories as needed) the diagnostics database with
// pragmas suited to a single-writer event log.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create diag dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// NewRecorder creates a recorder backed by the given database and starts
// its flush goroutine.
func NewRecorder(db *sql.DB) *Recorder {
	r := &Recorder{
		db:   db,
		ch:   make(chan Event, 1024),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go r.flushLoop()
	return r
}

// Init creates the sync_events table if it doesn't exist.
func (r *Recorder) Init() error {
	_, err := r.db.Exec(Schema)
	return err
}

// RecordAsync queues an event for persistence. Never blocks: it drops when
// the buffer is full, and events arriving after Close are silently lost.
func (r *Recorder) RecordAsync(e Event) {
	select {
	case r.ch <- e:
	default:
		// buffer full — drop rather than backpressure the sync path
	}
}

// Close drains the buffer and stops the flush goroutine. The database is
// not closed; the caller owns it.
func (r *Recorder) Close() error {
	r.once.Do(func() {
		close(r.stop)
		<-r.done
	})
	return nil
}

func (r *Recorder) flushLoop() {
	defer close(r.done)

	batch := make([]Event, 0, 64)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case e := <-r.ch:
			batch = append(batch, e)
			if len(batch) >= 64 {
				r.flushBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flushBatch(batch)
				batch = batch[:0]
			}
		case <-r.stop:
			for {
				select {
				case e := <-r.ch:
					batch = append(batch, e)
				default:
					r.flushBatch(batch)
					return
				}
			}
		}
	}
}

func (r *Recorder) flushBatch(batch []Event) {
	if len(batch) == 0 {
		return
	}

	tx, err := r.db.Begin()
	if err != nil {
		slog.Error("diag recorder: begin tx", "error", err)
		return
	}
	stmt, err := tx.Prepare(`INSERT INTO sync_events (event_id, job_id, source, outcome, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		slog.Error("diag recorder: prepare", "error", err)
		return
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, e := range batch {
		eventID := "evt_" + uuid.Must(uuid.NewV7()).String()
		if _, err := stmt.Exec(eventID, e.JobID, e.Source, e.Outcome, e.Detail, now); err != nil {
			slog.Error("diag recorder: insert", "error", err)
		}
	}
	if err := tx.Commit(); err != nil {
		slog.Error("diag recorder: commit", "error", err)
	}
}

// Anomalies returns the most recent protocol anomalies, newest first.
func (r *Recorder) Anomalies(ctx context.Context, limit int) ([]StoredEvent, error) {
	return r.query(ctx, `SELECT event_id, job_id, source, outcome, detail, created_at
		FROM sync_events WHERE outcome = 'anomaly' ORDER BY created_at DESC, event_id DESC LIMIT ?`, limit)
}

// Recent returns the most recent events of any outcome, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]StoredEvent, error) {
	return r.query(ctx, `SELECT event_id, job_id, source, outcome, detail, created_at
		FROM sync_events ORDER BY created_at DESC, event_id DESC LIMIT ?`, limit)
}

func (r *Recorder) query(ctx context.Context, q string, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("diag query: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var e StoredEvent
		var ts int64
		if err := rows.Scan(&e.EventID, &e.JobID, &e.Source, &e.Outcome, &e.Detail, &ts); err != nil {
			return nil, fmt.Errorf("diag scan: %w", err)
		}
		e.CreatedAt = time.UnixMilli(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}
