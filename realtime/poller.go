package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Denter-/extraction-monitor/client"
	"github.com/Denter-/extraction-monitor/diag"
	"github.com/Denter-/extraction-monitor/jobs"
)

// jobPoller polls one job on a fixed interval until the locally-known
// status turns terminal. The stop latch is one-way: once set it is never
// re-armed, even if stale non-terminal snapshots arrive afterwards.
type jobPoller struct {
	jobID    string
	getter   JobGetter
	store    *jobs.Store
	sink     diag.Sink
	interval time.Duration
	logger   *slog.Logger

	stopOnce sync.Once
	stopped  chan struct{}
}

func newJobPoller(jobID string, s *Syncer) *jobPoller {
	return &jobPoller{
		jobID:    jobID,
		getter:   s.getter,
		store:    s.store,
		sink:     s.sink,
		interval: s.cfg.PollInterval,
		logger:   s.cfg.Logger,
		stopped:  make(chan struct{}),
	}
}

// stop sets the latch. Safe to call any number of times from any goroutine.
func (p *jobPoller) stop() {
	p.stopOnce.Do(func() { close(p.stopped) })
}

// run ticks until the latch is set or ctx ends. Failures for this job never
// propagate: the next tick retries, and other jobs' pollers are unaffected.
func (p *jobPoller) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopped:
			return
		case <-ticker.C:
			// Latch on the cached status, not the fetched snapshot: a stale
			// non-terminal poll result must not keep a finished job polling.
			if cur, ok := p.store.Get(p.jobID); ok && cur.Status.Terminal() {
				p.stop()
				return
			}

			reqCtx, cancel := context.WithTimeout(ctx, p.interval)
			snap, err := p.getter.Get(reqCtx, p.jobID)
			cancel()
			if err != nil {
				switch {
				case errors.Is(err, context.Canceled):
				case errors.Is(err, client.ErrNotFound):
					p.logger.Warn("poll: job unknown to backend", "job_id", p.jobID)
				case errors.Is(err, client.ErrUnauthorized):
					// Credentials won't heal on retry, but another component
					// owns surfacing that; this poller just goes quiet.
					p.logger.Error("poll: unauthorized", "job_id", p.jobID)
					p.stop()
					return
				default:
					p.logger.Warn("poll failed", "job_id", p.jobID, "error", err)
				}
				continue
			}

			res := p.store.Apply(snap)
			p.sink.RecordAsync(diag.Event{
				JobID:   p.jobID,
				Source:  "poll",
				Outcome: res.Outcome.String(),
				Detail:  res.Reason,
			})

			if cur, ok := p.store.Get(p.jobID); ok && cur.Status.Terminal() {
				p.logger.Info("poll: job reached terminal state", "job_id", p.jobID, "status", cur.Status)
				p.stop()
				return
			}
		}
	}
}

// pollLoop watches the store and keeps exactly one poller per non-terminal
// job. A job whose poller has stopped is never given a new one — the map
// retains the stopped entry as the permanent latch.
func (s *Syncer) pollLoop(ctx context.Context) {
	events, unsubscribe := s.store.Subscribe()
	defer unsubscribe()

	pollers := make(map[string]*jobPoller)
	var wg sync.WaitGroup

	ensure := func(j jobs.Job) {
		if p, ok := pollers[j.ID]; ok {
			if j.Status.Terminal() {
				p.stop()
			}
			return
		}
		if j.Status.Terminal() {
			return
		}
		p := newJobPoller(j.ID, s)
		pollers[j.ID] = p
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.run(ctx)
		}()
		s.cfg.Logger.Debug("poller started", "job_id", j.ID)
	}

	for _, j := range s.store.List(0) {
		ensure(j)
	}

	for {
		select {
		case <-ctx.Done():
			for _, p := range pollers {
				p.stop()
			}
			wg.Wait()
			return
		case j, ok := <-events:
			if !ok {
				return
			}
			ensure(j)
		}
	}
}
