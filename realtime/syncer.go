// Package realtime keeps the job store eventually consistent with the
// backend. The primary channel is a persistent WebSocket subscription
// carrying job snapshots; a per-job polling fallback covers connection loss
// and jobs created before the channel attached. Both paths feed the same
// reconciliation entry point, so a stale or duplicated delivery is simply
// discarded.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/Denter-/extraction-monitor/diag"
	"github.com/Denter-/extraction-monitor/jobs"
)

// JobGetter fetches one job's current snapshot. *client.Client satisfies it.
type JobGetter interface {
	Get(ctx context.Context, id string) (jobs.Job, error)
}

// Config tunes the syncer.
type Config struct {
	// BaseURL is the backend base URL ("http://host:port"); the WebSocket
	// endpoint is derived from it.
	BaseURL string
	// Token authenticates the WebSocket upgrade (query parameter, matching
	// the backend's contract).
	Token string
	// PollInterval is the per-job polling frequency. Default: 2s.
	PollInterval time.Duration
	// ReconnectBackoff is the initial reconnect delay. Default: 1s.
	ReconnectBackoff time.Duration
	// MaxReconnectDelay caps the exponential backoff. Default: 30s.
	MaxReconnectDelay time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = time.Second
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Syncer owns the push subscription and the polling fallback for one store.
type Syncer struct {
	getter JobGetter
	store  *jobs.Store
	sink   diag.Sink
	cfg    Config
	dialer *websocket.Dialer
}

// New creates a Syncer. Call Run to start it.
func New(getter JobGetter, store *jobs.Store, sink diag.Sink, cfg Config) *Syncer {
	cfg.defaults()
	if sink == nil {
		sink = diag.Nop{}
	}
	return &Syncer{
		getter: getter,
		store:  store,
		sink:   sink,
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Run drives the push loop and the poll manager until ctx is cancelled.
// Always returns ctx.Err()'s cause; neither loop fails the other.
func (s *Syncer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.pushLoop(ctx)
		return nil
	})
	g.Go(func() error {
		s.pollLoop(ctx)
		return nil
	})
	return g.Wait()
}

// apply routes a snapshot through the store and records the outcome.
func (s *Syncer) apply(snap jobs.Job, source string) jobs.ApplyResult {
	res := s.store.Apply(snap)
	s.sink.RecordAsync(diag.Event{
		JobID:   snap.ID,
		Source:  source,
		Outcome: res.Outcome.String(),
		Detail:  res.Reason,
	})
	if res.Outcome == jobs.Anomaly {
		s.cfg.Logger.Warn("protocol anomaly discarded",
			"job_id", snap.ID, "source", source, "reason", res.Reason)
	}
	return res
}

// wsURL derives the WebSocket endpoint from the backend base URL.
func (s *Syncer) wsURL() string {
	u := s.cfg.BaseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	u = strings.TrimRight(u, "/") + "/api/v1/ws"
	if s.cfg.Token != "" {
		u += "?token=" + url.QueryEscape(s.cfg.Token)
	}
	return u
}

// envelope is one server-initiated push message.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// pushLoop maintains the WebSocket subscription, reconnecting with
// exponential backoff. A reconnect never triggers a re-fetch: the channel
// only carries deltas, and anything missed is covered by polling plus the
// reconciliation rule discarding whatever arrives late.
func (s *Syncer) pushLoop(ctx context.Context) {
	log := s.cfg.Logger
	backoff := s.cfg.ReconnectBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := s.dialer.DialContext(ctx, s.wsURL(), nil)
		if err != nil {
			log.Warn("push channel dial failed", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
				backoff *= 2
				if backoff > s.cfg.MaxReconnectDelay {
					backoff = s.cfg.MaxReconnectDelay
				}
			case <-ctx.Done():
				return
			}
			continue
		}

		log.Info("push channel connected")
		backoff = s.cfg.ReconnectBackoff
		s.readLoop(ctx, conn)

		if ctx.Err() != nil {
			return
		}
		log.Info("push channel disconnected, will reconnect")
	}
}

// readLoop consumes messages until the connection breaks or ctx ends.
func (s *Syncer) readLoop(ctx context.Context, conn *websocket.Conn) {
	log := s.cfg.Logger

	// ReadMessage has no context; close the connection to unblock it.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("push channel read failed", "error", err)
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn("push channel: undecodable message", "error", err)
			continue
		}

		switch env.Type {
		case "job_update":
			var snap jobs.Job
			if err := json.Unmarshal(env.Payload, &snap); err != nil {
				log.Warn("push channel: bad job payload", "error", err)
				continue
			}
			s.apply(snap, "push")
		case "connected":
			log.Debug("push channel handshake complete")
		default:
			log.Debug("push channel: ignoring message", "type", env.Type)
		}
	}
}
