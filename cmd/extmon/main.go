// Command extmon runs the extraction monitoring service: it mirrors the
// backend's job list into a local store, keeps it current over the push
// channel with a polling fallback, and serves the dashboard API.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Denter-/extraction-monitor/client"
	"github.com/Denter-/extraction-monitor/dashboard"
	"github.com/Denter-/extraction-monitor/diag"
	"github.com/Denter-/extraction-monitor/jobs"
	"github.com/Denter-/extraction-monitor/realtime"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("extmon exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config, logger *slog.Logger) error {
	var copts []client.Option
	copts = append(copts, client.WithLogger(logger))
	if cfg.Token != "" {
		copts = append(copts, client.WithBearerToken(cfg.Token))
	} else if cfg.APIKey != "" {
		copts = append(copts, client.WithAPIKey(cfg.APIKey))
	}
	backend := client.New(cfg.BackendURL, copts...)

	store := jobs.NewStore(jobs.WithLogger(logger))

	// The initial bulk fetch is the one call that must succeed: without it
	// the monitor would present an empty dashboard as if no work existed.
	seedCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	list, total, err := backend.List(seedCtx, cfg.SeedLimit, 0)
	if err != nil {
		return err
	}
	seeded := store.Seed(list)
	logger.Info("job store seeded", "seeded", seeded, "backend_total", total)

	var sink diag.Sink = diag.Nop{}
	var recorder *diag.Recorder
	if cfg.DiagDB != "" {
		db, err := diag.Open(cfg.DiagDB)
		if err != nil {
			return err
		}
		defer db.Close()
		recorder = diag.NewRecorder(db)
		if err := recorder.Init(); err != nil {
			return err
		}
		defer recorder.Close()
		sink = recorder
		logger.Info("diagnostics enabled", "path", cfg.DiagDB)
	}

	syncer := realtime.New(backend, store, sink, realtime.Config{
		BaseURL:      cfg.BackendURL,
		Token:        cfg.Token,
		PollInterval: cfg.pollInterval(),
		Logger:       logger,
	})
	syncDone := make(chan error, 1)
	go func() { syncDone <- syncer.Run(ctx) }()

	dopts := []dashboard.Option{dashboard.WithSink(sink), dashboard.WithLogger(logger)}
	if recorder != nil {
		dopts = []dashboard.Option{dashboard.WithRecorder(recorder), dashboard.WithLogger(logger)}
	}
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: dashboard.New(store, backend, dopts...).Routes(),
	}

	httpDone := make(chan error, 1)
	go func() {
		logger.Info("dashboard listening", "addr", cfg.ListenAddr)
		httpDone <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-httpDone:
		return err
	}

	logger.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Warn("dashboard shutdown", "error", err)
	}
	if err := <-syncDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if err := <-httpDone; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
