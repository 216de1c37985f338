package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	shell "github.com/eugener/shellcache/internal"
	"github.com/eugener/shellcache/internal/cache"
	"github.com/eugener/shellcache/internal/config"
	"github.com/eugener/shellcache/internal/controller"
	"github.com/eugener/shellcache/internal/manifest"
	"github.com/eugener/shellcache/internal/origin"
	"github.com/eugener/shellcache/internal/server"
	"github.com/eugener/shellcache/internal/storage/sqlite"
	"github.com/eugener/shellcache/internal/telemetry"
	"github.com/eugener/shellcache/internal/worker"
)

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting shellcache", "version", version, "addr", cfg.Server.Addr,
		"origin", cfg.Origin.BaseURL, "generation", cfg.Cache.Generation)

	// Open database
	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	// Validate precache lists
	man, err := manifest.FromConfig(cfg.Precache)
	if err != nil {
		return err
	}

	// Tracing
	ctx := context.Background()
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
	}

	// Metrics
	var metrics *telemetry.Metrics
	var promReg *prometheus.Registry
	if cfg.Telemetry.Metrics.Enabled {
		promReg = prometheus.NewRegistry()
		metrics = telemetry.NewMetrics(promReg)
	}

	// Origin client, behind cached DNS when configured
	var resolver *dnscache.Resolver
	if cfg.Origin.DNSCacheTTL > 0 {
		resolver = &dnscache.Resolver{}
	}
	client := origin.New(cfg.Origin.BaseURL, cfg.Origin.Timeout, cfg.Origin.MaxBodyBytes, resolver)

	// Cache tiers
	mem, err := cache.NewMemory(cfg.Cache.MemoryMaxEntries)
	if err != nil {
		return err
	}
	entries := cache.NewTiered(mem, store)

	// Controller and workers
	ctrl := controller.New(entries, store, client, man, metrics)

	revalidator := worker.NewRevalidator(cfg.Cache.RefreshQueueSize, cfg.Cache.RefreshWorkers, ctrl.Refresh, metrics)
	ctrl.SetScheduler(revalidator)

	workers := []worker.Worker{revalidator}

	var recorder *worker.FetchLogRecorder
	retention := cfg.FetchLog.Retention
	if cfg.FetchLog.Enabled {
		recorder = worker.NewFetchLogRecorder(store)
		workers = append(workers, recorder)
	} else {
		retention = 0
	}
	workers = append(workers, worker.NewSweeper(store, retention, ctrl.CurrentVersion))
	if resolver != nil {
		workers = append(workers, worker.NewDNSRefresher(resolver, cfg.Origin.DNSCacheTTL))
	}

	// Bring the configured generation into service. Install failures are
	// absorbed: a prior generation (or pass-through) keeps serving.
	if err := ctrl.Startup(ctx, cfg.Cache.Generation); err != nil {
		return err
	}

	// Create HTTP server
	deps := server.Deps{
		Controller: ctrl,
		Origin:     client,
		Store:      store,
		ReadyCheck: store.Ping,
		Metrics:    metrics,
	}
	if recorder != nil {
		deps.FetchLog = recorder
	}
	if cfg.Admin.Key != "" {
		deps.AdminKeyHash = shell.HashKey(cfg.Admin.Key)
	}
	handler := server.New(deps)

	root := http.NewServeMux()
	if promReg != nil {
		root.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	}
	root.Handle("/", handler)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start workers
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- worker.NewRunner(workers...).Run(workerCtx)
	}()

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("shellcache ready", "addr", cfg.Server.Addr, "state", ctrl.State().String())

	// Wait for signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	}

	// Shutdown: stop accepting traffic, then let the workers drain.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	stopWorkers()
	if err := <-workerDone; err != nil {
		slog.Warn("worker error during shutdown", "error", err)
	}

	slog.Info("shellcache stopped")
	return nil
}
