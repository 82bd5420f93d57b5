package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/animus-labs/swapval/internal/config"
	"github.com/animus-labs/swapval/internal/platform/httpserver"
	"github.com/animus-labs/swapval/internal/service/runs"
)

var version = "dev"

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("invalid config", "error", err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		logger.Error("backends unavailable", "error", err)
		os.Exit(1)
	}
	defer b.close()

	runsCfg, err := cfg.RunsConfig(logger, b.auditor)
	if err != nil {
		logger.Error("invalid pricing config", "error", err)
		os.Exit(2)
	}
	svc, err := runs.New(b.runs, b.snapshots, b.artifacts, runsCfg)
	if err != nil {
		logger.Error("run service init failed", "error", err)
		os.Exit(2)
	}
	logger.Info("run service ready",
		"store", cfg.Store,
		"artifacts", cfg.Artifacts,
		"model_version", cfg.ModelVersion,
		"model_hash", svc.ModelHash(),
	)
	svc.Start(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(cfg.Service, version))
	checks := append(b.checks, httpserver.ReadinessCheck{
		Name:   "runs",
		Check:  svc.Ready,
		Detail: func() any { return svc.Stats() },
	})
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks(cfg.Service, checks...))

	serverCfg := httpserver.Config{
		Service:         cfg.Service,
		Addr:            cfg.HTTPAddr,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
	serveErr := httpserver.Run(ctx, logger, serverCfg, httpserver.Wrap(logger, cfg.Service, mux))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error("run service shutdown", "error", err)
	}

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		logger.Error("server failed", "error", serveErr)
		os.Exit(1)
	}
}
