// File: cmd/hioload-mux/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// hioload-mux daemon: opens the endpoints listed in a YAML config, runs the
// dispatch loop with an echo handler and exposes Prometheus metrics.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/momentics/hioload-mux/config"
	"github.com/momentics/hioload-mux/control"
	"github.com/momentics/hioload-mux/dispatch"
	"github.com/momentics/hioload-mux/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "hioload-mux: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("hioload-mux", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the YAML configuration")
	logLevel := fs.String("log-level", "", "override log.level (debug, info, warn, error)")
	logFormat := fs.String("log-format", "", "override log.format (text, json)")
	metricsAddr := fs.String("metrics", "", "override metrics.listen")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *metricsAddr != "" {
		cfg.Metrics.Listen = *metricsAddr
	}

	logger, err := control.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	metrics, err := control.NewMetrics(promReg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	reg, err := registry.New(registry.WithLogger(logger), registry.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	defer reg.Close()
	logger = logger.With("registry", reg.ID().String())

	names, err := openEndpoints(reg, cfg.Endpoints, logger)
	if err != nil {
		return err
	}

	probes := control.NewDebugProbes()
	probes.Register("endpoints", func() any { return reg.Snapshot() })
	probes.Register("handles", func() any { return reg.Len() })

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if cfg.Metrics.Listen != "" {
		srv = serveMetrics(cfg.Metrics.Listen, promReg, logger)
	}

	loop := dispatch.New(reg, &echoHandler{names: names, logger: logger}, dispatch.Options{
		Timeout:    cfg.Poll.Timeout,
		BufferSize: cfg.Poll.BufferSize,
		Logger:     logger,
	})
	logger.Info("dispatch loop started", "endpoints", reg.Len())
	loopErr := loop.Run(ctx)

	logger.Info("shutting down", "probes", probes)
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}
	return loopErr
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
