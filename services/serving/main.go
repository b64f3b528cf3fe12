// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// The serving service scores housing-price predictions over HTTP, watches
// live traffic for distribution drift, and splits traffic between a
// champion and a challenger model.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/Bellwether/pkg/extensions"
	"github.com/AleutianAI/Bellwether/pkg/logging"
	"github.com/AleutianAI/Bellwether/services/serving/config"
	"github.com/AleutianAI/Bellwether/services/serving/datatypes"
	"github.com/AleutianAI/Bellwether/services/serving/drift"
	"github.com/AleutianAI/Bellwether/services/serving/middleware"
	"github.com/AleutianAI/Bellwether/services/serving/model"
	"github.com/AleutianAI/Bellwether/services/serving/observability"
	"github.com/AleutianAI/Bellwether/services/serving/routes"
	"github.com/AleutianAI/Bellwether/services/serving/routing"
	"github.com/AleutianAI/Bellwether/services/serving/serving"
	"github.com/AleutianAI/Bellwether/services/serving/storage/predlog"
	"github.com/AleutianAI/Bellwether/services/serving/telemetry"
)

// serviceVersion is stamped by the build; the default marks dev builds.
var serviceVersion = "0.0.0-dev"

func main() {
	cfg, err := config.Load(os.Getenv("BELLWETHER_CONFIG"))
	if err != nil {
		log.Fatalf("FATAL: configuration: %v", err)
	}

	plog := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		Service: "serving",
		JSON:    cfg.Logging.Format != "text",
	})
	defer plog.Close()
	logger := plog.Slog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "bellwether-serving",
		ServiceVersion: serviceVersion,
		Environment:    cfg.Telemetry.Environment,
		TraceExporter:  cfg.Telemetry.TraceExporter,
		MetricExporter: cfg.Telemetry.MetricExporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		log.Fatalf("FATAL: telemetry: %v", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Error("telemetry shutdown", "error", err)
		}
	}()

	metrics := observability.InitMetrics()
	audit := observability.NewAudit(logger)

	registry, closeRegistry, err := openRegistry(ctx, cfg.Registry)
	if err != nil {
		log.Fatalf("FATAL: model registry: %v", err)
	}
	defer closeRegistry()

	manager := model.NewManager(registry, logger)

	// The champion and the reference load concurrently; either failure
	// aborts boot. The challenger is best effort.
	var reference *drift.Reference
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		meta, err := manager.LoadInitial(gctx, datatypes.RoleChampion, cfg.Registry.ChampionAlias)
		if err != nil {
			return fmt.Errorf("load champion %q: %w", cfg.Registry.ChampionAlias, err)
		}
		slog.Info("champion loaded", "alias", meta.Alias, "version", meta.Version)
		return nil
	})
	g.Go(func() error {
		ref, err := drift.LoadReference(cfg.Drift.ReferencePath)
		if err != nil {
			return fmt.Errorf("load reference %s: %w", cfg.Drift.ReferencePath, err)
		}
		reference = ref
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	if cfg.Registry.ChallengerAlias != "" {
		if meta, err := manager.LoadInitial(ctx, datatypes.RoleChallenger, cfg.Registry.ChallengerAlias); err != nil {
			slog.Warn("challenger unavailable, split routing starts disabled",
				"alias", cfg.Registry.ChallengerAlias, "error", err)
		} else {
			slog.Info("challenger loaded", "alias", meta.Alias, "version", meta.Version)
		}
	}

	router, err := routing.NewRouter(manager, cfg.Routing.TrafficSplit, cfg.Routing.Enabled, logger)
	if err != nil {
		log.Fatalf("FATAL: router: %v", err)
	}

	buffer := drift.NewRollingBuffer(cfg.Drift.BufferThreshold)
	analyzer, err := drift.NewAnalyzer(reference, drift.AnalyzerConfig{
		Comparator:           cfg.Drift.Comparator,
		FieldThreshold:       cfg.Drift.FieldThreshold,
		SevereFieldThreshold: cfg.Drift.SevereFieldThreshold,
		DatasetThreshold:     cfg.Drift.DatasetThreshold,
		MinBatch:             cfg.Drift.MinBatch,
	}, logger)
	if err != nil {
		log.Fatalf("FATAL: drift analyzer: %v", err)
	}
	monitor := drift.NewMonitor(buffer, analyzer, drift.MonitorConfig{
		HeartbeatInterval: cfg.Drift.HeartbeatInterval,
		HistorySize:       cfg.Drift.HistorySize,
		Disabled:          !cfg.Drift.Enabled,
	}, logger)
	monitor.Start(ctx)
	defer monitor.Stop()
	defer buffer.Close()

	store, err := predlog.Open(predlog.Config{
		Path:      cfg.Storage.Path,
		InMemory:  cfg.Storage.InMemory,
		Retention: cfg.Storage.Retention,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		log.Fatalf("FATAL: prediction log: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("prediction log close", "error", err)
		}
	}()

	var sink observability.MetricsSink = observability.NopSink{}
	if cfg.Sink.URL != "" {
		influx := observability.NewInfluxSink(cfg.Sink.URL, cfg.Sink.Token, cfg.Sink.Org, cfg.Sink.Bucket, logger)
		defer influx.Close()
		sink = influx
	}

	ctrl, err := serving.NewController(serving.Options{
		Manager:       manager,
		Router:        router,
		Buffer:        buffer,
		Monitor:       monitor,
		PredictionLog: store,
		Reference:     reference,
		Sink:          sink,
		Metrics:       metrics,
		Audit:         audit,
		Logger:        logger,
		DriftDisabled: !cfg.Drift.Enabled,
	})
	if err != nil {
		log.Fatalf("FATAL: controller: %v", err)
	}
	defer ctrl.Close()

	provider, err := newKeyProvider(cfg.Auth)
	if err != nil {
		log.Fatalf("FATAL: key provider: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("bellwether-serving"))
	engine.Use(middleware.RequestID())
	routes.SetupRoutes(engine, ctrl, routes.Options{
		Provider:   provider,
		Audit:      audit,
		Metrics:    metrics,
		AdminRPS:   cfg.AdminRate.RPS,
		AdminBurst: cfg.AdminRate.Burst,
	})

	// Runtime reconfiguration: split and enabled are the only knobs the
	// watcher applies; everything else needs a restart.
	if path := os.Getenv("BELLWETHER_CONFIG"); path != "" {
		watcher, err := config.NewWatcher(path, func(next config.Config) {
			if err := router.Configure(next.Routing.TrafficSplit, next.Routing.Enabled); err != nil {
				slog.Warn("rejected runtime routing change", "error", err)
				return
			}
			audit.RouterChange("config-file", next.Routing.TrafficSplit, next.Routing.Enabled, "localhost")
		}, logger)
		if err != nil {
			log.Fatalf("FATAL: config watcher: %v", err)
		}
		if err := watcher.Start(); err != nil {
			slog.Warn("config watcher disabled", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           metricsHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("metrics listener up", "port", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics listener failed", "error", err)
		}
	}()
	go func() {
		slog.Info("serving listener up", "port", cfg.Server.Port, "version", serviceVersion)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("FATAL: server: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down", "grace", cfg.Server.ShutdownGrace)

	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()
	if err := apiServer.Shutdown(sctx); err != nil {
		slog.Error("server shutdown", "error", err)
	}
	if err := metricsServer.Shutdown(sctx); err != nil {
		slog.Error("metrics shutdown", "error", err)
	}
}

// openRegistry builds the configured registry implementation.
func openRegistry(ctx context.Context, cfg config.RegistryConfig) (model.Registry, func(), error) {
	switch cfg.Type {
	case "gcs":
		reg, err := model.NewGCSRegistry(ctx, cfg.Bucket, cfg.Prefix, cfg.CacheDir, cfg.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return reg, func() {
			if err := reg.Close(); err != nil {
				slog.Error("registry close", "error", err)
			}
		}, nil
	default:
		reg, err := model.NewFSRegistry(cfg.Root)
		if err != nil {
			return nil, nil, err
		}
		return reg, func() {}, nil
	}
}

// newKeyProvider seals the configured keys, or falls back to the open
// local-operator provider when none are set.
func newKeyProvider(cfg config.AuthConfig) (extensions.KeyProvider, error) {
	if cfg.StandardKey == "" && cfg.PrivilegedKey == "" {
		slog.Warn("no API keys configured, all requests authenticate as local-operator")
		return &extensions.NopKeyProvider{}, nil
	}
	return extensions.NewStaticKeyProvider(cfg.StandardKey, cfg.PrivilegedKey)
}

// metricsHandler prefers the telemetry-managed handler (which includes the
// otel meters) and falls back to the plain promhttp handler.
func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	h := telemetry.MetricsHandler()
	if h == nil {
		h = promhttp.Handler()
	}
	mux.Handle("/metrics", h)
	return mux
}
