package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/apirelay/gateway/config"
	"github.com/apirelay/gateway/internal/admission"
	"github.com/apirelay/gateway/internal/circuitbreaker"
	"github.com/apirelay/gateway/internal/gateway"
	"github.com/apirelay/gateway/internal/httpserver"
	"github.com/apirelay/gateway/internal/jsonstream"
	"github.com/apirelay/gateway/internal/metrics"
	"github.com/apirelay/gateway/pkg/logger"
)

const metricsBufferSize = 1024

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	promRegistry := prometheus.NewRegistry()

	registry := circuitbreaker.NewRegistry(breakerConfig(cfg.CircuitBreaker), logger.Component(log, "circuitbreaker"))
	registry.AddObserver(circuitbreaker.NewLogObserver(logger.Component(log, "circuitbreaker")))
	registry.AddObserver(circuitbreaker.NewPrometheusObserver("apirelay", promRegistry))
	registry.StartReporting(ctx, config.Duration(cfg.CircuitBreaker.ReportInterval))

	controller := admission.NewController(admissionConfig(cfg.Admission), logger.Component(log, "admission"))
	controller.UseMetrics(admission.NewPrometheusStats("apirelay", promRegistry))
	controller.StartStatsLoop(ctx)
	defer controller.Shutdown()

	collector := metrics.NewCollector(metricsBufferSize, logger.Component(log, "metrics"))
	collector.Start(ctx)

	targets, err := gateway.NewTargets(upstreamURLs(cfg))
	if err != nil {
		log.Error("Failed to initialize upstream targets", slog.Any("err", err))
		os.Exit(1)
	}

	if cfg.Admission.WarmupConnections {
		for _, t := range targets {
			controller.Warmup(ctx, t.Origin(), cfg.Admission.MaxConcurrentPerOrigin)
		}
	}

	rotation := gateway.NewRotation(targets, registry)
	gatewayHandler := gateway.NewHandler(log, rotation, registry, controller, validatorConfig(cfg.Validator), collector)

	router := setupRouter(gatewayHandler, collector, registry, promRegistry)

	srv, err := httpserver.New(cfg.Server.Address, router)
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)

	go func() {
		srvErrCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting gateway", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

func upstreamURLs(cfg *config.Config) []string {
	urls := make([]string, 0, len(cfg.Upstreams))
	for _, u := range cfg.Upstreams {
		urls = append(urls, u.URL)
	}
	return urls
}

func breakerConfig(cfg config.CircuitBreakerConfig) circuitbreaker.Config {
	return circuitbreaker.Config{
		FailureThreshold: cfg.FailureThreshold,
		SuccessThreshold: cfg.SuccessThreshold,
		RecoveryTimeout:  config.Duration(cfg.RecoveryTimeout),
		RequestTimeout:   config.Duration(cfg.RequestTimeout),
		MonitoringWindow: config.Duration(cfg.MonitoringWindow),
	}
}

func admissionConfig(cfg config.AdmissionConfig) admission.Config {
	return admission.Config{
		MaxConcurrentPerOrigin: cfg.MaxConcurrentPerOrigin,
		MaxConnections:         cfg.MaxConnections,
		KeepAliveTimeout:       config.Duration(cfg.KeepAliveTimeout),
		ConnectTimeout:         config.Duration(cfg.ConnectTimeout),
		StatsInterval:          config.Duration(cfg.StatsInterval),
	}
}

func validatorConfig(cfg config.ValidatorConfig) jsonstream.Config {
	return jsonstream.Config{
		MaxChunkSize:   cfg.MaxChunkSize,
		MaxTotalSize:   cfg.MaxTotalSize,
		MaxDepth:       cfg.MaxJSONDepth,
		MaxArrayLength: cfg.MaxArrayLength,
		ChunkTimeout:   config.Duration(cfg.ChunkTimeout),
	}
}
