package main

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/apirelay/gateway/internal/circuitbreaker"
	"github.com/apirelay/gateway/internal/metrics"
)

func setupRouter(gatewayHandler http.Handler, metricsCollector *metrics.Collector, registry *circuitbreaker.Registry, promRegistry *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/", gatewayHandler)
	mux.HandleFunc("/metrics", metricsCollector.Handler())
	mux.Handle("/metrics/prometheus", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", healthHandler(registry))
	mux.HandleFunc("/admin/circuit-breakers/reset", resetHandler(registry))

	return mux
}

func healthHandler(registry *circuitbreaker.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := registry.HealthReport()

		w.Header().Set("Content-Type", "application/json")
		if !report.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(report)
	}
}

func resetHandler(registry *circuitbreaker.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		name := r.URL.Query().Get("name")
		if name == "" {
			registry.ResetAll()
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !registry.Reset(name) {
			http.Error(w, "unknown circuit breaker", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
